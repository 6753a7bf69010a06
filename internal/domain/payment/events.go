package payment

import "time"

type FinalizedEvent struct {
	PaymentID      string    `json:"payment_id"`
	OrderID        string    `json:"order_id"`
	OwnerID        string    `json:"owner_id"`
	Status         Status    `json:"status"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	GatewayOrderID string    `json:"gateway_order_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventName distinguishes the two outcomes so downstream mailers can subscribe to one.
func (e FinalizedEvent) EventName() string {
	if e.Status == StatusSuccessful {
		return "payment.succeeded"
	}
	return "payment.failed"
}

func (e FinalizedEvent) EventKey() string { return e.OrderID }

func NewFinalizedEvent(p *Payment) FinalizedEvent {
	return FinalizedEvent{
		PaymentID:      p.ID,
		OrderID:        p.OrderID,
		OwnerID:        p.OwnerID,
		Status:         p.Status,
		AmountCents:    p.AmountCents,
		Currency:       p.Currency,
		GatewayOrderID: p.GatewayOrderID,
		OccurredAt:     time.Now().UTC(),
	}
}

// CallbackUnmatchedEvent flags a gateway callback with no payment record for investigation.
type CallbackUnmatchedEvent struct {
	Gateway        string    `json:"gateway"`
	GatewayOrderID string    `json:"gateway_order_id"`
	TransactionID  string    `json:"transaction_id"`
	Success        bool      `json:"success"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (CallbackUnmatchedEvent) EventName() string { return "payment.callback_unmatched" }
func (e CallbackUnmatchedEvent) EventKey() string { return e.GatewayOrderID }
