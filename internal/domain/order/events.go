package order

import "time"

// OrderPaidEvent is emitted once the stock for a paid order has been committed in full.
type OrderPaidEvent struct {
	OrderID    string    `json:"order_id"`
	OwnerID    string    `json:"owner_id"`
	TotalPrice string    `json:"total_price"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (OrderPaidEvent) EventName() string { return "order.paid" }
func (e OrderPaidEvent) EventKey() string { return e.OrderID }

func NewOrderPaidEvent(o *Order, at time.Time) OrderPaidEvent {
	return OrderPaidEvent{
		OrderID:    o.ID,
		OwnerID:    o.OwnerID,
		TotalPrice: o.TotalPrice.StringFixed(2),
		OccurredAt: at.UTC(),
	}
}

type OrderPaymentFailedEvent struct {
	OrderID    string    `json:"order_id"`
	OwnerID    string    `json:"owner_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (OrderPaymentFailedEvent) EventName() string { return "order.payment_failed" }
func (e OrderPaymentFailedEvent) EventKey() string { return e.OrderID }

func NewOrderPaymentFailedEvent(o *Order, at time.Time) OrderPaymentFailedEvent {
	reason := ""
	if o.PaymentResult != nil {
		reason = o.PaymentResult.Message
	}
	return OrderPaymentFailedEvent{
		OrderID:    o.ID,
		OwnerID:    o.OwnerID,
		Reason:     reason,
		OccurredAt: at.UTC(),
	}
}

// OrderReconciliationRequiredEvent is emitted when a paid order could not commit its stock.
type OrderReconciliationRequiredEvent struct {
	OrderID    string        `json:"order_id"`
	TicketID   string        `json:"ticket_id"`
	Commits    []StockCommit `json:"commits"`
	OccurredAt time.Time     `json:"occurred_at"`
}

func (OrderReconciliationRequiredEvent) EventName() string { return "order.reconciliation_required" }
func (e OrderReconciliationRequiredEvent) EventKey() string { return e.OrderID }

type OrderCancelledEvent struct {
	OrderID      string    `json:"order_id"`
	FollowUpOwed bool      `json:"follow_up_owed"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func (OrderCancelledEvent) EventName() string { return "order.cancelled" }
func (e OrderCancelledEvent) EventKey() string { return e.OrderID }
