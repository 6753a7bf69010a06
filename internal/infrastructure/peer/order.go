package peer

import (
	"context"
	"net/http"
	"net/url"

	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
)

// PaymentResultBody is the gateway detail carried on a payment-status push.
type PaymentResultBody struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	UpdateTime     string `json:"update_time"`
	GatewayOrderID string `json:"gatewayOrderId"`
	Message        string `json:"message,omitempty"`
	AmountCents    int64  `json:"amount_cents,omitempty"`
	Currency       string `json:"currency,omitempty"`
}

// PaymentStatusRequest is the body of PUT /orders/{id}/payment-status.
type PaymentStatusRequest struct {
	Status        string            `json:"status" validate:"required,oneof=successful failed"`
	PaymentResult PaymentResultBody `json:"paymentResult"`
}

// Orders pushes payment outcomes to the order service.
type Orders struct {
	c *Client
}

func NewOrders(c *Client) *Orders { return &Orders{c: c} }

func (o *Orders) Notify(ctx context.Context, out dompayment.Outcome) error {
	return o.c.Do(ctx, http.MethodPut, "/orders/"+url.PathEscape(out.OrderID)+"/payment-status", nil, PaymentStatusRequest{
		Status: string(out.Status),
		PaymentResult: PaymentResultBody{
			ID:             out.TransactionID,
			Status:         string(out.Status),
			UpdateTime:     out.UpdateTime,
			GatewayOrderID: out.GatewayOrderID,
			Message:        out.Message,
			AmountCents:    out.AmountCents,
			Currency:       out.Currency,
		},
	}, nil)
}
