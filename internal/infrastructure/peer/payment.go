package peer

import (
	"context"
	"net/http"
	"net/url"

	apporder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/shopspring/decimal"
)

// InitiateRequest is the body of POST /payments/initiate/{gateway}.
type InitiateRequest struct {
	OrderID     string                 `json:"orderId" validate:"required"`
	UserID      string                 `json:"userId" validate:"required"`
	Amount      decimal.Decimal        `json:"amount"`
	Currency    string                 `json:"currency,omitempty"`
	BillingData dompayment.BillingData `json:"billingData"`
}

// Payments starts gateway payments through the payment service.
type Payments struct {
	c       *Client
	gateway string
}

func NewPayments(c *Client, gateway string) *Payments {
	return &Payments{c: c, gateway: gateway}
}

func (p *Payments) Initiate(ctx context.Context, req apporder.PaymentRequest) (*dompayment.Redirect, error) {
	// Retries are safe: the payment service hands back an order's pending payment rather than
	// registering a second one.
	headers := map[string]string{HeaderIdempotencyKey: apporder.PaymentInitiateKey(req.OrderID)}
	var redirect dompayment.Redirect
	err := p.c.Do(ctx, http.MethodPost, "/payments/initiate/"+url.PathEscape(p.gateway), headers, InitiateRequest{
		OrderID:     req.OrderID,
		UserID:      req.OwnerID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		BillingData: req.Billing,
	}, &redirect)
	if err != nil {
		return nil, err
	}
	return &redirect, nil
}
