// Package paymob is the Paymob Accept adapter: the three-call payment handshake and the
// HMAC-authenticated transaction webhook.
package paymob

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	apppayment "github.com/Zhima-Mochi/minishop-saga/internal/application/payment"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/peer"
)

const (
	Name = "paymob"

	DefaultBaseURL       = "https://accept.paymob.com"
	DefaultIframeBaseURL = "https://accept.paymob.com/api/acceptance/iframes"

	pathAuth        = "/api/auth/tokens"
	pathOrders      = "/api/ecommerce/orders"
	pathPaymentKeys = "/api/acceptance/payment_keys"

	paymentKeyExpiry = 3600
	notAvailable     = "NA"
)

type Config struct {
	APIKey        string
	IntegrationID int
	IframeID      string
	IframeBaseURL string
	// HMACSecret enables callback verification; empty accepts every callback.
	HMACSecret string
}

type Gateway struct {
	c   *peer.Client
	cfg Config
}

// New wraps a peer client pointed at the Paymob API base URL.
func New(c *peer.Client, cfg Config) *Gateway {
	if cfg.IframeBaseURL == "" {
		cfg.IframeBaseURL = DefaultIframeBaseURL
	}
	return &Gateway{c: c, cfg: cfg}
}

func (g *Gateway) Name() string { return Name }

type authRequest struct {
	APIKey string `json:"api_key"`
}

type authResponse struct {
	Token string `json:"token"`
}

type orderRequest struct {
	AuthToken       string `json:"auth_token"`
	DeliveryNeeded  bool   `json:"delivery_needed"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
	MerchantOrderID string `json:"merchant_order_id"`
	Items           []any  `json:"items"`
}

type orderResponse struct {
	ID int64 `json:"id"`
}

type billingData struct {
	Apartment      string `json:"apartment"`
	Email          string `json:"email"`
	Floor          string `json:"floor"`
	FirstName      string `json:"first_name"`
	Street         string `json:"street"`
	Building       string `json:"building"`
	PhoneNumber    string `json:"phone_number"`
	ShippingMethod string `json:"shipping_method"`
	PostalCode     string `json:"postal_code"`
	City           string `json:"city"`
	Country        string `json:"country"`
	LastName       string `json:"last_name"`
	State          string `json:"state"`
}

type paymentKeyRequest struct {
	AuthToken         string      `json:"auth_token"`
	AmountCents       int64       `json:"amount_cents"`
	Expiration        int         `json:"expiration"`
	OrderID           int64       `json:"order_id"`
	BillingData       billingData `json:"billing_data"`
	Currency          string      `json:"currency"`
	IntegrationID     int         `json:"integration_id"`
	LockOrderWhenPaid string      `json:"lock_order_when_paid"`
}

type paymentKeyResponse struct {
	Token string `json:"token"`
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return notAvailable
	}
	return s
}

func toBilling(b dompayment.BillingData) billingData {
	b = b.Normalized()
	return billingData{
		Apartment:      b.Apartment,
		Email:          b.Email,
		Floor:          b.Floor,
		FirstName:      orNA(b.FirstName),
		Street:         orNA(b.Street),
		Building:       b.Building,
		PhoneNumber:    b.Phone,
		ShippingMethod: notAvailable,
		PostalCode:     b.PostalCode,
		City:           b.City,
		Country:        b.Country,
		LastName:       orNA(b.LastName),
		State:          b.State,
	}
}

// Register authenticates, registers the merchant order and requests a payment key.
func (g *Gateway) Register(ctx context.Context, req apppayment.RegisterRequest) (*apppayment.Registration, error) {
	var auth authResponse
	if err := g.c.Do(ctx, http.MethodPost, pathAuth, nil, authRequest{APIKey: g.cfg.APIKey}, &auth); err != nil {
		return nil, fmt.Errorf("paymob: authenticate: %w", err)
	}
	if auth.Token == "" {
		return nil, fmt.Errorf("paymob: authenticate: empty token")
	}

	// Paymob rejects a repeated merchant_order_id, so a retry after a lost response would report a
	// registered order as failed. The caller retries the whole handshake under a fresh id instead.
	var order orderResponse
	err := g.c.DoOnce(ctx, http.MethodPost, pathOrders, nil, orderRequest{
		AuthToken:       auth.Token,
		AmountCents:     req.AmountCents,
		Currency:        req.Currency,
		MerchantOrderID: req.MerchantOrderID,
		Items:           []any{},
	}, &order)
	if err != nil {
		return nil, fmt.Errorf("paymob: register order: %w", err)
	}
	if order.ID == 0 {
		return nil, fmt.Errorf("paymob: register order: no order id")
	}

	var key paymentKeyResponse
	err = g.c.Do(ctx, http.MethodPost, pathPaymentKeys, nil, paymentKeyRequest{
		AuthToken:         auth.Token,
		AmountCents:       req.AmountCents,
		Expiration:        paymentKeyExpiry,
		OrderID:           order.ID,
		BillingData:       toBilling(req.Billing),
		Currency:          req.Currency,
		IntegrationID:     g.cfg.IntegrationID,
		LockOrderWhenPaid: "true",
	}, &key)
	if err != nil {
		return nil, fmt.Errorf("paymob: payment key: %w", err)
	}
	if key.Token == "" {
		return nil, fmt.Errorf("paymob: payment key: empty token")
	}

	iframe := fmt.Sprintf("%s/%s?payment_token=%s",
		strings.TrimRight(g.cfg.IframeBaseURL, "/"), url.PathEscape(g.cfg.IframeID), url.QueryEscape(key.Token))
	return &apppayment.Registration{
		GatewayOrderID: fmt.Sprint(order.ID),
		Redirect:       dompayment.Redirect{PaymentToken: key.Token, IframeURL: iframe},
	}, nil
}
