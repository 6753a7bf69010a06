package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
)

var (
	// ErrInvalidSignature is returned by a gateway when a callback fails authentication.
	ErrInvalidSignature = errors.New("payment: invalid callback signature")
	// ErrIdempotencyUnavailable fails an initiate closed: without the lock two requests for one
	// order could both reach the gateway.
	ErrIdempotencyUnavailable = fmt.Errorf("payment: idempotency store: %w", apperr.ErrUpstreamUnavailable)
	ErrInitiateInFlight       = fmt.Errorf("payment: initiate for this order is in flight: %w", apperr.ErrConflict)
)

// InitiateLocks serialises initiates per order. The inventory idempotency store satisfies it.
type InitiateLocks interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
}

type IDGenerator interface {
	NewID() string
}

type RegisterRequest struct {
	// MerchantOrderID is unique per payment attempt; the gateway echoes it back on its own order.
	MerchantOrderID string
	AmountCents     int64
	Currency        string
	Billing         dompayment.BillingData
}

type Registration struct {
	GatewayOrderID string
	Redirect       dompayment.Redirect
}

// Callback is the gateway-neutral view of one webhook delivery.
type Callback struct {
	GatewayOrderID string
	TransactionID  string
	Success        bool
	Pending        bool
	AmountCents    int64
	Currency       string
	Message        string
	CreatedAt      string
}

// Gateway is the outbound port to a payment provider.
type Gateway interface {
	Name() string
	// Register runs the provider handshake and returns the customer redirect.
	Register(ctx context.Context, req RegisterRequest) (*Registration, error)
	// ParseCallback decodes and authenticates a webhook body. A bad signature yields ErrInvalidSignature.
	ParseCallback(body []byte, signature string) (Callback, error)
}

// Notifier pushes a finalized outcome to the order service.
type Notifier interface {
	Notify(ctx context.Context, outcome dompayment.Outcome) error
}
