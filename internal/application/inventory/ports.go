package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	dominventory "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
)

var (
	// ErrIdempotencyUnavailable fails a keyed decrement closed: without the store a replay could
	// decrement twice.
	ErrIdempotencyUnavailable = fmt.Errorf("inventory: idempotency store: %w", apperr.ErrUpstreamUnavailable)
	ErrDuplicateInFlight      = fmt.Errorf("inventory: request with this idempotency key is in flight: %w", apperr.ErrConflict)
)

// ProductCache is best-effort: callers treat every error as a miss.
type ProductCache interface {
	Get(ctx context.Context, productID string) (*dominventory.Product, bool, error)
	Set(ctx context.Context, p *dominventory.Product, ttl time.Duration) error
	Delete(ctx context.Context, productID string) error
}

// IdempotencyStore keeps short-lived locks and remembered results per (scope, key).
type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}
