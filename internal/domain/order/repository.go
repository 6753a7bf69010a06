package order

import "context"

// Repository persists orders. Update is guarded by Version: a stale write returns ErrConflict
// and bumps Version on success.
type Repository interface {
	Insert(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, order *Order) error
	ListByOwner(ctx context.Context, ownerID string) ([]*Order, error)
	List(ctx context.Context) ([]*Order, error)
}
