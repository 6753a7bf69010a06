package payment

import "context"

type Repository interface {
	Insert(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	FindByGatewayOrderID(ctx context.Context, gateway, gatewayOrderID string) (*Payment, error)
	// FindPendingByOrderID returns the newest pending payment for an order, or ErrNotFound.
	FindPendingByOrderID(ctx context.Context, orderID string) (*Payment, error)
	// Finalize moves a pending payment to a terminal status in one conditional write and returns
	// the updated record. A payment that is no longer pending yields ErrAlreadyFinalized.
	Finalize(ctx context.Context, f Finalization) (*Payment, error)
	MarkNotified(ctx context.Context, id string) error
	// ListUnnotified returns terminal payments whose outcome the order service has not acknowledged.
	ListUnnotified(ctx context.Context, limit int) ([]*Payment, error)
}
