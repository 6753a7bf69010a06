package inventory

import "context"

type Repository interface {
	Get(ctx context.Context, productID string) (*Product, error)
	// DecreaseStock is one indivisible conditional decrement: it succeeds only when the current
	// quantity covers the request and mutates nothing otherwise.
	DecreaseStock(ctx context.Context, productID string, quantity int) (StockLevel, error)
}
