package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
)

// InventoryRepository serializes every decrement through its own lock, which is the memory
// store's atomic primitive.
type InventoryRepository struct {
	mu       sync.Mutex
	products map[string]*domain.Product
}

func NewInventoryRepository(seed ...*domain.Product) *InventoryRepository {
	r := &InventoryRepository{
		products: make(map[string]*domain.Product, len(seed)),
	}
	for _, p := range seed {
		if p != nil {
			r.products[p.ID] = p.Clone()
		}
	}
	return r
}

func (r *InventoryRepository) Get(ctx context.Context, productID string) (*domain.Product, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *InventoryRepository) DecreaseStock(ctx context.Context, productID string, quantity int) (domain.StockLevel, error) {
	if err := ctx.Err(); err != nil {
		return domain.StockLevel{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[productID]
	if !ok {
		return domain.StockLevel{}, fmt.Errorf("%w: %s", domain.ErrNotFound, productID)
	}
	next := p.Clone()
	if err := next.Decrease(quantity); err != nil {
		return domain.StockLevel{}, err
	}
	r.products[productID] = next
	return next.Level(), nil
}

// Save replaces a product; used for seeding and tests.
func (r *InventoryRepository) Save(ctx context.Context, p *domain.Product) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("inventory repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.products[p.ID] = p.Clone()
	return nil
}
