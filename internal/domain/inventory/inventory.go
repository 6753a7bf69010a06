package inventory

import (
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = fmt.Errorf("inventory: product %w", apperr.ErrNotFound)
	ErrInvalidQuantity   = fmt.Errorf("inventory: %w: quantity must be greater than zero", apperr.ErrValidation)
	ErrInsufficientStock = fmt.Errorf("inventory: %w", apperr.ErrInsufficientStock)
)

const DefaultLowStockThreshold = 10

type Product struct {
	ID                string
	Name              string
	Price             decimal.Decimal
	Images            []string
	StockQuantity     int
	LowStockThreshold int
	IsLowStock        bool
	UpdatedAt         time.Time
}

func NewProduct(id, name string, price decimal.Decimal, stock int, images ...string) (*Product, error) {
	if id == "" {
		return nil, apperr.Validation("product id is required")
	}
	if stock < 0 {
		return nil, apperr.Validation("stock must not be negative")
	}
	if price.IsNegative() {
		return nil, apperr.Validation("price must not be negative")
	}
	p := &Product{
		ID:                id,
		Name:              name,
		Price:             price,
		Images:            append([]string(nil), images...),
		StockQuantity:     stock,
		LowStockThreshold: DefaultLowStockThreshold,
		UpdatedAt:         time.Now().UTC(),
	}
	p.RefreshLowStock()
	return p, nil
}

// RefreshLowStock recomputes the derived flag; low means at or under the threshold.
func (p *Product) RefreshLowStock() {
	p.IsLowStock = p.StockQuantity <= p.LowStockThreshold
}

func (p *Product) Level() StockLevel {
	return StockLevel{ProductID: p.ID, StockQuantity: p.StockQuantity, IsLowStock: p.IsLowStock}
}

// Decrease applies a decrement to an in-memory copy. Stores must call it under their own
// atomic primitive; it is never a substitute for one.
func (p *Product) Decrease(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > p.StockQuantity {
		return fmt.Errorf("%w: product %s has %d, requested %d", ErrInsufficientStock, p.ID, p.StockQuantity, quantity)
	}
	p.StockQuantity -= quantity
	p.RefreshLowStock()
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	c := *p
	c.Images = append([]string(nil), p.Images...)
	return &c
}

// StockLevel is the post-decrement view returned to callers.
type StockLevel struct {
	ProductID     string `json:"_id"`
	StockQuantity int    `json:"stockQuantity"`
	IsLowStock    bool   `json:"isLowStock"`
}
