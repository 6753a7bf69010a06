package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const productKeyPrefix = "product:"

type cachedProduct struct {
	ID                string          `json:"_id"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	Images            []string        `json:"images,omitempty"`
	StockQuantity     int             `json:"stockQuantity"`
	LowStockThreshold int             `json:"lowStockThreshold"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

type ProductCache struct {
	rdb redis.Cmdable
}

func NewProductCache(rdb redis.Cmdable) *ProductCache { return &ProductCache{rdb: rdb} }

func (c *ProductCache) Get(ctx context.Context, productID string) (*domain.Product, bool, error) {
	raw, err := c.rdb.Get(ctx, productKeyPrefix+productID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: get product: %w", err)
	}
	var doc cachedProduct
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("redis: decode product %s: %w", productID, err)
	}
	p := &domain.Product{
		ID:                doc.ID,
		Name:              doc.Name,
		Price:             doc.Price,
		Images:            doc.Images,
		StockQuantity:     doc.StockQuantity,
		LowStockThreshold: doc.LowStockThreshold,
		UpdatedAt:         doc.UpdatedAt,
	}
	p.RefreshLowStock()
	return p, true, nil
}

func (c *ProductCache) Set(ctx context.Context, p *domain.Product, ttl time.Duration) error {
	raw, err := json.Marshal(cachedProduct{
		ID:                p.ID,
		Name:              p.Name,
		Price:             p.Price,
		Images:            p.Images,
		StockQuantity:     p.StockQuantity,
		LowStockThreshold: p.LowStockThreshold,
		UpdatedAt:         p.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("redis: encode product: %w", err)
	}
	if err := c.rdb.Set(ctx, productKeyPrefix+p.ID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set product: %w", err)
	}
	return nil
}

func (c *ProductCache) Delete(ctx context.Context, productID string) error {
	if err := c.rdb.Del(ctx, productKeyPrefix+productID).Err(); err != nil {
		return fmt.Errorf("redis: delete product: %w", err)
	}
	return nil
}
