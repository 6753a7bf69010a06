package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	dominventory "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const useCaseGetProduct = "inventory.get_product"

// GetProductUseCase reads a product through the cache. A broken cache behaves like an empty one.
type GetProductUseCase struct {
	repo  dominventory.Repository
	cache ProductCache
	ttl   time.Duration
	in    application.Instruments
}

func NewGetProductUseCase(repo dominventory.Repository, cache ProductCache, ttl time.Duration, tel observability.Observability) *GetProductUseCase {
	if ttl <= 0 {
		ttl = defaultProductCacheTTL
	}
	return &GetProductUseCase{repo: repo, cache: cache, ttl: ttl, in: application.NewInstruments(tel, inventoryService)}
}

func (uc *GetProductUseCase) Execute(ctx context.Context, productID string) (_ *dominventory.Product, err error) {
	ctx, run := uc.in.Start(ctx, useCaseGetProduct, "GetProduct", attribute.String("product.id", productID))
	defer func() { run.End(err) }()
	run.Note(observability.F("product_id", productID))

	if p, ok := uc.cached(ctx, run, productID); ok {
		run.Status = "CACHE_HIT"
		return p, nil
	}

	p, err := uc.repo.Get(ctx, productID)
	switch {
	case errors.Is(err, dominventory.ErrNotFound):
		run.Fail("PRODUCT_NOT_FOUND")
		return nil, err
	case err != nil:
		run.Fail("PRODUCT_LOAD_FAILED")
		return nil, fmt.Errorf("inventory: get product: %w", err)
	}

	if uc.cache != nil {
		started := time.Now()
		cerr := uc.cache.Set(ctx, p, uc.ttl)
		uc.in.External(cachePeer, "set", application.OutcomeOf(ctx, cerr), started)
		if cerr != nil {
			run.Logger().Debug("product_cache_set_failed", observability.F("error", cerr))
		}
	}
	run.Status = "CACHE_MISS"
	return p, nil
}

func (uc *GetProductUseCase) cached(ctx context.Context, run *application.Run, productID string) (*dominventory.Product, bool) {
	if uc.cache == nil {
		return nil, false
	}
	started := time.Now()
	p, ok, err := uc.cache.Get(ctx, productID)
	uc.in.External(cachePeer, "get", application.OutcomeOf(ctx, err), started)
	if err != nil {
		run.Logger().Debug("product_cache_get_failed", observability.F("error", err))
		return nil, false
	}
	return p, ok
}
