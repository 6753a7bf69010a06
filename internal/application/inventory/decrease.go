package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	dominventory "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	inventoryService        = "inventory-service"
	useCaseDecreaseStock    = "inventory.decrease_stock"
	idempotencyScope        = "stock-decrease"
	idempotencyPeer         = "idempotency-store"
	cachePeer               = "product-cache"
	publishTimeout          = 300 * time.Millisecond
	releaseTimeout          = time.Second
	defaultProductCacheTTL  = 300 * time.Second
	defaultLowStockFallback = dominventory.DefaultLowStockThreshold
)

type DecreaseStockInput struct {
	ProductID      string
	Quantity       int
	IdempotencyKey string
}

type DecreaseStockOutput struct {
	Level dominventory.StockLevel
	// Replayed means the result was served from an earlier request with the same key.
	Replayed bool
}

// remembered is what a keyed decrement stores for replays.
type remembered struct {
	Quantity int                     `json:"quantity"`
	Level    dominventory.StockLevel `json:"level"`
}

// DecreaseStockUseCase delegates the decrement to the store's atomic primitive; it adds validation,
// replay protection and the side effects around it, never a lock of its own.
type DecreaseStockUseCase struct {
	repo      dominventory.Repository
	cache     ProductCache
	idem      IdempotencyStore
	publisher domoutbox.Publisher
	in        application.Instruments
}

func NewDecreaseStockUseCase(
	repo dominventory.Repository,
	cache ProductCache,
	idem IdempotencyStore,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *DecreaseStockUseCase {
	return &DecreaseStockUseCase{
		repo:      repo,
		cache:     cache,
		idem:      idem,
		publisher: publisher,
		in:        application.NewInstruments(tel, inventoryService),
	}
}

func (uc *DecreaseStockUseCase) Execute(ctx context.Context, cmd DecreaseStockInput) (_ *DecreaseStockOutput, err error) {
	ctx, run := uc.in.Start(ctx, useCaseDecreaseStock, "DecreaseStock",
		attribute.String("product.id", cmd.ProductID),
		attribute.Int("stock.quantity", cmd.Quantity),
		attribute.Bool("idempotent", cmd.IdempotencyKey != ""),
	)
	defer func() { run.End(err) }()
	run.Note(observability.F("product_id", cmd.ProductID), observability.F("quantity", cmd.Quantity))

	if strings.TrimSpace(cmd.ProductID) == "" {
		run.Fail("PRODUCT_ID_REQUIRED")
		return nil, apperr.Validation("product id is required")
	}
	if cmd.Quantity <= 0 {
		run.Fail("QUANTITY_INVALID")
		return nil, dominventory.ErrInvalidQuantity
	}

	if cmd.IdempotencyKey != "" && uc.idem != nil {
		key := cmd.ProductID + ":" + cmd.IdempotencyKey
		if out, err := uc.recall(ctx, key, cmd.Quantity); out != nil || err != nil {
			if err != nil {
				run.Fail("IDEMPOTENCY_CHECK_FAILED")
				return nil, err
			}
			run.Status = "REPLAYED"
			return out, nil
		}

		locked, err := uc.idem.TryLock(ctx, idempotencyScope, key)
		if err != nil {
			run.Fail("IDEMPOTENCY_UNAVAILABLE")
			return nil, fmt.Errorf("%w: %w", ErrIdempotencyUnavailable, err)
		}
		if !locked {
			run.Fail("DUPLICATE_IN_FLIGHT")
			return nil, ErrDuplicateInFlight
		}
		defer uc.release(ctx, run, key)

		// The first holder may have finished between the recall and the lock.
		if out, err := uc.recall(ctx, key, cmd.Quantity); out != nil || err != nil {
			if err != nil {
				run.Fail("IDEMPOTENCY_CHECK_FAILED")
				return nil, err
			}
			run.Status = "REPLAYED"
			return out, nil
		}

		out, err := uc.decrease(ctx, run, cmd)
		if err != nil {
			return nil, err
		}
		uc.remember(ctx, run, key, cmd.Quantity, out.Level)
		return out, nil
	}

	return uc.decrease(ctx, run, cmd)
}

func (uc *DecreaseStockUseCase) decrease(ctx context.Context, run *application.Run, cmd DecreaseStockInput) (*DecreaseStockOutput, error) {
	level, err := uc.repo.DecreaseStock(ctx, cmd.ProductID, cmd.Quantity)
	switch {
	case errors.Is(err, dominventory.ErrNotFound):
		run.Fail("PRODUCT_NOT_FOUND")
		return nil, err
	case errors.Is(err, dominventory.ErrInsufficientStock):
		run.Fail("INSUFFICIENT_STOCK")
		return nil, err
	case err != nil:
		run.Fail("STOCK_DECREASE_FAILED")
		return nil, fmt.Errorf("inventory: decrease stock: %w", err)
	}
	run.Note(observability.F("stock_quantity", level.StockQuantity), observability.F("is_low_stock", level.IsLowStock))
	run.Span().SetAttributes(attribute.Int("stock.remaining", level.StockQuantity))

	if uc.cache != nil {
		started := time.Now()
		cerr := uc.cache.Delete(ctx, cmd.ProductID)
		uc.in.External(cachePeer, "delete", application.OutcomeOf(ctx, cerr), started)
		if cerr != nil {
			run.Logger().Debug("product_cache_invalidate_failed", observability.F("error", cerr))
		}
	}
	if level.IsLowStock {
		uc.publishLowStock(ctx, run, level)
	}
	return &DecreaseStockOutput{Level: level}, nil
}

func (uc *DecreaseStockUseCase) recall(ctx context.Context, key string, quantity int) (*DecreaseStockOutput, error) {
	started := time.Now()
	raw, found, err := uc.idem.Recall(ctx, idempotencyScope, key)
	uc.in.External(idempotencyPeer, "recall", application.OutcomeOf(ctx, err), started)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdempotencyUnavailable, err)
	}
	if !found {
		return nil, nil
	}
	var r remembered
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("%w: decode remembered result: %w", ErrIdempotencyUnavailable, err)
	}
	if r.Quantity != quantity {
		return nil, apperr.Validation("idempotency key reused with quantity %d, first used with %d", quantity, r.Quantity)
	}
	return &DecreaseStockOutput{Level: r.Level, Replayed: true}, nil
}

// remember must not fail the request: the decrement already happened and a retry would repeat it.
func (uc *DecreaseStockUseCase) remember(ctx context.Context, run *application.Run, key string, quantity int, level dominventory.StockLevel) {
	raw, err := json.Marshal(remembered{Quantity: quantity, Level: level})
	if err == nil {
		err = uc.idem.Remember(ctx, idempotencyScope, key, string(raw))
	}
	if err != nil {
		run.Status = "RESULT_NOT_REMEMBERED"
		run.Logger().Error("idempotency_remember_failed", observability.F("error", err))
	}
}

func (uc *DecreaseStockUseCase) release(ctx context.Context, run *application.Run, key string) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := uc.idem.Release(relCtx, idempotencyScope, key); err != nil {
		run.Logger().Warn("idempotency_release_failed", observability.F("error", err))
	}
}

func (uc *DecreaseStockUseCase) publishLowStock(ctx context.Context, run *application.Run, level dominventory.StockLevel) {
	if uc.publisher == nil {
		return
	}
	threshold := defaultLowStockFallback
	if p, err := uc.repo.Get(ctx, level.ProductID); err == nil {
		threshold = p.LowStockThreshold
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := uc.publisher.Publish(pubCtx, dominventory.NewLowStockEvent(level, threshold)); err != nil {
		run.Logger().Warn("event_publish_failed",
			observability.F("event", dominventory.LowStockEvent{}.EventName()),
			observability.F("error", err),
		)
	}
}
