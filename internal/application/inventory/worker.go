package inventory

import (
	"context"
	"time"

	dominventory "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const workerService = "inventory-low-stock-watcher"

// LowStockWatcher turns inventory.low_stock events into restock alerts and keeps the product
// cache from serving the pre-decrement level.
type LowStockWatcher struct {
	subscriber domoutbox.Subscriber
	cache      ProductCache
	tel        observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewLowStockWatcher(subscriber domoutbox.Subscriber, cache ProductCache, tel observability.Observability) *LowStockWatcher {
	tel = observability.Or(tel)
	return &LowStockWatcher{
		subscriber:   subscriber,
		cache:        cache,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", workerService)),
		reqCounter:   tel.Metrics().Counter(observability.MUsecaseRequests),
		durHistogram: tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

func (w *LowStockWatcher) Start() {
	if w.subscriber == nil {
		return
	}
	w.subscriber.Subscribe(dominventory.LowStockEvent{}.EventName(), w.handleLowStock)
}

func (w *LowStockWatcher) handleLowStock(ctx context.Context, e domoutbox.Event) error {
	const useCase = "inventory.worker.low_stock"
	evt, ok := e.(dominventory.LowStockEvent)
	if !ok {
		w.count(useCase, "ignored")
		return nil
	}

	ctx, span := w.tel.Tracer().Start(ctx, "UC.LowStockAlert",
		attribute.String("use_case", useCase),
		attribute.String("event", e.EventName()),
		attribute.String("product.id", evt.ProductID),
	)
	ctx, logger := logctx.Enrich(ctx, w.log,
		observability.F("use_case", useCase),
		observability.F("event", e.EventName()),
		observability.F("product_id", evt.ProductID),
	)
	start := time.Now()
	outcome, status := "success", "ALERTED"

	defer func() {
		lat := time.Since(start).Seconds()
		w.observe(useCase, outcome, lat)
		logger.Info("use_case_done",
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", lat),
		)
		span.SetStatus(codes.Ok, status)
		span.End()
	}()

	logger.Warn("low_stock_alert",
		observability.F("stock_quantity", evt.StockQuantity),
		observability.F("threshold", evt.Threshold),
	)
	if w.cache != nil {
		if err := w.cache.Delete(ctx, evt.ProductID); err != nil {
			status = "ALERTED_CACHE_STALE"
			logger.Debug("product_cache_invalidate_failed", observability.F("error", err))
		}
	}
	return nil
}

func (w *LowStockWatcher) count(useCase, outcome string) {
	w.reqCounter.Add(1,
		observability.L("use_case", useCase),
		observability.L("outcome", outcome),
	)
}

func (w *LowStockWatcher) observe(useCase string, outcome string, latencySeconds float64) {
	w.count(useCase, outcome)
	w.durHistogram.Observe(latencySeconds, observability.L("use_case", useCase))
}
