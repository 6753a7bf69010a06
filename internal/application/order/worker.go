package order

import (
	"context"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/saga"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
)

const (
	recoveryWorker = "order-saga-recovery"
	useCaseRecover = "order.worker.recover_stock_commit"
)

// Resumer continues an interrupted stock commit for one order.
type Resumer interface {
	Resume(ctx context.Context, orderID string) (*ApplyPaymentResultOutput, error)
}

// RecoveryWorker finds orders whose commit_stock step started but never finished, which means the
// process died or a decrement was inconclusive, and resumes them.
type RecoveryWorker struct {
	sagaLog saga.Log
	resumer Resumer
	// grace keeps the worker away from commits that are still running in a request.
	grace time.Duration
	now   func() time.Time

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewRecoveryWorker(sagaLog saga.Log, resumer Resumer, grace time.Duration, tel observability.Observability) *RecoveryWorker {
	tel = observability.Or(tel)
	return &RecoveryWorker{
		sagaLog:      sagaLog,
		resumer:      resumer,
		grace:        grace,
		now:          time.Now,
		log:          tel.Logger().With(observability.F("service", recoveryWorker)),
		reqCounter:   tel.Metrics().Counter(observability.MUsecaseRequests),
		durHistogram: tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

func (w *RecoveryWorker) Name() string { return recoveryWorker }

// RunOnce scans the saga log once and returns how many orders it resumed.
func (w *RecoveryWorker) RunOnce(ctx context.Context) (resumed int, err error) {
	start := time.Now()
	outcome := "success"
	logger := logctx.FromOr(ctx, w.log).With(observability.F("use_case", useCaseRecover))
	defer func() {
		w.observe(outcome, time.Since(start).Seconds())
		if resumed > 0 || err != nil {
			fields := []observability.Field{
				observability.F("outcome", outcome),
				observability.F("resumed", resumed),
			}
			if err != nil {
				fields = append(fields, observability.F("error", err.Error()))
			}
			logger.Info("use_case_done", fields...)
		}
	}()

	ids, err := w.sagaLog.Stalled(ctx, saga.StepCommitStock)
	if err != nil {
		outcome = "error"
		return 0, fmt.Errorf("recovery: list stalled: %w", err)
	}

	cutoff := w.now().Add(-w.grace)
	for _, id := range ids {
		if ctx.Err() != nil {
			return resumed, ctx.Err()
		}
		entries, err := w.sagaLog.Entries(ctx, id)
		if err != nil {
			logger.Warn("saga_entries_load_failed", observability.F("order_id", id), observability.F("error", err))
			continue
		}
		if last, ok := saga.LastOf(entries, saga.StepCommitStock); ok && last.At.After(cutoff) {
			continue
		}
		if _, err := w.resumer.Resume(logctx.With(ctx, logger.With(observability.F("order_id", id))), id); err != nil {
			outcome = "partial"
			logger.Warn("stock_commit_resume_failed", observability.F("order_id", id), observability.F("error", err))
			continue
		}
		resumed++
	}
	return resumed, nil
}

func (w *RecoveryWorker) observe(outcome string, latencySeconds float64) {
	w.reqCounter.Add(1,
		observability.L("use_case", useCaseRecover),
		observability.L("outcome", outcome),
	)
	w.durHistogram.Observe(latencySeconds, observability.L("use_case", useCaseRecover))
}
