package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
)

const (
	redeliveryWorker   = "payment-notify-redelivery"
	useCaseRedeliver   = "payment.worker.redeliver_notification"
	orderPeer          = "order-service"
	orderEndpoint      = "PUT /orders/{id}/payment-status"
	defaultRedelivered = 50
)

// deliver notifies the order service and records the acknowledgement.
func deliver(ctx context.Context, repo dompayment.Repository, notifier Notifier, in application.Instruments, p *dompayment.Payment, outcome dompayment.Outcome) error {
	started := time.Now()
	err := notifier.Notify(ctx, outcome)
	in.External(orderPeer, orderEndpoint, application.OutcomeOf(ctx, err), started)
	if err != nil {
		return fmt.Errorf("payment: notify order %s: %w", p.OrderID, err)
	}
	if err := repo.MarkNotified(ctx, p.ID); err != nil {
		// The order side is idempotent, so a lost mark only costs one extra delivery.
		return fmt.Errorf("payment: mark notified: %w", err)
	}
	return nil
}

// RedeliveryWorker re-sends outcomes the order service never acknowledged.
type RedeliveryWorker struct {
	repo     dompayment.Repository
	notifier Notifier
	batch    int
	in       application.Instruments

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewRedeliveryWorker(repo dompayment.Repository, notifier Notifier, batch int, tel observability.Observability) *RedeliveryWorker {
	if batch <= 0 {
		batch = defaultRedelivered
	}
	tel = observability.Or(tel)
	return &RedeliveryWorker{
		repo:         repo,
		notifier:     notifier,
		batch:        batch,
		in:           application.NewInstruments(tel, paymentService),
		log:          tel.Logger().With(observability.F("service", redeliveryWorker)),
		reqCounter:   tel.Metrics().Counter(observability.MUsecaseRequests),
		durHistogram: tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

func (w *RedeliveryWorker) Name() string { return redeliveryWorker }

// RunOnce delivers one batch and returns how many notifications were acknowledged.
func (w *RedeliveryWorker) RunOnce(ctx context.Context) (delivered int, err error) {
	start := time.Now()
	outcome := "success"
	logger := logctx.FromOr(ctx, w.log).With(observability.F("use_case", useCaseRedeliver))
	defer func() {
		w.observe(outcome, time.Since(start).Seconds())
		if delivered > 0 || err != nil || outcome != "success" {
			fields := []observability.Field{
				observability.F("outcome", outcome),
				observability.F("delivered", delivered),
			}
			if err != nil {
				fields = append(fields, observability.F("error", err.Error()))
			}
			logger.Info("use_case_done", fields...)
		}
	}()

	pending, err := w.repo.ListUnnotified(ctx, w.batch)
	if err != nil {
		outcome = "error"
		return 0, fmt.Errorf("redelivery: list unnotified: %w", err)
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		out := dompayment.OutcomeOf(p, string(p.Status), p.UpdatedAt.Format(time.RFC3339))
		if err := deliver(ctx, w.repo, w.notifier, w.in, p, out); err != nil {
			outcome = "partial"
			logger.Warn("order_notification_redelivery_failed",
				observability.F("payment_id", p.ID),
				observability.F("order_id", p.OrderID),
				observability.F("error", err),
			)
			continue
		}
		delivered++
	}
	return delivered, nil
}

func (w *RedeliveryWorker) observe(outcome string, latencySeconds float64) {
	w.reqCounter.Add(1,
		observability.L("use_case", useCaseRedeliver),
		observability.L("outcome", outcome),
	)
	w.durHistogram.Observe(latencySeconds, observability.L("use_case", useCaseRedeliver))
}
