// Package workerpresentation drives background workers: one root span and one run-scoped logger per pass.
package workerpresentation

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Periodic is a worker that does one bounded pass per call.
type Periodic interface {
	Name() string
	RunOnce(ctx context.Context) (int, error)
}

type Runner struct {
	tracer observability.Tracer
	log    observability.Logger
}

func NewRunner(tel observability.Observability) *Runner {
	tel = observability.Or(tel)
	return &Runner{tracer: tel.Tracer(), log: tel.Logger().With(observability.F("component", "worker_runner"))}
}

// Run calls w.RunOnce every interval until ctx is done. A failed pass is logged and retried on the next tick.
func (r *Runner) Run(ctx context.Context, w Periodic, interval time.Duration) {
	if interval <= 0 {
		r.log.Warn("worker_disabled", observability.F("worker", w.Name()))
		return
	}
	r.log.Info("worker_started", observability.F("worker", w.Name()), observability.F("interval", interval.String()))
	defer r.log.Info("worker_stopped", observability.F("worker", w.Name()))

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Tick(ctx, w)
		}
	}
}

// Tick runs one pass under its own root span.
func (r *Runner) Tick(ctx context.Context, w Periodic) (int, error) {
	ctx, span := r.tracer.Start(ctx, "Worker."+w.Name(), attribute.String("worker.name", w.Name()))
	defer span.End()
	ctx = WithTickContext(ctx, r.log, map[string]string{"worker": w.Name()})

	n, err := w.RunOnce(ctx)
	span.SetAttributes(attribute.Int("worker.processed", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() == nil {
			r.log.Warn("worker_pass_failed", observability.F("worker", w.Name()), observability.F("error", err))
		}
	}
	return n, err
}
