package order

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
)

const (
	outboxPeer     = "outbox"
	publishTimeout = 300 * time.Millisecond
)

// publishEvent is best-effort; the order state the event describes is already durable.
func publishEvent(ctx context.Context, in application.Instruments, publisher domoutbox.Publisher, run *application.Run, e domoutbox.Event) {
	if publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	started := time.Now()
	err := publisher.Publish(pubCtx, e)
	in.External(outboxPeer, e.EventName(), application.OutcomeOf(pubCtx, err), started)
	if err != nil {
		run.Span().RecordError(err)
		run.Logger().Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err),
		)
	}
}
