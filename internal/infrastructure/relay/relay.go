// Package relay forwards selected outbox events to an external broker.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
)

const sendTimeout = 5 * time.Second

// Message is the broker-neutral form of one domain event.
type Message struct {
	Name string
	Key  string
	Body []byte
}

// Sink delivers messages to one broker.
type Sink interface {
	Send(ctx context.Context, m Message) error
	Close() error
}

type envelope struct {
	Event     string          `json:"event"`
	Key       string          `json:"key"`
	Service   string          `json:"service"`
	RelayedAt time.Time       `json:"relayed_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Forwarder subscribes to outbox events and pushes each one to its sink.
type Forwarder struct {
	sink    Sink
	service string
	log     observability.Logger
	relayed observability.Counter // events_relayed_total{event,outcome}
	now     func() time.Time
}

func NewForwarder(sink Sink, service string, tel observability.Observability) *Forwarder {
	tel = observability.Or(tel)
	return &Forwarder{
		sink:    sink,
		service: service,
		log:     tel.Logger().With(observability.F("component", "relay")),
		relayed: tel.Metrics().Counter(observability.MEventsRelayed),
		now:     time.Now,
	}
}

// Attach subscribes the forwarder to every named event.
func (f *Forwarder) Attach(sub domoutbox.Subscriber, eventNames ...string) {
	if f == nil || f.sink == nil || sub == nil {
		return
	}
	for _, name := range eventNames {
		sub.Subscribe(name, f.handle)
	}
}

func (f *Forwarder) handle(ctx context.Context, e domoutbox.Event) error {
	name := e.EventName()
	logger := logctx.FromOr(ctx, f.log)
	outcome := "success"
	defer func() {
		f.relayed.Add(1, observability.L("event", name), observability.L("outcome", outcome))
	}()

	m, err := f.encode(e)
	if err != nil {
		outcome = "error"
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := f.sink.Send(sendCtx, m); err != nil {
		outcome = "error"
		logger.Warn("event_relay_failed",
			observability.F("key", m.Key),
			observability.F("error", err),
		)
		return fmt.Errorf("relay: send %s: %w", name, err)
	}
	logger.Debug("event_relayed", observability.F("key", m.Key))
	return nil
}

func (f *Forwarder) encode(e domoutbox.Event) (Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Message{}, fmt.Errorf("relay: marshal %s: %w", e.EventName(), err)
	}
	key := domoutbox.KeyOf(e)
	body, err := json.Marshal(envelope{
		Event:     e.EventName(),
		Key:       key,
		Service:   f.service,
		RelayedAt: f.now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return Message{}, fmt.Errorf("relay: marshal envelope: %w", err)
	}
	return Message{Name: e.EventName(), Key: key, Body: body}, nil
}
