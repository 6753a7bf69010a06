package outbox

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct{ id string }

func (testEvent) EventName() string { return "test.happened" }

func TestBusDeliversToEverySubscriber(t *testing.T) {
	bus := NewBus(nil)
	var calls atomic.Int32
	got := make(chan string, 2)
	for range 2 {
		bus.Subscribe("test.happened", func(_ context.Context, e domoutbox.Event) error {
			calls.Add(1)
			got <- e.(testEvent).id
			return nil
		})
	}
	bus.Start(context.Background())

	require.NoError(t, bus.Publish(context.Background(), testEvent{id: "e-1"}))
	for range 2 {
		select {
		case id := <-got:
			assert.Equal(t, "e-1", id)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus.Stop(ctx)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBusSurvivesHandlerPanic(t *testing.T) {
	bus := NewBus(nil)
	delivered := make(chan struct{}, 1)
	bus.Subscribe("test.happened", func(context.Context, domoutbox.Event) error { panic("boom") })
	bus.Subscribe("test.happened", func(context.Context, domoutbox.Event) error {
		delivered <- struct{}{}
		return nil
	})
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	require.NoError(t, bus.Publish(context.Background(), testEvent{}))
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("healthy handler not called")
	}
}

func TestPublishAfterStop(t *testing.T) {
	bus := NewBus(nil)
	bus.Start(context.Background())
	bus.Stop(context.Background())
	assert.ErrorIs(t, bus.Publish(context.Background(), testEvent{}), ErrBusStopped)
}
