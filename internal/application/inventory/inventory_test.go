package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	dominventory "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu      sync.Mutex
	items   map[string]*dominventory.Product
	broken  bool
	deletes int
}

func newMapCache() *mapCache { return &mapCache{items: map[string]*dominventory.Product{}} }

var errCacheDown = errors.New("redis: connection refused")

func (c *mapCache) Get(_ context.Context, id string) (*dominventory.Product, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return nil, false, errCacheDown
	}
	p, ok := c.items[id]
	return p.Clone(), ok, nil
}

func (c *mapCache) Set(_ context.Context, p *dominventory.Product, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return errCacheDown
	}
	c.items[p.ID] = p.Clone()
	return nil
}

func (c *mapCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	if c.broken {
		return errCacheDown
	}
	delete(c.items, id)
	return nil
}

type downIdempotency struct{}

func (downIdempotency) TryLock(context.Context, string, string) (bool, error) { return false, errCacheDown }
func (downIdempotency) Release(context.Context, string, string) error { return errCacheDown }
func (downIdempotency) Remember(context.Context, string, string, string) error { return errCacheDown }
func (downIdempotency) Recall(context.Context, string, string) (string, bool, error) {
	return "", false, errCacheDown
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func seeded(t *testing.T, stock int) *memory.InventoryRepository {
	t.Helper()
	p, err := dominventory.NewProduct("P1", "Mug", decimal.RequireFromString("50"), stock, "/img/mug.jpg")
	require.NoError(t, err)
	return memory.NewInventoryRepository(p)
}

func TestDecreaseStockConcurrentNeverOversells(t *testing.T) {
	for _, tc := range []struct{ stock, calls int }{{5, 10}, {10, 10}, {10, 3}, {0, 4}} {
		repo := seeded(t, tc.stock)
		uc := NewDecreaseStockUseCase(repo, nil, nil, nil, nil)

		var wg sync.WaitGroup
		var mu sync.Mutex
		ok, insufficient := 0, 0
		for i := 0; i < tc.calls; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := uc.Execute(context.Background(), DecreaseStockInput{ProductID: "P1", Quantity: 1})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					ok++
				} else if errors.Is(err, apperr.ErrInsufficientStock) {
					insufficient++
				}
			}()
		}
		wg.Wait()

		want := min(tc.stock, tc.calls)
		assert.Equal(t, want, ok)
		assert.Equal(t, tc.calls-want, insufficient)
		p, err := repo.Get(context.Background(), "P1")
		require.NoError(t, err)
		assert.Equal(t, tc.stock-want, p.StockQuantity)
	}
}

func TestDecreaseStockValidationAndNotFound(t *testing.T) {
	uc := NewDecreaseStockUseCase(seeded(t, 3), nil, nil, nil, nil)

	_, err := uc.Execute(context.Background(), DecreaseStockInput{ProductID: "P1", Quantity: 0})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = uc.Execute(context.Background(), DecreaseStockInput{ProductID: "nope", Quantity: 1})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = uc.Execute(context.Background(), DecreaseStockInput{ProductID: "P1", Quantity: 4})
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
}

func TestDecreaseStockInvalidatesCacheAndFlagsLowStock(t *testing.T) {
	cache := newMapCache()
	pub := &recordingPublisher{}
	repo := seeded(t, 12)
	get := NewGetProductUseCase(repo, cache, time.Minute, nil)
	dec := NewDecreaseStockUseCase(repo, cache, nil, pub, nil)

	_, err := get.Execute(context.Background(), "P1")
	require.NoError(t, err)
	require.Contains(t, cache.items, "P1")

	out, err := dec.Execute(context.Background(), DecreaseStockInput{ProductID: "P1", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 10, out.Level.StockQuantity)
	assert.True(t, out.Level.IsLowStock)
	assert.NotContains(t, cache.items, "P1")

	require.Len(t, pub.events, 1)
	evt, ok := pub.events[0].(dominventory.LowStockEvent)
	require.True(t, ok)
	assert.Equal(t, 10, evt.Threshold)

	p, err := get.Execute(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.StockQuantity)
}

func TestIdempotentDecreaseReplays(t *testing.T) {
	repo := seeded(t, 10)
	store := memory.NewIdempotencyStore(time.Hour, time.Minute)
	uc := NewDecreaseStockUseCase(repo, nil, store, nil, nil)
	cmd := DecreaseStockInput{ProductID: "P1", Quantity: 3, IdempotencyKey: "order:o-1:item:0"}

	first, err := uc.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := uc.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Level, second.Level)

	p, err := repo.Get(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 7, p.StockQuantity)

	cmd.Quantity = 4
	_, err = uc.Execute(context.Background(), cmd)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestIdempotentDecreaseInFlightConflict(t *testing.T) {
	store := memory.NewIdempotencyStore(time.Hour, time.Minute)
	uc := NewDecreaseStockUseCase(seeded(t, 10), nil, store, nil, nil)

	locked, err := store.TryLock(context.Background(), idempotencyScope, "P1:k-1")
	require.NoError(t, err)
	require.True(t, locked)

	_, err = uc.Execute(context.Background(), DecreaseStockInput{ProductID: "P1", Quantity: 1, IdempotencyKey: "k-1"})
	assert.ErrorIs(t, err, ErrDuplicateInFlight)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestIdempotencyStoreDownFailsClosed(t *testing.T) {
	repo := seeded(t, 10)
	uc := NewDecreaseStockUseCase(repo, nil, downIdempotency{}, nil, nil)

	_, err := uc.Execute(context.Background(), DecreaseStockInput{ProductID: "P1", Quantity: 1, IdempotencyKey: "k"})
	assert.ErrorIs(t, err, ErrIdempotencyUnavailable)
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)

	p, err := repo.Get(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.StockQuantity)

	// Without a key the store is not consulted.
	_, err = uc.Execute(context.Background(), DecreaseStockInput{ProductID: "P1", Quantity: 1})
	assert.NoError(t, err)
}

func TestGetProductDegradesWhenCacheDown(t *testing.T) {
	cache := newMapCache()
	cache.broken = true
	uc := NewGetProductUseCase(seeded(t, 5), cache, 0, nil)

	p, err := uc.Execute(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "Mug", p.Name)

	_, err = uc.Execute(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

type captureSubscriber struct{ handlers map[string]domoutbox.Handler }

func (s *captureSubscriber) Subscribe(name string, h domoutbox.Handler) { s.handlers[name] = h }

func TestLowStockWatcherInvalidatesCache(t *testing.T) {
	sub := &captureSubscriber{handlers: map[string]domoutbox.Handler{}}
	cache := newMapCache()
	w := NewLowStockWatcher(sub, cache, nil)
	w.Start()

	h, ok := sub.handlers["inventory.low_stock"]
	require.True(t, ok)
	require.NoError(t, h(context.Background(), dominventory.LowStockEvent{ProductID: "P1", StockQuantity: 2, Threshold: 10}))
	assert.Equal(t, 1, cache.deletes)
}
