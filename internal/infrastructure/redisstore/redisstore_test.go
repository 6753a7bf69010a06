package redisstore

import (
	"context"
	"testing"
	"time"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := Connect(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestProductCacheRoundTrip(t *testing.T) {
	mr, rdb := newRedis(t)
	cache := NewProductCache(rdb)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "P1")
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := domain.NewProduct("P1", "Mug", decimal.RequireFromString("12.50"), 4, "/img/mug.jpg")
	require.NoError(t, err)
	require.NoError(t, cache.Set(ctx, p, time.Minute))

	got, ok, err := cache.Get(ctx, "P1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Price.Equal(p.Price))
	assert.Equal(t, 4, got.StockQuantity)
	assert.True(t, got.IsLowStock)

	mr.FastForward(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "P1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, p, time.Minute))
	require.NoError(t, cache.Delete(ctx, "P1"))
	assert.False(t, mr.Exists(productKeyPrefix+"P1"))
}

func TestProductCacheServerDown(t *testing.T) {
	mr, rdb := newRedis(t)
	cache := NewProductCache(rdb)
	mr.Close()

	_, ok, err := cache.Get(context.Background(), "P1")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestIdempotencyLockAndRecall(t *testing.T) {
	mr, rdb := newRedis(t)
	store := NewIdempotencyStore(rdb, time.Hour, 5*time.Second)
	ctx := context.Background()

	ok, err := store.TryLock(ctx, "stock-decrease", "P1:k1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TryLock(ctx, "stock-decrease", "P1:k1")
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(6 * time.Second)
	ok, err = store.TryLock(ctx, "stock-decrease", "P1:k1")
	require.NoError(t, err)
	assert.True(t, ok, "lock expires after its ttl")

	require.NoError(t, store.Release(ctx, "stock-decrease", "P1:k1"))
	ok, err = store.TryLock(ctx, "stock-decrease", "P1:k1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := store.Recall(ctx, "stock-decrease", "P1:k1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Remember(ctx, "stock-decrease", "P1:k1", `{"quantity":2}`))
	val, found, err := store.Recall(ctx, "stock-decrease", "P1:k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"quantity":2}`, val)
}

func TestIdempotencyFailsWhenServerDown(t *testing.T) {
	mr, rdb := newRedis(t)
	store := NewIdempotencyStore(rdb, time.Hour, time.Second)
	mr.Close()

	_, err := store.TryLock(context.Background(), "stock-decrease", "k")
	assert.Error(t, err)
	_, _, err = store.Recall(context.Background(), "stock-decrease", "k")
	assert.Error(t, err)
}
