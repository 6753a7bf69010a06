package memory

import (
	"context"
	"testing"
	"time"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(t *testing.T, id, owner string, at time.Time) *domain.Order {
	t.Helper()
	o, err := domain.New(id, owner,
		[]domain.Item{{ProductID: "P1", Name: "Widget", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
		domain.Shipping{Address: "1 Nile St", City: "Cairo", Country: "EG", Phone: "0100"},
		domain.PaymentCreditCard, at)
	require.NoError(t, err)
	return o
}

func TestOrderUpdateIsVersionGuarded(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, newOrder(t, "o-1", "u-1", time.Now())))

	a, err := repo.Get(ctx, "o-1")
	require.NoError(t, err)
	b, err := repo.Get(ctx, "o-1")
	require.NoError(t, err)

	a.SetStatus(domain.StatusShipped, time.Now())
	require.NoError(t, repo.Update(ctx, a))
	assert.Equal(t, 2, a.Version)

	b.SetStatus(domain.StatusCancelled, time.Now())
	assert.ErrorIs(t, repo.Update(ctx, b), domain.ErrConflict)

	got, err := repo.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusShipped, got.Status)
}

func TestOrderListsNewestFirst(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	base := time.Now()
	require.NoError(t, repo.Insert(ctx, newOrder(t, "o-1", "u-1", base)))
	require.NoError(t, repo.Insert(ctx, newOrder(t, "o-2", "u-2", base.Add(time.Minute))))
	require.NoError(t, repo.Insert(ctx, newOrder(t, "o-3", "u-1", base.Add(2*time.Minute))))

	mine, err := repo.ListByOwner(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "o-3", mine[0].ID)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.ErrorIs(t, repo.Insert(ctx, newOrder(t, "o-1", "u-1", base)), domain.ErrConflict)
	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
