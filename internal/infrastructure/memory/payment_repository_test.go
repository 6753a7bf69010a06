package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalizeRaceHasOneWinner(t *testing.T) {
	repo := NewPaymentRepository()
	ctx := context.Background()
	p, err := domain.New("pay-1", "o-1", "u-1", "paymob", "9001", 12500, "EGP", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, p))

	var won, lost atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Finalize(ctx, domain.Finalization{
				PaymentID: "pay-1", Status: domain.StatusSuccessful, TransactionID: "tx", At: time.Now(),
			})
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, domain.ErrAlreadyFinalized):
				lost.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(19), lost.Load())

	found, err := repo.FindByGatewayOrderID(ctx, "paymob", "9001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccessful, found.Status)
}

func TestUnnotifiedUntilMarked(t *testing.T) {
	repo := NewPaymentRepository()
	ctx := context.Background()
	p, err := domain.New("pay-1", "o-1", "u-1", "paymob", "9001", 100, "EGP", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, p))

	pending, err := repo.ListUnnotified(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = repo.Finalize(ctx, domain.Finalization{PaymentID: "pay-1", Status: domain.StatusFailed, At: time.Now()})
	require.NoError(t, err)
	pending, err = repo.ListUnnotified(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, repo.MarkNotified(ctx, "pay-1"))
	pending, err = repo.ListUnnotified(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDuplicateGatewayOrderRejected(t *testing.T) {
	repo := NewPaymentRepository()
	ctx := context.Background()
	a, _ := domain.New("pay-1", "o-1", "u-1", "paymob", "9001", 100, "EGP", time.Now())
	b, _ := domain.New("pay-2", "o-1", "u-1", "paymob", "9001", 100, "EGP", time.Now())
	require.NoError(t, repo.Insert(ctx, a))
	assert.ErrorIs(t, repo.Insert(ctx, b), domain.ErrConflict)
}

func TestFindPendingByOrderIDSkipsFinalized(t *testing.T) {
	repo := NewPaymentRepository()
	ctx := context.Background()
	base := time.Now()

	first, err := domain.New("pay-1", "o-1", "u-1", "paymob", "9001", 100, "EGP", base)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, first))
	_, err = repo.Finalize(ctx, domain.Finalization{PaymentID: "pay-1", Status: domain.StatusFailed, At: base})
	require.NoError(t, err)

	_, err = repo.FindPendingByOrderID(ctx, "o-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	second, err := domain.New("pay-2", "o-1", "u-1", "paymob", "9002", 100, "EGP", base.Add(time.Second))
	require.NoError(t, err)
	second.Redirect = domain.Redirect{PaymentToken: "tok-2"}
	require.NoError(t, repo.Insert(ctx, second))

	found, err := repo.FindPendingByOrderID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "pay-2", found.ID)
	assert.Equal(t, "tok-2", found.Redirect.PaymentToken)
}
