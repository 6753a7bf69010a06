package payment

import (
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsCurrencyAndPending(t *testing.T) {
	p, err := New("pay-1", "o-1", "u-1", "paymob", "777", 12500, "", time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, DefaultCurrency, p.Currency)

	_, err = New("pay-2", "o-1", "u-1", "paymob", "778", 0, "EGP", time.Now())
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestApplyOnlyFromPending(t *testing.T) {
	p, err := New("pay-1", "o-1", "u-1", "paymob", "777", 100, "EGP", time.Now())
	require.NoError(t, err)

	f := Finalization{PaymentID: p.ID, Status: StatusSuccessful, TransactionID: "tx", At: time.Now()}
	require.NoError(t, f.Validate())
	require.NoError(t, p.Apply(f))
	assert.Equal(t, StatusSuccessful, p.Status)
	assert.Equal(t, "tx", p.GatewayTransactionID)

	f.Status = StatusFailed
	assert.ErrorIs(t, p.Apply(f), ErrAlreadyFinalized)
	assert.Equal(t, StatusSuccessful, p.Status)
}

func TestFinalizationRejectsPending(t *testing.T) {
	f := Finalization{PaymentID: "p", Status: StatusPending}
	assert.ErrorIs(t, f.Validate(), ErrInvalidStatus)
}

func TestFinalizedEventName(t *testing.T) {
	assert.Equal(t, "payment.succeeded", FinalizedEvent{Status: StatusSuccessful}.EventName())
	assert.Equal(t, "payment.failed", FinalizedEvent{Status: StatusFailed}.EventName())
}

func TestAmountCentsRounds(t *testing.T) {
	assert.Equal(t, int64(12500), AmountCents(decimal.RequireFromString("125")))
	assert.Equal(t, int64(1999), AmountCents(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1000), AmountCents(decimal.RequireFromString("9.995")))
}

func TestBillingNormalized(t *testing.T) {
	b := BillingData{Email: "a@b.c", Phone: "1", City: "Cairo", Country: "EG"}.Normalized()
	assert.Equal(t, "NA", b.Floor)
	assert.Equal(t, "NA", b.PostalCode)
	assert.NoError(t, b.Validate())
	assert.ErrorIs(t, BillingData{}.Validate(), apperr.ErrValidation)
}
