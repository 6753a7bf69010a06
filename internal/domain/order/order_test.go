package order

import (
	"testing"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testShipping = Shipping{Address: "1 Nile St", City: "Cairo", Country: "EG", Phone: "+20100"}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newPending(t *testing.T, items ...Item) *Order {
	t.Helper()
	if len(items) == 0 {
		items = []Item{{ProductID: "P1", Name: "Mug", Quantity: 2, UnitPrice: price("50")}}
	}
	o, err := New("o-1", "u-1", items, testShipping, PaymentCreditCard, time.Now())
	require.NoError(t, err)
	return o
}

func TestComputeTotals(t *testing.T) {
	cases := []struct {
		name                              string
		items                             []Item
		itemsPrice, shipping, tax, total string
	}{
		{
			name:       "boundary at exactly 100 charges shipping",
			items:      []Item{{Quantity: 2, UnitPrice: price("50")}},
			itemsPrice: "100",
			shipping:   "10",
			tax:        "15",
			total:      "125",
		},
		{
			name:       "above 100 ships free",
			items:      []Item{{Quantity: 1, UnitPrice: price("100.01")}},
			itemsPrice: "100.01",
			shipping:   "0",
			tax:        "15",
			total:      "115.01",
		},
		{
			name:       "tax rounds to cents",
			items:      []Item{{Quantity: 3, UnitPrice: price("3.33")}},
			itemsPrice: "9.99",
			shipping:   "10",
			tax:        "1.5",
			total:      "21.49",
		},
		{
			name:       "several lines",
			items:      []Item{{Quantity: 1, UnitPrice: price("19.99")}, {Quantity: 4, UnitPrice: price("0.25")}},
			itemsPrice: "20.99",
			shipping:   "10",
			tax:        "3.15",
			total:      "34.14",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeTotals(tc.items)
			assert.True(t, got.Items.Equal(price(tc.itemsPrice)), "items %s", got.Items)
			assert.True(t, got.Shipping.Equal(price(tc.shipping)), "shipping %s", got.Shipping)
			assert.True(t, got.Tax.Equal(price(tc.tax)), "tax %s", got.Tax)
			assert.True(t, got.Total.Equal(price(tc.total)), "total %s", got.Total)
			assert.True(t, got.Total.Equal(got.Items.Add(got.Shipping).Add(got.Tax)))
		})
	}
}

func TestValidateRequest(t *testing.T) {
	lines := []LineRequest{{ProductID: "P1", Quantity: 1}}
	assert.ErrorIs(t, ValidateRequest(nil, &testShipping, PaymentCOD), apperr.ErrValidation)
	assert.ErrorIs(t, ValidateRequest(lines, nil, PaymentCOD), apperr.ErrValidation)
	assert.ErrorIs(t, ValidateRequest(lines, &testShipping, ""), apperr.ErrValidation)
	assert.ErrorIs(t, ValidateRequest(lines, &testShipping, "cheque"), apperr.ErrValidation)
	assert.ErrorIs(t, ValidateRequest([]LineRequest{{ProductID: "P1"}}, &testShipping, PaymentCOD), apperr.ErrValidation)
	assert.NoError(t, ValidateRequest(lines, &testShipping, PaymentCOD))
}

func TestNewSnapshotsPrices(t *testing.T) {
	o := newPending(t)
	assert.Equal(t, StatusPending, o.Status)
	assert.False(t, o.IsPaid)
	assert.True(t, o.TotalPrice.Equal(price("125")))
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("payment_received_stock_error")
	require.NoError(t, err)
	assert.Equal(t, StatusStockError, s)

	_, err = ParseStatus("lost")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestPaymentSuccessIsAppliedOnce(t *testing.T) {
	o := newPending(t)
	now := time.Now()

	require.NoError(t, o.ApplyPaymentSuccess(PaymentResult{TransactionID: "tx-1"}, now))
	assert.True(t, o.IsPaid)
	assert.NotNil(t, o.PaidAt)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.Equal(t, "successful", o.PaymentResult.Status)

	assert.ErrorIs(t, o.ApplyPaymentSuccess(PaymentResult{TransactionID: "tx-2"}, now), ErrPaymentSettled)
	assert.ErrorIs(t, o.ApplyPaymentFailure(PaymentResult{}, now), ErrPaymentSettled)
	assert.Equal(t, "tx-1", o.PaymentResult.TransactionID)
}

func TestPaymentFailure(t *testing.T) {
	o := newPending(t)
	require.NoError(t, o.ApplyPaymentFailure(PaymentResult{TransactionID: "tx-9"}, time.Now()))
	assert.False(t, o.IsPaid)
	assert.Equal(t, StatusPaymentFailed, o.Status)
	assert.ErrorIs(t, o.ApplyPaymentFailure(PaymentResult{}, time.Now()), ErrPaymentSettled)
	assert.ErrorIs(t, o.CanInitiatePayment(), apperr.ErrValidation)
}

func TestTerminalStatesIgnorePaymentOutcomes(t *testing.T) {
	for _, st := range []Status{StatusDelivered, StatusCancelled, StatusShipped} {
		o := newPending(t)
		o.Status = st
		assert.ErrorIs(t, o.ApplyPaymentSuccess(PaymentResult{}, time.Now()), ErrPaymentSettled, st)
		assert.ErrorIs(t, o.ApplyPaymentFailure(PaymentResult{}, time.Now()), ErrPaymentSettled, st)
		assert.Equal(t, st, o.Status)
	}
}

func TestStockErrorOnlyFromPaidProcessing(t *testing.T) {
	o := newPending(t)
	assert.ErrorIs(t, o.MarkStockError(time.Now()), ErrInvalidStateTransition)

	require.NoError(t, o.ApplyPaymentSuccess(PaymentResult{}, time.Now()))
	require.NoError(t, o.MarkStockError(time.Now()))
	assert.Equal(t, StatusStockError, o.Status)
	assert.True(t, o.IsPaid)
}

func TestPendingStockItemsAndReport(t *testing.T) {
	o := newPending(t,
		Item{ProductID: "P1", Quantity: 1, UnitPrice: price("5")},
		Item{ProductID: "P2", Quantity: 1, UnitPrice: price("5")},
		Item{ProductID: "P3", Quantity: 1, UnitPrice: price("5")},
	)
	o.RecordStockCommit(StockCommit{Index: 0, ProductID: "P1", Quantity: 1, Outcome: CommitCommitted})
	o.RecordStockCommit(StockCommit{Index: 1, ProductID: "P2", Quantity: 1, Outcome: CommitFailed, Reason: "insufficient stock"})

	assert.Equal(t, []int{1, 2}, o.PendingStockItems())

	report := o.CommitReport()
	require.Len(t, report, 3)
	assert.Equal(t, CommitCommitted, report[0].Outcome)
	assert.Equal(t, CommitFailed, report[1].Outcome)
	assert.Equal(t, CommitNotAttempted, report[2].Outcome)
}

func TestSetStatus(t *testing.T) {
	o := newPending(t)
	require.NoError(t, o.ApplyPaymentSuccess(PaymentResult{}, time.Now()))

	assert.False(t, o.SetStatus(StatusDelivered, time.Now()))
	first := *o.DeliveredAt
	o.SetStatus(StatusDelivered, first.Add(time.Hour))
	assert.Equal(t, first, *o.DeliveredAt, "delivered timestamp is set once")

	assert.True(t, o.SetStatus(StatusCancelled, time.Now()))
	assert.True(t, o.FollowUpOwed)
	assert.False(t, o.SetStatus(StatusCancelled, time.Now()), "follow-up is flagged once")

	unpaid := newPending(t)
	assert.False(t, unpaid.SetStatus(StatusCancelled, time.Now()))
}

func TestCloneIsDeep(t *testing.T) {
	o := newPending(t)
	require.NoError(t, o.ApplyPaymentSuccess(PaymentResult{TransactionID: "tx"}, time.Now()))
	c := o.Clone()
	c.Items[0].Quantity = 99
	c.PaymentResult.TransactionID = "changed"
	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.Equal(t, "tx", o.PaymentResult.TransactionID)
}

func TestUnpaidProcessingAcceptsPayment(t *testing.T) {
	o := newPending(t)
	o.SetStatus(StatusProcessing, time.Now())

	require.NoError(t, o.ApplyPaymentSuccess(PaymentResult{TransactionID: "tx-1"}, time.Now()))
	assert.True(t, o.IsPaid)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.ErrorIs(t, o.ApplyPaymentSuccess(PaymentResult{TransactionID: "tx-1"}, time.Now()), ErrPaymentSettled)
}

func TestSurplusCharge(t *testing.T) {
	o := newPending(t)
	assert.False(t, o.SurplusCharge(PaymentResult{GatewayOrderID: "g-1"}), "pending order takes the payment")

	require.NoError(t, o.ApplyPaymentSuccess(PaymentResult{TransactionID: "tx-1", GatewayOrderID: "g-1"}, time.Now()))
	assert.False(t, o.SurplusCharge(PaymentResult{TransactionID: "tx-1", GatewayOrderID: "g-1"}))
	assert.True(t, o.SurplusCharge(PaymentResult{TransactionID: "tx-2", GatewayOrderID: "g-2"}))
	assert.False(t, o.SurplusCharge(PaymentResult{}), "nothing to compare")

	byTx := newPending(t)
	require.NoError(t, byTx.ApplyPaymentSuccess(PaymentResult{TransactionID: "tx-1"}, time.Now()))
	assert.True(t, byTx.SurplusCharge(PaymentResult{TransactionID: "tx-2"}))

	cancelled := newPending(t)
	cancelled.SetStatus(StatusCancelled, time.Now())
	assert.True(t, cancelled.SurplusCharge(PaymentResult{GatewayOrderID: "g-1"}))
}
