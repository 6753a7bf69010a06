package peer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apporder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	apppayment "github.com/Zhima-Mochi/minishop-saga/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/id"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/retry"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = retry.Policy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

func newClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New("test-peer", Options{BaseURL: srv.URL, InternalToken: "s3cret", Timeout: time.Second, Retry: fastRetry})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLookupSendsTokenAndDecodes(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderInternalToken) != "s3cret" {
			writeJSON(w, http.StatusForbidden, errorBody{Message: "forbidden"})
			return
		}
		if chi.URLParam(r, "id") != "P1" {
			writeJSON(w, http.StatusNotFound, errorBody{Message: "Product not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"_id": "P1", "name": "Mug", "price": "50.00", "images": []string{"/img/mug.jpg"}})
	})
	inv := NewInventory(newClient(t, r))

	item, err := inv.Lookup(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "P1", item.ProductID)
	assert.Equal(t, "Mug", item.Name)
	assert.Equal(t, "/img/mug.jpg", item.Image)
	assert.True(t, item.Price.Equal(decimal.RequireFromString("50")))

	_, err = inv.Lookup(context.Background(), "P9")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDecreaseStockMapsErrors(t *testing.T) {
	var keys []string
	r := chi.NewRouter()
	r.Patch("/products/{id}/stock/decrease", func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get(HeaderIdempotencyKey))
		var body decreaseRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch chi.URLParam(r, "id") {
		case "P1":
			writeJSON(w, http.StatusOK, map[string]any{"_id": "P1", "stockQuantity": 10 - body.Quantity, "isLowStock": true})
		case "P2":
			writeJSON(w, http.StatusBadRequest, errorBody{Message: "Insufficient stock", Code: CodeInsufficientStock})
		case "P3":
			writeJSON(w, http.StatusBadRequest, errorBody{Message: "quantity must be positive"})
		default:
			writeJSON(w, http.StatusNotFound, errorBody{Message: "Product not found"})
		}
	})
	inv := NewInventory(newClient(t, r))
	ctx := context.Background()

	level, err := inv.DecreaseStock(ctx, "P1", 2, "order:o-1:item:0")
	require.NoError(t, err)
	assert.Equal(t, 8, level.StockQuantity)
	assert.True(t, level.IsLowStock)

	_, err = inv.DecreaseStock(ctx, "P2", 1, "order:o-1:item:1")
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	_, err = inv.DecreaseStock(ctx, "P3", 1, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = inv.DecreaseStock(ctx, "P4", 1, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Equal(t, []string{"order:o-1:item:0", "order:o-1:item:1", "", ""}, keys, "4xx answers are not retried")
}

func TestRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Message: "busy"})
			return
		}
		writeJSON(w, http.StatusOK, dompayment.Redirect{PaymentToken: "tok", IframeURL: "https://pay/1?payment_token=tok"})
	})
	payments := NewPayments(newClient(t, h), "paymob")

	redirect, err := payments.Initiate(context.Background(), apporder.PaymentRequest{
		OrderID: "o-1", OwnerID: "u-1", Amount: decimal.RequireFromString("125"),
	})
	require.NoError(t, err)
	assert.Equal(t, "tok", redirect.PaymentToken)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExhaustedRetriesAreUpstream(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadGateway, errorBody{Message: "down"})
	})
	orders := NewOrders(newClient(t, h))

	err := orders.Notify(context.Background(), dompayment.Outcome{OrderID: "o-1", Status: dompayment.StatusSuccessful})
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.Equal(t, int32(fastRetry.Attempts), calls.Load())
}

func TestUnreachablePeerIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := New("gone", Options{BaseURL: srv.URL, Timeout: 100 * time.Millisecond, Retry: fastRetry})

	err := c.Do(context.Background(), http.MethodGet, "/x", nil, nil, nil)
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
}

func TestNotifyBody(t *testing.T) {
	var got PaymentStatusRequest
	r := chi.NewRouter()
	r.Put("/orders/{id}/payment-status", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "o-1", chi.URLParam(r, "id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]string{"status": "processing"})
	})
	orders := NewOrders(newClient(t, r))

	require.NoError(t, orders.Notify(context.Background(), dompayment.Outcome{
		OrderID: "o-1", Status: dompayment.StatusSuccessful, TransactionID: "tx-1", GatewayOrderID: "1001", AmountCents: 12500, Currency: "EGP",
	}))
	assert.Equal(t, "successful", got.Status)
	assert.Equal(t, "tx-1", got.PaymentResult.ID)
	assert.Equal(t, "1001", got.PaymentResult.GatewayOrderID)
	assert.Equal(t, int64(12500), got.PaymentResult.AmountCents)
}

type countingGateway struct{ n atomic.Int32 }

func (g *countingGateway) Name() string { return "paymob" }

func (g *countingGateway) Register(_ context.Context, _ apppayment.RegisterRequest) (*apppayment.Registration, error) {
	gid := strconv.Itoa(int(1000 + g.n.Add(1)))
	return &apppayment.Registration{GatewayOrderID: gid, Redirect: dompayment.Redirect{PaymentToken: "tok-" + gid}}, nil
}

func (g *countingGateway) ParseCallback([]byte, string) (apppayment.Callback, error) {
	return apppayment.Callback{}, nil
}

func TestInitiateRetryAfterLostResponseRegistersOnce(t *testing.T) {
	repo := memory.NewPaymentRepository()
	gw := &countingGateway{}
	uc := apppayment.NewInitiatePaymentUseCase(repo, gw, memory.NewIdempotencyStore(time.Minute, time.Minute), id.NewUUIDGenerator(), "", nil)

	var (
		mu    sync.Mutex
		keys  []string
		calls atomic.Int32
	)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get(HeaderIdempotencyKey))
		mu.Unlock()
		var req InitiateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Message: err.Error()})
			return
		}
		redirect, err := uc.Execute(r.Context(), apppayment.InitiatePaymentInput{
			Gateway:        "paymob",
			OrderID:        req.OrderID,
			OwnerID:        req.UserID,
			Amount:         req.Amount,
			Billing:        req.BillingData,
			IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorBody{Message: err.Error()})
			return
		}
		// The work is done but the first answer never reaches the caller.
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusBadGateway, errorBody{Message: "upstream connection reset"})
			return
		}
		writeJSON(w, http.StatusOK, redirect)
	})
	payments := NewPayments(newClient(t, h), "paymob")

	redirect, err := payments.Initiate(context.Background(), apporder.PaymentRequest{
		OrderID: "o-1",
		OwnerID: "u-1",
		Amount:  decimal.RequireFromString("125"),
		Billing: dompayment.BillingData{Email: "ada@example.com", FirstName: "Ada", Phone: "0100", City: "Cairo", Country: "EG"},
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-1001", redirect.PaymentToken)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), gw.n.Load(), "the retry reuses the stored pending payment")
	assert.Equal(t, []string{"order:o-1:payment", "order:o-1:payment"}, keys)

	p, err := repo.FindPendingByOrderID(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, "1001", p.GatewayOrderID)
}

func TestDoOnceDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadGateway, errorBody{Message: "down"})
	})
	c := newClient(t, h)

	err := c.DoOnce(context.Background(), http.MethodPost, "/orders", nil, map[string]string{"a": "b"}, nil)
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}
