package paymob

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apppayment "github.com/Zhima-Mochi/minishop-saga/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/peer"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/retry"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T, h http.Handler, cfg Config) *Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := peer.New(Name, peer.Options{
		BaseURL: srv.URL,
		Timeout: time.Second,
		Retry:   retry.Policy{Attempts: 2, Backoff: time.Millisecond},
	})
	return New(c, cfg)
}

func TestRegisterHandshake(t *testing.T) {
	var keyReq paymentKeyRequest
	var orderReq orderRequest
	r := chi.NewRouter()
	r.Post(pathAuth, func(w http.ResponseWriter, r *http.Request) {
		var req authRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "api-key", req.APIKey)
		_ = json.NewEncoder(w).Encode(authResponse{Token: "auth-tok"})
	})
	r.Post(pathOrders, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&orderReq))
		_ = json.NewEncoder(w).Encode(orderResponse{ID: 424242})
	})
	r.Post(pathPaymentKeys, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&keyReq))
		_ = json.NewEncoder(w).Encode(paymentKeyResponse{Token: "pay-tok"})
	})
	g := newGateway(t, r, Config{APIKey: "api-key", IntegrationID: 77, IframeID: "9001", IframeBaseURL: "https://frames.test/iframes/"})

	reg, err := g.Register(context.Background(), apppayment.RegisterRequest{
		MerchantOrderID: "o-1",
		AmountCents:     12500,
		Currency:        "EGP",
		Billing:         dompayment.BillingData{Email: "a@b.c", FirstName: "Ada", Phone: "0100", City: "Cairo", Country: "EG"},
	})
	require.NoError(t, err)

	assert.Equal(t, "424242", reg.GatewayOrderID)
	assert.Equal(t, "pay-tok", reg.Redirect.PaymentToken)
	assert.Equal(t, "https://frames.test/iframes/9001?payment_token=pay-tok", reg.Redirect.IframeURL)

	assert.Equal(t, "auth-tok", orderReq.AuthToken)
	assert.Equal(t, "o-1", orderReq.MerchantOrderID)
	assert.Equal(t, int64(12500), orderReq.AmountCents)

	assert.Equal(t, int64(424242), keyReq.OrderID)
	assert.Equal(t, paymentKeyExpiry, keyReq.Expiration)
	assert.Equal(t, "true", keyReq.LockOrderWhenPaid)
	assert.Equal(t, 77, keyReq.IntegrationID)
	assert.Equal(t, "NA", keyReq.BillingData.Floor)
	assert.Equal(t, "NA", keyReq.BillingData.LastName)
	assert.Equal(t, "0100", keyReq.BillingData.PhoneNumber)
}

func TestRegisterAuthFailure(t *testing.T) {
	r := chi.NewRouter()
	r.Post(pathAuth, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	g := newGateway(t, r, Config{APIKey: "wrong"})

	_, err := g.Register(context.Background(), apppayment.RegisterRequest{MerchantOrderID: "o-1", AmountCents: 100})
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
}

const sampleObj = `{
  "id": 192036465,
  "pending": false,
  "amount_cents": 12500,
  "success": true,
  "is_auth": false,
  "is_capture": false,
  "is_standalone_payment": true,
  "is_voided": false,
  "is_refunded": false,
  "is_3d_secure": true,
  "integration_id": 4097558,
  "has_parent_transaction": false,
  "order": {"id": 424242},
  "created_at": "2026-01-02T03:04:05.123456",
  "currency": "EGP",
  "source_data": {"pan": "2346", "type": "card", "sub_type": "MasterCard"},
  "error_occured": false,
  "owner": 1751345,
  "data": {"message": "Approved"}
}`

func body(obj string) []byte { return []byte(`{"type":"TRANSACTION","obj":` + obj + `}`) }

func TestSignConcatenatesOrderedFields(t *testing.T) {
	sig, err := Sign([]byte(sampleObj), "secret")
	require.NoError(t, err)
	assert.Len(t, sig, 128)

	want := "12500" + "2026-01-02T03:04:05.123456" + "EGP" + "false" + "false" + "192036465" + "4097558" +
		"true" + "false" + "false" + "false" + "true" + "false" + "424242" + "1751345" + "false" +
		"2346" + "MasterCard" + "card" + "true"
	var fields map[string]any
	dec := json.NewDecoder(strings.NewReader(sampleObj))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&fields))
	got := ""
	for _, f := range hmacFields {
		got += stringify(lookup(fields, f))
	}
	assert.Equal(t, want, got)
}

func TestParseCallbackVerifiesSignature(t *testing.T) {
	g := New(peer.New(Name, peer.Options{}), Config{HMACSecret: "secret"})
	sig, err := Sign([]byte(sampleObj), "secret")
	require.NoError(t, err)

	cb, err := g.ParseCallback(body(sampleObj), sig)
	require.NoError(t, err)
	assert.Equal(t, apppayment.Callback{
		GatewayOrderID: "424242",
		TransactionID:  "192036465",
		Success:        true,
		AmountCents:    12500,
		Currency:       "EGP",
		Message:        "Approved",
		CreatedAt:      "2026-01-02T03:04:05.123456",
	}, cb)

	_, err = g.ParseCallback(body(sampleObj), "deadbeef")
	assert.ErrorIs(t, err, apppayment.ErrInvalidSignature)

	_, err = g.ParseCallback([]byte(`not json`), sig)
	require.Error(t, err)
	assert.NotErrorIs(t, err, apppayment.ErrInvalidSignature)
}

func TestParseCallbackWithoutSecret(t *testing.T) {
	g := New(peer.New(Name, peer.Options{}), Config{})
	cb, err := g.ParseCallback(body(`{"id": 1, "pending": true, "order": {"id": 7}}`), "")
	require.NoError(t, err)
	assert.True(t, cb.Pending)
	assert.Equal(t, "7", cb.GatewayOrderID)

	_, err = g.ParseCallback(body(`{"id": 1}`), "")
	assert.Error(t, err)
}

func TestRegisterOrderIsNotRetried(t *testing.T) {
	var authCalls, orderCalls int
	r := chi.NewRouter()
	r.Post(pathAuth, func(w http.ResponseWriter, r *http.Request) {
		authCalls++
		if authCalls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(authResponse{Token: "auth-tok"})
	})
	r.Post(pathOrders, func(w http.ResponseWriter, r *http.Request) {
		orderCalls++
		w.WriteHeader(http.StatusBadGateway)
	})
	g := newGateway(t, r, Config{APIKey: "api-key"})

	_, err := g.Register(context.Background(), apppayment.RegisterRequest{MerchantOrderID: "o-1-pay-1", AmountCents: 100})
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	assert.Equal(t, 2, authCalls, "authentication is safe to retry")
	assert.Equal(t, 1, orderCalls, "a lost order registration is not sent twice")
}
