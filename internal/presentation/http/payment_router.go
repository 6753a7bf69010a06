package httppresentation

import (
	"io"
	"net/http"
	"strings"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	apppayment "github.com/Zhima-Mochi/minishop-saga/internal/application/payment"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/peer"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
	"github.com/go-chi/chi/v5"
)

type PaymentUseCases struct {
	Initiate application.UseCase[apppayment.InitiatePaymentInput, *dompayment.Redirect]
	Callback application.UseCase[apppayment.CallbackInput, *apppayment.CallbackResult]
}

type paymentHandler struct {
	uc PaymentUseCases
}

type callbackAck struct {
	Received bool   `json:"received"`
	Result   string `json:"result"`
}

func NewPaymentRouter(uc PaymentUseCases, internalSecret string, mw *Middleware, metrics http.Handler) http.Handler {
	h := &paymentHandler{uc: uc}
	r := newRouter(mw, metrics)

	r.With(RequireInternal(internalSecret)).Post("/payments/initiate/{gateway}", h.initiate)
	r.Post("/payments/callback/{gateway}", h.callback)
	r.Get("/payments/callback/{gateway}", h.callbackRedirect)
	return r
}

func (h *paymentHandler) initiate(w http.ResponseWriter, r *http.Request) {
	var req peer.InitiateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	redirect, err := h.uc.Initiate.Execute(r.Context(), apppayment.InitiatePaymentInput{
		Gateway:        chi.URLParam(r, "gateway"),
		OrderID:        req.OrderID,
		OwnerID:        req.UserID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Billing:        req.BillingData,
		IdempotencyKey: r.Header.Get(peer.HeaderIdempotencyKey),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redirect)
}

// callback always answers 200 so the gateway does not retry; the result field says what happened.
func (h *paymentHandler) callback(w http.ResponseWriter, r *http.Request) {
	log := logctx.FromOr(r.Context(), nil)
	gateway := chi.URLParam(r, "gateway")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("payment_callback_body_unreadable", observability.F("error", err))
		writeJSON(w, http.StatusOK, callbackAck{Received: true, Result: apppayment.ResultMalformed})
		return
	}

	res, err := h.uc.Callback.Execute(r.Context(), apppayment.CallbackInput{
		Gateway:   gateway,
		Body:      body,
		Signature: r.URL.Query().Get("hmac"),
	})
	result := apppayment.ResultError
	if res != nil {
		result = res.Result
	}
	if err != nil {
		log.Error("payment_callback_failed", observability.F("gateway", gateway), observability.F("error", err))
	}
	writeJSON(w, http.StatusOK, callbackAck{Received: true, Result: result})
}

// callbackRedirect is where the gateway sends the customer's browser; the webhook is authoritative.
func (h *paymentHandler) callbackRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	msg := "Payment is being processed."
	switch {
	case strings.EqualFold(q.Get("pending"), "true"):
	case strings.EqualFold(q.Get("success"), "true"):
		msg = "Payment received. Your order will be updated shortly."
	case q.Get("success") != "":
		msg = "Payment was not completed."
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, msg)
}
