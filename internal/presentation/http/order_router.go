package httppresentation

import (
	"context"
	"errors"
	"net/http"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	apporder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/identity"
	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	dompayment "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/saga"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/peer"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type OrderQueries interface {
	application.UseCase[apporder.GetOrderInput, *domorder.Order]
	ListMine(ctx context.Context, caller identity.Principal) ([]*domorder.Order, error)
	ListAll(ctx context.Context, caller identity.Principal) ([]*domorder.Order, error)
}

type Reconciliation interface {
	application.UseCase[apporder.ResolveTicketInput, *saga.Ticket]
	ListOpen(ctx context.Context, caller identity.Principal) ([]*saga.Ticket, error)
}

// OrderUseCases is everything the order service exposes over HTTP.
type OrderUseCases struct {
	Create         application.UseCase[apporder.CreateOrderInput, *domorder.Order]
	Initiate       application.UseCase[apporder.InitiatePaymentInput, *dompayment.Redirect]
	ApplyPayment   application.UseCase[apporder.ApplyPaymentResultInput, *apporder.ApplyPaymentResultOutput]
	UpdateStatus   application.UseCase[apporder.UpdateOrderStatusInput, *domorder.Order]
	Queries        OrderQueries
	Reconciliation Reconciliation
}

type orderHandler struct {
	uc OrderUseCases
}

func NewOrderRouter(uc OrderUseCases, auth Verifier, internalSecret string, mw *Middleware, metrics http.Handler) http.Handler {
	h := &orderHandler{uc: uc}
	r := newRouter(mw, metrics)

	r.Group(func(r chi.Router) {
		r.Use(RequireInternal(internalSecret))
		r.Put("/orders/{id}/payment-status", h.applyPayment)
	})
	r.Group(func(r chi.Router) {
		r.Use(RequireUser(auth))
		r.Post("/orders", h.create)
		r.Get("/orders", h.listAll)
		r.Get("/orders/mine", h.listMine)
		r.Get("/orders/{id}", h.get)
		r.Post("/orders/{id}/initiate-payment", h.initiatePayment)
		r.Put("/orders/{id}/status", h.updateStatus)
		r.Get("/reconciliation", h.listTickets)
		r.Post("/reconciliation/{id}/resolve", h.resolveTicket)
	})
	return r
}

func (h *orderHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.uc.Create.Execute(r.Context(), apporder.CreateOrderInput{
		Caller:        caller(r),
		Lines:         req.lines(),
		Shipping:      req.shipping(),
		PaymentMethod: domorder.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		// A product that cannot be resolved is the client's problem at checkout.
		if errors.Is(err, apperr.ErrUpstreamUnavailable) {
			writeErrorStatus(w, r, http.StatusBadRequest, CodeUpstreamUnavailable, errors.New("could not resolve order items, try again"))
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (h *orderHandler) get(w http.ResponseWriter, r *http.Request) {
	o, err := h.uc.Queries.Execute(r.Context(), apporder.GetOrderInput{Caller: caller(r), OrderID: chi.URLParam(r, "id")})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *orderHandler) listMine(w http.ResponseWriter, r *http.Request) {
	orders, err := h.uc.Queries.ListMine(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

func (h *orderHandler) listAll(w http.ResponseWriter, r *http.Request) {
	orders, err := h.uc.Queries.ListAll(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

func (h *orderHandler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	redirect, err := h.uc.Initiate.Execute(r.Context(), apporder.InitiatePaymentInput{Caller: caller(r), OrderID: chi.URLParam(r, "id")})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redirect)
}

func (h *orderHandler) applyPayment(w http.ResponseWriter, r *http.Request) {
	var req peer.PaymentStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pr := req.PaymentResult
	out, err := h.uc.ApplyPayment.Execute(r.Context(), apporder.ApplyPaymentResultInput{
		OrderID: chi.URLParam(r, "id"),
		Status:  dompayment.Status(req.Status),
		Result: domorder.PaymentResult{
			TransactionID:  pr.ID,
			Status:         pr.Status,
			UpdateTime:     pr.UpdateTime,
			GatewayOrderID: pr.GatewayOrderID,
			Message:        pr.Message,
			Amount:         decimal.New(pr.AmountCents, -2),
			Currency:       pr.Currency,
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(out.Order))
}

func (h *orderHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.uc.UpdateStatus.Execute(r.Context(), apporder.UpdateOrderStatusInput{
		Caller:  caller(r),
		OrderID: chi.URLParam(r, "id"),
		Status:  req.Status,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *orderHandler) listTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.uc.Reconciliation.ListOpen(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]ticketResponse, len(tickets))
	for i, t := range tickets {
		out[i] = toTicketResponse(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *orderHandler) resolveTicket(w http.ResponseWriter, r *http.Request) {
	var req resolveTicketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.uc.Reconciliation.Execute(r.Context(), apporder.ResolveTicketInput{
		Caller:   caller(r),
		TicketID: chi.URLParam(r, "id"),
		Note:     req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketResponse(t))
}
