package httppresentation

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	appinventory "github.com/Zhima-Mochi/minishop-saga/internal/application/inventory"
	dominventory "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/peer"
	"github.com/go-chi/chi/v5"
)

const headerIdempotentReplayed = "Idempotent-Replayed"

type ProductReader interface {
	Execute(ctx context.Context, productID string) (*dominventory.Product, error)
}

type InventoryUseCases struct {
	GetProduct ProductReader
	Decrease   application.UseCase[appinventory.DecreaseStockInput, *appinventory.DecreaseStockOutput]
}

type inventoryHandler struct {
	uc InventoryUseCases
}

func NewInventoryRouter(uc InventoryUseCases, internalSecret string, mw *Middleware, metrics http.Handler) http.Handler {
	h := &inventoryHandler{uc: uc}
	r := newRouter(mw, metrics)

	r.Get("/products/{id}", h.getProduct)
	r.With(RequireInternal(internalSecret)).Patch("/products/{id}/stock/decrease", h.decrease)
	return r
}

func (h *inventoryHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.uc.GetProduct.Execute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func (h *inventoryHandler) decrease(w http.ResponseWriter, r *http.Request) {
	var req decreaseStockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.uc.Decrease.Execute(r.Context(), appinventory.DecreaseStockInput{
		ProductID:      chi.URLParam(r, "id"),
		Quantity:       req.Quantity,
		IdempotencyKey: r.Header.Get(peer.HeaderIdempotencyKey),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set(headerIdempotentReplayed, strconv.FormatBool(out.Replayed))
	writeJSON(w, http.StatusOK, out.Level)
}
