package httppresentation

import (
	"encoding/json"
	"errors"
	"net/http"

	appinventory "github.com/Zhima-Mochi/minishop-saga/internal/application/inventory"
	apppayment "github.com/Zhima-Mochi/minishop-saga/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
)

const (
	CodeValidation          = "VALIDATION"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeInsufficientStock   = "INSUFFICIENT_STOCK"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeUnavailable         = "SERVICE_UNAVAILABLE"
	CodeInternal            = "INTERNAL"
)

type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// statusOf maps the apperr taxonomy onto HTTP. Order matters: specific sentinels wrap general ones.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, appinventory.ErrIdempotencyUnavailable), errors.Is(err, apppayment.ErrIdempotencyUnavailable):
		return http.StatusServiceUnavailable, CodeUnavailable
	case errors.Is(err, apperr.ErrInsufficientStock):
		return http.StatusBadRequest, CodeInsufficientStock
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, apperr.ErrUpstreamUnavailable):
		return http.StatusInternalServerError, CodeUpstreamUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError answers with the mapped status. 5xx bodies stay generic; the detail goes to the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	writeErrorStatus(w, r, status, code, err)
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, code string, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logctx.FromOr(r.Context(), nil).Error("http_request_failed",
			observability.F("status", status),
			observability.F("code", code),
			observability.F("error", err),
		)
		msg = http.StatusText(status)
		if code == CodeUpstreamUnavailable {
			msg = "a dependent service is unavailable"
		}
	}
	writeJSON(w, status, errorResponse{Message: msg, Code: code})
}
