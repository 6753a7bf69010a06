package httppresentation

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-saga/internal/domain/identity"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/peer"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Verifier turns a bearer token into the caller it names.
type Verifier interface {
	Verify(raw string) (identity.Principal, error)
}

// RequireUser rejects requests without a valid bearer token and stores the caller on the context.
func RequireUser(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r)
			if !ok {
				writeError(w, r, apperr.ErrUnauthorized)
				return
			}
			p, err := v.Verify(raw)
			if err != nil {
				logctx.FromOr(r.Context(), nil).Debug("token_rejected", observability.F("error", err))
				writeErrorStatus(w, r, http.StatusUnauthorized, CodeUnauthorized, errors.New("not authorized, token failed"))
				return
			}

			ctx := identity.With(r.Context(), p)
			ctx = logctx.With(ctx, logctx.FromOr(ctx, nil).With(observability.F("user_id", p.UserID)))
			trace.SpanFromContext(ctx).SetAttributes(attribute.String("enduser.id", p.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireInternal admits only peers presenting the shared internal secret.
func RequireInternal(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(peer.HeaderInternalToken)
			if secret == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeErrorStatus(w, r, http.StatusForbidden, CodeForbidden, errors.New("internal endpoint"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// caller returns the principal RequireUser stored. Handlers behind it always have one.
func caller(r *http.Request) identity.Principal {
	p, _ := identity.From(r.Context())
	return p
}
