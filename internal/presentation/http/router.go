package httppresentation

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// newRouter returns a chi router with the middleware chain, /health and, when given, /metrics.
func newRouter(mw *Middleware, metrics http.Handler) chi.Router {
	r := chi.NewRouter()
	mw.Install(r)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorStatus(w, r, http.StatusNotFound, CodeNotFound, fmt.Errorf("no route for %s %s", r.Method, r.URL.Path))
	})
	return r
}
