// Package admin exposes the server's operational HTTP surface: Prometheus
// scrape target, a JSON counters snapshot, and a liveness probe. It is only
// started when a metrics address is configured, using go-chi/chi for
// routing.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/etrian-dev/ramfsd/internal/store"
)

// Router builds the admin HTTP handler: /metrics for Prometheus scraping,
// /stats for a JSON counters snapshot, /healthz for liveness.
func Router(s *store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.Counters())
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

// Serve starts the admin HTTP server on addr. It blocks until the listener
// fails or the server is shut down; callers run it in its own goroutine.
func Serve(addr string, s *store.Store) error {
	return http.ListenAndServe(addr, Router(s))
}
