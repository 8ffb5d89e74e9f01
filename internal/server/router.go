// internal/server/router.go
//
// Operational routes of the worker: Prometheus scrape and liveness.

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

const checkTimeout = 2 * time.Second

// Router mounts /metrics and /healthz.  Every named check must pass for
// /healthz to answer 200.
func Router(checks map[string]Check) http.Handler {
	r := chi.NewRouter()
	r.Use(NoStore)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), checkTimeout)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				zap.S().Warnw("health check failed", "check", name, "err", err)
				http.Error(w, name+" unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}
