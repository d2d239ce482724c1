package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/prometheus"
)

// Metrics records per-request counters and latency on the shared metric
// set.  The path label uses the chi route pattern, not the raw URL, to
// keep cardinality bounded.
func Metrics(app *prometheus.AppMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gauge := app.HTTPActiveRequests.WithLabelValues(r.Method)
			gauge.Inc()
			defer gauge.Dec()

			wrapped := &wrappedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(wrapped, r)

			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = "unmatched"
			}
			app.RecordHTTPRequest(r.Method, pattern, wrapped.statusCode, time.Since(start))
		})
	}
}
