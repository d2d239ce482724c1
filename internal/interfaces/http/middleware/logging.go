package middleware

import (
	"bufio"
	"net"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/medimorph/medimorph/internal/infrastructure/monitoring/logging"
	"github.com/medimorph/medimorph/pkg/errors"
)

// LoggingConfig holds request logging settings.
type LoggingConfig struct {
	// SkipPaths are high-frequency paths that would only add noise.
	SkipPaths []string

	// SlowThreshold marks requests logged at Warn level.
	SlowThreshold time.Duration
}

// DefaultLoggingConfig returns the standard settings.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:     []string{"/healthz", "/readyz", "/metrics"},
		SlowThreshold: 3 * time.Second,
	}
}

// wrappedResponseWriter captures the status code and bytes written.
type wrappedResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func (w *wrappedResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *wrappedResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

func (w *wrappedResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, errors.New(errors.ErrCodeInternal, "response writer does not support hijacking")
}

func (w *wrappedResponseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// RequestLogging logs every request with method, path, status, and
// duration.  5xx responses log at Error, 4xx and slow requests at Warn.
func RequestLogging(logger logging.Logger, config LoggingConfig) func(http.Handler) http.Handler {
	log := logger.Named("http")
	skip := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			wrapped := &wrappedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(wrapped, r)
			elapsed := time.Since(start)

			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", wrapped.statusCode),
				logging.Int64("bytes", wrapped.bytesWritten),
				logging.Duration("duration", elapsed),
				logging.String("request_id", chimw.GetReqID(r.Context())),
			}

			switch {
			case wrapped.statusCode >= 500:
				log.Error("Request failed", fields...)
			case wrapped.statusCode >= 400:
				log.Warn("Request rejected", fields...)
			case config.SlowThreshold > 0 && elapsed > config.SlowThreshold:
				log.Warn("Slow request", fields...)
			default:
				log.Info("Request completed", fields...)
			}
		})
	}
}
