package server

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cortexmem/cortex/pkg/metrics"
)

// responseWriter captures the status code for logging and metrics.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// requestMetrics records per-route counters and latency, keyed by the
// chi route pattern so path parameters don't explode cardinality.
func (s *Server) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(r.Method, pattern, strconv.Itoa(wrapped.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(pattern).Observe(elapsed.Seconds())

		if wrapped.status >= 500 {
			s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path,
				"status", wrapped.status, "duration_ms", elapsed.Milliseconds())
		} else {
			s.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
				"status", wrapped.status, "duration_ms", elapsed.Milliseconds())
		}
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in handler", "panic", rec, "stack", string(debug.Stack()))
				s.writeError(w, fmt.Errorf("internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
