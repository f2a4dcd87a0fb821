package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// HTTPMiddleware times every request through the chi router and records it
// against TradingMetrics, labeling by the matched route pattern
// ("/webhooks/{id}") rather than the raw request path, so a client hitting
// distinct webhook IDs doesn't fan a single route out into unbounded label
// cardinality.
func HTTPMiddleware(m *TradingMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			sw := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			elapsed := time.Since(start).Seconds()
			pattern := routePattern(r)

			m.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, sw.statusClass()).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(elapsed)
		})
	}
}

// routePattern returns the chi route pattern matched for r, falling back to
// the raw path when the middleware runs outside chi's routing context (unit
// tests calling the handler directly, for instance).
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// statusCapturingWriter records the status code a handler wrote so the
// middleware can label metrics after ServeHTTP returns.
type statusCapturingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusCapturingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// statusClass buckets the captured status into its "2xx"/"3xx"/"4xx"/"5xx" class,
// keeping the status label's cardinality fixed regardless of how many exact
// codes a handler can return.
func (w *statusCapturingWriter) statusClass() string {
	switch {
	case w.status >= 500:
		return "5xx"
	case w.status >= 400:
		return "4xx"
	case w.status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
