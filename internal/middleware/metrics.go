package middleware

import (
	"net/http"
	"strconv"

	"github.com/bryanwahyu/automaton-sca/internal/metrics"
)

// Metrics tracks request counts by status class and in-flight requests.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.HTTPInFlight.Inc()
		defer metrics.HTTPInFlight.Dec()

		wrapped := wrapWriter(w)
		next.ServeHTTP(wrapped, r)

		metrics.HTTPRequests.WithLabelValues(statusClass(wrapped.statusCode)).Inc()
	})
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
