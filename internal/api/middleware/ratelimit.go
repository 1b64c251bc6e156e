package middleware

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"shootout/pkg/ratelimit"
)

var rateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "shootout",
	Subsystem: "http",
	Name:      "rate_limited_total",
	Help:      "Player commands rejected by the per-IP rate limiter",
})

// RateLimit ограничивает частоту команд с одного IP (token bucket на ключ).
// При исчерпании ведра отвечает 429 rate_limited.
func RateLimit(limiter *ratelimit.KeyedLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(ClientIP(r)) {
				rateLimited.Inc()
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"too many requests","code":"rate_limited"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
