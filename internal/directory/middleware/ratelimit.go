package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// Limiter is implemented by ratelimit.Limiter.
type Limiter interface {
	Allow(key string, limit int) bool
}

// RateLimit enforces each key's configured rate limit. It runs after Auth;
// requests without key metadata pass through.
func RateLimit(limiter Limiter, window time.Duration) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(window.Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := GetKeyInfo(r.Context())
			if exempt(r) || info == nil {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(info.ID, info.RateLimit) {
				w.Header().Set("Retry-After", retryAfter)
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
