package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// IPRequestsPerMinute caps all requests from one client IP.
	IPRequestsPerMinute int
	// TriggersPerMinute caps sync triggers per app and client IP. Each
	// trigger supersedes the running session, so a hot loop would keep any
	// sync from finishing. 0 disables the trigger limit.
	TriggersPerMinute int
}

// DefaultRateLimitConfig returns the limits used by the server.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		IPRequestsPerMinute: 300,
		TriggersPerMinute:   6,
	}
}

// RateLimitByIP returns a middleware that rate limits by IP address.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// RateLimitTriggers returns a middleware that limits POST requests per path
// and client IP. Other methods pass through.
func RateLimitTriggers(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.TriggersPerMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := httprate.NewRateLimiter(
		cfg.TriggersPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP, func(r *http.Request) (string, error) {
			return r.URL.Path, nil
		}),
	)

	return func(next http.Handler) http.Handler {
		limited := limiter.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}
