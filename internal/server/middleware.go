package server

import (
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"hookbox/internal/config"
)

// RateLimiter implements a simple token bucket rate limiter per client address
type RateLimiter struct {
	limiters  map[string]*rate.Limiter
	mu        sync.Mutex
	rateLimit rate.Limit // Requests per second
	burstSize int        // Maximum burst size
}

// NewRateLimiter creates a new rate limiter
// rateLimit: requests per second
// burstSize: maximum number of requests allowed in a burst
func NewRateLimiter(rateLimit rate.Limit, burstSize int) *RateLimiter {
	return &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		rateLimit: rateLimit,
		burstSize: burstSize,
	}
}

// GetLimiter returns the rate limiter for a given client.
// Creates a new limiter for the client if one doesn't exist
func (rl *RateLimiter) GetLimiter(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[client]
	if !exists {
		limiter = rate.NewLimiter(rl.rateLimit, rl.burstSize)
		rl.limiters[client] = limiter
	}

	return limiter
}

// clientKey returns the host part of RemoteAddr, so every connection from
// one client shares a bucket.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return host
}

// NewThrottleMiddleware allows t.Requests per t.Window for each client.
// The whole budget is available as a burst. RealIP runs earlier in the
// chain, so RemoteAddr is the client address.
func NewThrottleMiddleware(t config.Throttle, logger *slog.Logger) func(http.Handler) http.Handler {
	rps := rate.Limit(float64(t.Requests) / t.Window.Seconds())
	limiter := NewRateLimiter(rps, t.Requests)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientKey(r)

			if !limiter.GetLimiter(client).Allow() {
				logger.Warn("Rate limit exceeded", "client", client, "path", r.URL.Path)
				w.Header().Set("Retry-After", "60")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
