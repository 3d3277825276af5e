package httpmiddleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-client rate limiter.
type RateLimitConfig struct {
	// RPS is the sustained request rate allowed per key.
	RPS float64
	// Burst is the short-term burst allowed per key.
	Burst int
	// KeyFunc extracts the limiter key from a request. Defaults to the
	// client IP.
	KeyFunc func(*http.Request) string
	// IdleTTL is how long an idle key is kept before eviction.
	IdleTTL time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit enforces a per-key token bucket. Over-limit requests get 429
// with a Retry-After hint. Idle keys are evicted lazily on lookup.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}

	var (
		mu      sync.Mutex
		clients = make(map[string]*clientLimiter)
	)

	lookup := func(key string, now time.Time) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		for k, c := range clients {
			if now.Sub(c.lastSeen) > cfg.IdleTTL {
				delete(clients, k)
			}
		}
		c, ok := clients[key]
		if !ok {
			c = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)}
			clients[key] = c
		}
		c.lastSeen = now
		return c.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := lookup(cfg.KeyFunc(r), time.Now())
			if !limiter.Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(int(1/cfg.RPS)+1))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":    http.StatusTooManyRequests,
					"message": "rate limit exceeded",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
