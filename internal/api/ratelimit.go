package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sathlab/medq/internal/log"
)

const (
	// limiterSweepInterval is how often stale client buckets are dropped.
	limiterSweepInterval = 5 * time.Minute

	// limiterStaleAfter is how long an idle client keeps its bucket.
	limiterStaleAfter = 10 * time.Minute
)

// rateLimiter holds one token bucket per client address. Buckets for
// idle clients are swept inline during allow calls, so the map stays
// bounded without a background goroutine.
type rateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

type bucket struct {
	limiter *rate.Limiter
	seenAt  time.Time
}

// newRateLimiter creates a limiter refilling r tokens per second with
// the given burst, which is also a new client's initial allowance.
func newRateLimiter(r float64, burst int) *rateLimiter {
	return &rateLimiter{
		buckets:   make(map[string]*bucket),
		limit:     rate.Limit(r),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// allow reports whether a request from addr is within its budget.
func (rl *rateLimiter) allow(addr string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.sweep(now)

	b, ok := rl.buckets[addr]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[addr] = b
	}
	b.seenAt = now
	return b.limiter.Allow()
}

// sweep drops buckets idle past the threshold. Caller holds rl.mu.
func (rl *rateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < limiterSweepInterval {
		return
	}
	for addr, b := range rl.buckets {
		if now.Sub(b.seenAt) > limiterStaleAfter {
			delete(rl.buckets, addr)
		}
	}
	rl.lastSweep = now
}

// rateLimitMiddleware rejects clients over their per-address budget
// with 429 and a Retry-After hint.
func rateLimitMiddleware(rl *rateLimiter, trustProxy bool, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := clientIP(r, trustProxy)
			if !rl.allow(addr) {
				logger.Warn("rate limit exceeded",
					"ip", addr,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client address for rate limiting.
//
// With trustProxy, X-Real-IP is preferred, then the first entry of
// X-Forwarded-For; both are validated with net.ParseIP so arbitrary
// header strings cannot become limiter keys. Without it, only
// RemoteAddr counts, which is the safe default for direct exposure.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
				return ip.String()
			}
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			raw := xff
			if first, _, ok := strings.Cut(xff, ","); ok {
				raw = first
			}
			if ip := net.ParseIP(strings.TrimSpace(raw)); ip != nil {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
