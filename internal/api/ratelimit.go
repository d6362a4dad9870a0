package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/ephemgo/internal/httputil"
	"github.com/star/ephemgo/internal/metrics"
)

// RateLimitConfig controls per-client request limiting.
type RateLimitConfig struct {
	Enabled    bool
	Rate       float64 // requests per second per client
	Burst      int
	TrustProxy bool // honour X-Forwarded-For / X-Real-IP
}

// ipRateLimiter hands out one token bucket per client address.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	r        rate.Limit
	b        int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(r rate.Limit, b int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*clientLimiter),
		r:        r,
		b:        b,
	}
}

// get returns the limiter for ip, creating it on first use.
func (l *ipRateLimiter) get(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	cl, ok := l.limiters[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.r, l.b)}
		l.limiters[ip] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// sweep drops limiters idle since before cutoff.
func (l *ipRateLimiter) sweep(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed int
	for ip, cl := range l.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
			removed++
		}
	}
	return removed
}

const limiterIdleTTL = 10 * time.Minute

func rateLimitMiddleware(cfg RateLimitConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if !cfg.Enabled || cfg.Rate <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	limiter := newIPRateLimiter(rate.Limit(cfg.Rate), burst)
	retryAfter := strconv.Itoa(int(max(1, 1/cfg.Rate)))

	var mu sync.Mutex
	lastSweep := time.Now()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if probePath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			now := time.Now()
			mu.Lock()
			if now.Sub(lastSweep) > limiterIdleTTL {
				lastSweep = now
				if n := limiter.sweep(now.Add(-limiterIdleTTL)); n > 0 {
					logger.Debug("rate limiter sweep", "removed", n)
				}
			}
			mu.Unlock()

			ip := httputil.ClientIP(r, cfg.TrustProxy)
			if !limiter.get(ip, now).Allow() {
				metrics.IncRateLimited()
				w.Header().Set("Retry-After", retryAfter)
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
