package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter keeps a token bucket per client IP. Buckets idle past the
// eviction window are dropped so the map does not grow with every IP that
// ever connected.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	limit     rate.Limit
	burst     int
	idleAfter time.Duration
	lastSweep time.Time
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing n requests per window, with a
// burst of n.
func NewRateLimiter(n int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters:  make(map[string]*ipLimiter),
		limit:     rate.Every(window / time.Duration(n)),
		burst:     n,
		idleAfter: 3 * window,
		lastSweep: time.Now(),
	}
}

func (l *RateLimiter) limiterFor(clientIP string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > l.idleAfter {
		for ip, entry := range l.limiters {
			if now.Sub(entry.lastSeen) > l.idleAfter {
				delete(l.limiters, ip)
			}
		}
		l.lastSweep = now
	}

	entry, ok := l.limiters[clientIP]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[clientIP] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// RateLimit middleware limits requests per IP
func RateLimit(n int, window time.Duration) gin.HandlerFunc {
	limiter := NewRateLimiter(n, window)

	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if !limiter.limiterFor(clientIP).Allow() {
			slog.Warn("rate limit exceeded",
				"client_ip", clientIP,
				"request_id", GetRequestID(c),
			)

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Please try again later.",
			})
			return
		}

		c.Next()
	}
}
