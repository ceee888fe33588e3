package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestID())
	router.Use(RateLimit(5, time.Minute)) // 5 requests per minute
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	// Make 5 requests - all should succeed
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Request %d: Expected status 200, got %d", i+1, w.Code)
		}
	}

	// 6th request should be rate limited
	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", w.Code)
	}
}

func TestRateLimitDifferentIPs(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RateLimit(2, time.Minute))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	// Different IPs should have separate limits
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}

	// New IP should not be rate limited
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.2")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Different IP should not be rate limited, got %d", w.Code)
	}
}

func TestNewRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(100, time.Minute)

	if limiter == nil {
		t.Fatal("Expected non-nil limiter")
	}
	if limiter.burst != 100 {
		t.Errorf("Expected burst 100, got %d", limiter.burst)
	}

	// Same IP gets the same bucket back
	if limiter.limiterFor("1.2.3.4") != limiter.limiterFor("1.2.3.4") {
		t.Error("Expected the same limiter for a repeated IP")
	}
}

func TestRateLimiterEvictsIdle(t *testing.T) {
	limiter := NewRateLimiter(5, time.Minute)

	limiter.limiterFor("10.0.0.1")
	limiter.limiterFor("10.0.0.2")

	// Age one bucket past the idle window and make the next call sweep.
	limiter.mu.Lock()
	limiter.limiters["10.0.0.1"].lastSeen = time.Now().Add(-4 * time.Minute)
	limiter.lastSweep = time.Now().Add(-4 * time.Minute)
	limiter.mu.Unlock()

	limiter.limiterFor("10.0.0.2")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.limiters["10.0.0.1"]; ok {
		t.Error("Expected idle bucket to be evicted")
	}
	if _, ok := limiter.limiters["10.0.0.2"]; !ok {
		t.Error("Expected active bucket to survive the sweep")
	}
}
