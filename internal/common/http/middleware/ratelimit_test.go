package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"knightshade/internal/common/cache"
	"knightshade/internal/common/http/middleware"
	pkgerrors "knightshade/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*middleware.RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	testCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() { _ = testCache.Close() })
	return middleware.NewRateLimiter(testCache, time.Minute, time.Second), mr
}

func TestRateLimiterAllowWithinLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)

	for i := 0; i < 3; i++ {
		if err := limiter.Allow(context.Background(), "rate:ip:1.2.3.4:login", 3, time.Minute); err != nil {
			t.Fatalf("request %d should pass: %v", i, err)
		}
	}
	err := limiter.Allow(context.Background(), "rate:ip:1.2.3.4:login", 3, time.Minute)
	if !pkgerrors.Is(err, pkgerrors.TooManyRequests) {
		t.Fatalf("expected limit exceeded, got %v", err)
	}

	// a different key is counted separately
	if err := limiter.Allow(context.Background(), "rate:ip:5.6.7.8:login", 3, time.Minute); err != nil {
		t.Fatalf("other key should pass: %v", err)
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	limiter, mr := newTestLimiter(t)

	for i := 0; i < 2; i++ {
		if err := limiter.Allow(context.Background(), "rate:ip:1.2.3.4:login", 2, time.Minute); err != nil {
			t.Fatalf("request %d should pass: %v", i, err)
		}
	}
	if err := limiter.Allow(context.Background(), "rate:ip:1.2.3.4:login", 2, time.Minute); err == nil {
		t.Fatalf("expected limit exceeded")
	}

	mr.FastForward(time.Minute + time.Second)

	if err := limiter.Allow(context.Background(), "rate:ip:1.2.3.4:login", 2, time.Minute); err != nil {
		t.Fatalf("new window should pass: %v", err)
	}
}

func TestRateLimitMiddlewareBlocksOverLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter, _ := newTestLimiter(t)

	router := gin.New()
	router.GET("/ping",
		middleware.RateLimitMiddleware(limiter, "ping", middleware.RateLimitPolicy{Window: time.Minute, IPMax: 2}),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	doRequest := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "1.2.3.4:5555"
		router.ServeHTTP(w, req)
		return w.Code
	}

	if code := doRequest(); code != http.StatusOK {
		t.Fatalf("first request blocked: %d", code)
	}
	if code := doRequest(); code != http.StatusOK {
		t.Fatalf("second request blocked: %d", code)
	}
	if code := doRequest(); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestRateLimitMiddlewareNilLimiterPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/ping",
		middleware.RateLimitMiddleware(nil, "ping", middleware.RateLimitPolicy{IPMax: 1}),
		func(c *gin.Context) { c.Status(http.StatusOK) },
	)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d blocked without limiter: %d", i, w.Code)
		}
	}
}
