package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestClientLimits_reserve(t *testing.T) {
	l := newClientLimits(1, 2)
	now := time.Now()

	for i := 0; i < 2; i++ {
		if _, ok := l.reserve("10.0.0.1", now); !ok {
			t.Fatalf("request %d within burst was rejected", i)
		}
	}
	wait, ok := l.reserve("10.0.0.1", now)
	if ok {
		t.Fatal("request beyond burst was allowed")
	}
	if wait <= 0 || wait > time.Second {
		t.Errorf("unexpected wait %s", wait)
	}
	if _, ok := l.reserve("10.0.0.2", now); !ok {
		t.Error("other clients have their own bucket")
	}
	if _, ok := l.reserve("10.0.0.1", now.Add(time.Second)); !ok {
		t.Error("bucket should refill after a second")
	}
}

func TestClientLimits_sweep(t *testing.T) {
	l := newClientLimits(1, 1)
	now := time.Now()
	l.reserve("old", now.Add(-time.Hour))
	l.reserve("fresh", now)

	l.sweep(now.Add(-limiterIdleAfter))
	if got := l.size(); got != 1 {
		t.Fatalf("expected 1 bucket after sweep, got %d", got)
	}
}

func TestRateLimiter_429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.Use(RateLimiter(ctx, 0.5, 1))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 2)
	var retryAfter string
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[i] = w.Code
		retryAfter = w.Header().Get("Retry-After")
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status codes %v", codes)
	}
	if retryAfter != "2" {
		t.Errorf("Retry-After: got %q, want 2", retryAfter)
	}
}
