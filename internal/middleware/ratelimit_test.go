package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/bryanwahyu/ppsec-gateway/internal/logger"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryRateLimiterSlidingWindow(t *testing.T) {
	clock := &stepClock{now: time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewMemoryRateLimiter(3, time.Minute, clock)
	t.Cleanup(rl.Close)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if d := rl.Allow(ctx, "ip:a"); !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		clock.Advance(10 * time.Second)
	}
	d := rl.Allow(ctx, "ip:a")
	if d.Allowed {
		t.Fatalf("fourth request should be limited")
	}
	if d.RetryAfter != 30*time.Second {
		t.Fatalf("retry after = %s, want 30s", d.RetryAfter)
	}
	if !rl.Allow(ctx, "ip:b").Allowed {
		t.Fatalf("other clients are independent")
	}

	clock.Advance(31 * time.Second)
	if !rl.Allow(ctx, "ip:a").Allowed {
		t.Fatalf("oldest request left the window, should be allowed")
	}
	if rl.Allow(ctx, "ip:a").Allowed {
		t.Fatalf("window is full again")
	}

	clock.Advance(2 * time.Minute)
	rl.sweep()
	rl.mu.Lock()
	n := len(rl.hits)
	rl.mu.Unlock()
	if n != 0 {
		t.Fatalf("sweep should drop idle clients, %d left", n)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	clock := &stepClock{now: time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)}
	const limit = 5
	rl := NewMemoryRateLimiter(limit, time.Minute, clock)
	t.Cleanup(rl.Close)
	h := RateLimit(rl, logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.RemoteAddr = "10.0.0.7:51234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	for i := 0; i < limit; i++ {
		if rec := do(); rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i+1, rec.Code)
		}
	}
	rec := do()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}

	clock.Advance(61 * time.Second)
	if rec := do(); rec.Code != http.StatusOK {
		t.Fatalf("window should have reset, got %d", rec.Code)
	}
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	rl := newRedisRateLimiter(client, 1, logger.Discard())
	t.Cleanup(rl.Close)
	for i := 0; i < 3; i++ {
		if d := rl.Allow(context.Background(), "ip:x"); !d.Allowed {
			t.Fatalf("unreachable redis must not block traffic")
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	if got := ClientIP(req); got != "2001:db8::1" {
		t.Fatalf("ClientIP = %q", got)
	}
	req.RemoteAddr = "pipe"
	if got := ClientIP(req); got != "pipe" {
		t.Fatalf("ClientIP = %q", got)
	}
}
