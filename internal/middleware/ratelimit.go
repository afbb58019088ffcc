package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bryanwahyu/ppsec-gateway/internal/application"
)

const (
	// RateWindow is the sliding window length.
	RateWindow               = time.Minute
	rateLimiterSweepInterval = 5 * time.Minute
)

// RateLimiter decides whether a client key may issue another request.
type RateLimiter interface {
	Allow(ctx context.Context, key string) RateDecision
	Close()
}

type RateDecision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// MemoryRateLimiter keeps a sliding window of request timestamps per key.
type MemoryRateLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	clock  application.Clock
	stopCh chan struct{}
	once   sync.Once
}

func NewMemoryRateLimiter(limit int, window time.Duration, clock application.Clock) *MemoryRateLimiter {
	if window <= 0 {
		window = RateWindow
	}
	if clock == nil {
		clock = application.SystemClock{}
	}
	rl := &MemoryRateLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		clock:  clock,
		stopCh: make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Allow prunes timestamps outside the window, then admits the request when
// fewer than limit remain.
func (rl *MemoryRateLimiter) Allow(_ context.Context, key string) RateDecision {
	if rl.limit <= 0 {
		return RateDecision{Allowed: true}
	}
	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	hits := prune(rl.hits[key], now.Add(-rl.window))
	if len(hits) >= rl.limit {
		rl.hits[key] = hits
		return RateDecision{Allowed: false, Count: len(hits), RetryAfter: hits[0].Add(rl.window).Sub(now)}
	}
	hits = append(hits, now)
	rl.hits[key] = hits
	return RateDecision{Allowed: true, Count: len(hits)}
}

// prune drops timestamps at or before cutoff. hits is ordered oldest first.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

func (rl *MemoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rateLimiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *MemoryRateLimiter) sweep() {
	cutoff := rl.clock.Now().Add(-rl.window)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, hits := range rl.hits {
		if hits = prune(hits, cutoff); len(hits) == 0 {
			delete(rl.hits, key)
		} else {
			rl.hits[key] = hits
		}
	}
}

func (rl *MemoryRateLimiter) Close() {
	rl.once.Do(func() {
		close(rl.stopCh)
	})
}

// RateLimit answers 429 with Retry-After once a client IP reaches the limit.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			decision := limiter.Allow(r.Context(), "ip:"+ip)
			if !decision.Allowed {
				secs := int(math.Ceil(decision.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				logger.Warn("rate limit exceeded", "ip", ip, "count", decision.Count, "path", r.URL.Path)
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP is the host part of the connection's remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return host
}
