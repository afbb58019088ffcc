package middleware

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bryanwahyu/ppsec-gateway/internal/application"
)

// Stats holds process-wide request counters. They are advisory only.
type Stats struct {
	total       atomic.Uint64
	successful  atomic.Uint64
	failed      atomic.Uint64
	lastRequest atomic.Int64
	start       time.Time
	clock       application.Clock
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	TotalRequests      uint64     `json:"totalRequests"`
	SuccessfulRequests uint64     `json:"successfulRequests"`
	FailedRequests     uint64     `json:"failedRequests"`
	LastRequestTime    *time.Time `json:"lastRequestTime"`
	StartTime          time.Time  `json:"startTime"`
	UptimeSeconds      float64    `json:"uptimeSeconds"`
}

func NewStats(clock application.Clock) *Stats {
	if clock == nil {
		clock = application.SystemClock{}
	}
	return &Stats{start: clock.Now(), clock: clock}
}

// Record counts one finished request. Status below 400 is a success.
func (s *Stats) Record(status int) {
	s.total.Add(1)
	if status < 400 {
		s.successful.Add(1)
	} else {
		s.failed.Add(1)
	}
	s.lastRequest.Store(s.clock.Now().UnixNano())
}

func (s *Stats) Snapshot() StatsSnapshot {
	now := s.clock.Now()
	snap := StatsSnapshot{
		TotalRequests:      s.total.Load(),
		SuccessfulRequests: s.successful.Load(),
		FailedRequests:     s.failed.Load(),
		StartTime:          s.start,
		UptimeSeconds:      now.Sub(s.start).Seconds(),
	}
	if ns := s.lastRequest.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		snap.LastRequestTime = &t
	}
	return snap
}

// Middleware tracks request counters.
func (s *Stats) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := WrapResponse(w)
		defer func() { s.Record(wrapped.Status()) }()
		next.ServeHTTP(wrapped, r)
	})
}
