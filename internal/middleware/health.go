package middleware

import (
	"context"
	"database/sql"
	"time"
)

// HealthChecker defines interface for health checking
type HealthChecker interface {
	Check(ctx context.Context) error
}

// DatabaseHealthChecker checks database health
type DatabaseHealthChecker struct {
	DB *sql.DB
}

func (d *DatabaseHealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.DB.PingContext(ctx)
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// CheckStatus represents individual check status
type CheckStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// RunChecks runs every checker within timeout. ok is false if any failed.
func RunChecks(ctx context.Context, checkers map[string]HealthChecker, timeout time.Duration) (map[string]CheckStatus, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok := true
	out := make(map[string]CheckStatus, len(checkers))
	for name, checker := range checkers {
		if err := checker.Check(ctx); err != nil {
			ok = false
			out[name] = CheckStatus{Status: "unhealthy", Message: "check failed"}
			continue
		}
		out[name] = CheckStatus{Status: "healthy"}
	}
	return out, ok
}
