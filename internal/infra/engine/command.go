package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/bryanwahyu/ppsec-gateway/internal/application"
	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
)

// CommandEngine runs the assessment script as a child process and decodes the
// JSON report it prints on stdout.
type CommandEngine struct {
	Name string
	Args []string
	// EnvironmentArg is the flag placed before an environment filter,
	// e.g. "-EnvironmentName". Empty means filters are not supported.
	EnvironmentArg string
	Clock          application.Clock
}

func NewCommandEngine(name string, args []string, environmentArg string) *CommandEngine {
	return &CommandEngine{
		Name:           name,
		Args:           args,
		EnvironmentArg: environmentArg,
		Clock:          application.SystemClock{},
	}
}

func (e *CommandEngine) Assess(ctx context.Context, environment string) (*domain.Snapshot, error) {
	if e.Name == "" {
		return nil, errors.New("assessment command not configured")
	}
	args := append([]string{}, e.Args...)
	if environment = strings.TrimSpace(environment); environment != "" {
		if e.EnvironmentArg == "" {
			return nil, fmt.Errorf("environment filter %q given but no environment argument configured", environment)
		}
		args = append(args, e.EnvironmentArg, environment)
	}

	cmd := exec.CommandContext(ctx, e.Name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// grandchildren may keep the pipes open after the script is killed
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", domain.ErrEngineTimeout, time.Since(start).Round(time.Second))
		}
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s failed: %w: %s", e.Name, err, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%s failed: %w", e.Name, err)
	}

	snap, err := DecodeReport(&stdout, e.Clock.Now())
	if err != nil {
		return nil, err
	}
	return snap, nil
}
