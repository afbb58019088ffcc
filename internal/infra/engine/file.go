package engine

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bryanwahyu/ppsec-gateway/internal/application"
	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
)

// FileEngine reads a report previously written by the assessment script.
type FileEngine struct {
	Path  string
	Clock application.Clock
}

func NewFileEngine(path string) *FileEngine {
	return &FileEngine{Path: path, Clock: application.SystemClock{}}
}

func (e *FileEngine) Assess(ctx context.Context, environment string) (*domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(e.Path)
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	snap, err := DecodeReport(f, e.Clock.Now())
	if err != nil {
		return nil, err
	}
	if environment = strings.TrimSpace(environment); environment != "" {
		snap = filterEnvironment(snap, environment)
	}
	return snap, nil
}

// filterEnvironment keeps only records that belong to name.
func filterEnvironment(s *domain.Snapshot, name string) *domain.Snapshot {
	out := &domain.Snapshot{ID: s.ID, Timestamp: s.Timestamp}
	for _, e := range s.Environments {
		if e.Name == name {
			out.Environments = append(out.Environments, e)
		}
	}
	for _, u := range s.Users {
		if u.EnvironmentName == name {
			out.Users = append(out.Users, u)
		}
	}
	for _, c := range s.Connections {
		if c.EnvironmentName == name {
			out.Connections = append(out.Connections, c)
		}
	}
	for _, f := range s.Flows {
		if f.EnvironmentName == name {
			out.Flows = append(out.Flows, f)
		}
	}
	out.Seal()
	return out
}
