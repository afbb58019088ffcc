package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
)

func writeReport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.json")
	if err := os.WriteFile(path, []byte(sampleReport), 0o600); err != nil {
		t.Fatalf("write report: %v", err)
	}
	return path
}

func TestFileEngineFiltersByEnvironment(t *testing.T) {
	eng := NewFileEngine(writeReport(t))
	snap, err := eng.Assess(context.Background(), "env-prod")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if len(snap.Environments) != 1 || snap.Environments[0].Name != "env-prod" {
		t.Fatalf("unexpected environments: %+v", snap.Environments)
	}
	if len(snap.Users) != 1 || len(snap.Flows) != 0 {
		t.Fatalf("expected only env-prod records, got users=%d flows=%d", len(snap.Users), len(snap.Flows))
	}
	if snap.Summary.TotalEnvironments != 1 {
		t.Fatalf("summary not recomputed: %+v", snap.Summary)
	}
}

func TestFileEngineMissingFile(t *testing.T) {
	eng := NewFileEngine(filepath.Join(t.TempDir(), "missing.json"))
	if _, err := eng.Assess(context.Background(), ""); err == nil {
		t.Fatalf("expected error for missing report")
	}
}

func TestCommandEngineDecodesStdout(t *testing.T) {
	path := writeReport(t)
	eng := NewCommandEngine("cat", []string{path}, "")
	snap, err := eng.Assess(context.Background(), "")
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if snap.Summary.TotalEnvironments != 2 {
		t.Fatalf("unexpected summary %+v", snap.Summary)
	}
}

func TestCommandEngineRejectsFilterWithoutArgument(t *testing.T) {
	eng := NewCommandEngine("cat", nil, "")
	if _, err := eng.Assess(context.Background(), "env-prod"); err == nil {
		t.Fatalf("expected error when filter cannot be passed")
	}
}

func TestCommandEngineTimeout(t *testing.T) {
	eng := NewCommandEngine("sleep", []string{"5"}, "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := eng.Assess(ctx, "")
	if !errors.Is(err, domain.ErrEngineTimeout) {
		t.Fatalf("expected ErrEngineTimeout, got %v", err)
	}
}

func TestCommandEngineReportsStderr(t *testing.T) {
	eng := NewCommandEngine("sh", []string{"-c", "echo boom >&2; exit 3"}, "")
	_, err := eng.Assess(context.Background(), "")
	if err == nil {
		t.Fatalf("expected failure")
	}
	if got := err.Error(); !strings.Contains(got, "boom") {
		t.Fatalf("expected stderr in error, got %q", got)
	}
}
