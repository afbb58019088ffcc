package prompt

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
)

func snapshot() *domain.Snapshot {
	s := &domain.Snapshot{
		ID:        "snap-1",
		Timestamp: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Environments: []domain.Environment{{
			Name:     "dev",
			Findings: domain.NewFindings([]string{"LOW: trial environment", "MEDIUM: no security group"}),
		}},
		Flows: []domain.Flow{{
			FlowName: "f1",
			Findings: domain.NewFindings([]string{"HIGH: anonymous HTTP trigger"}),
		}},
	}
	s.Seal()
	return s
}

func TestBuildInputOrdersBySeverity(t *testing.T) {
	in := BuildInput(snapshot(), 2)
	if len(in.TopFindings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(in.TopFindings))
	}
	if in.TopFindings[0].Severity != domain.SeverityHigh || in.TopFindings[1].Severity != domain.SeverityMedium {
		t.Fatalf("unexpected order %+v", in.TopFindings)
	}
	if in.Summary.SnapshotID != "snap-1" {
		t.Fatalf("summary not attached: %+v", in.Summary)
	}
}

func TestUserEmbedsAssessment(t *testing.T) {
	msg, err := User(BuildInput(snapshot(), 0))
	if err != nil {
		t.Fatalf("user prompt: %v", err)
	}
	idx := strings.Index(msg, "{")
	if idx < 0 {
		t.Fatalf("no JSON in prompt: %s", msg)
	}
	var in Input
	if err := json.Unmarshal([]byte(msg[idx:]), &in); err != nil {
		t.Fatalf("prompt payload is not JSON: %v", err)
	}
	if len(in.TopFindings) != 3 {
		t.Fatalf("expected all 3 findings, got %d", len(in.TopFindings))
	}
}

func TestParseSuggestion(t *testing.T) {
	got, err := ParseSuggestion(`{"advice":"Lock down HTTP triggers.","priorities":[{"resource":"f1","action":"require authentication"}]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := "Lock down HTTP triggers.\n1. f1: require authentication"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if _, err := ParseSuggestion(`{}`); err == nil {
		t.Fatalf("expected error for empty suggestion")
	}
	if _, err := ParseSuggestion("not json"); err == nil {
		t.Fatalf("expected decode error")
	}
}
