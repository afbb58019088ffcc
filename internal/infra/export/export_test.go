package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
)

func sampleSnapshot() *domain.Snapshot {
	s := &domain.Snapshot{
		ID:        "snap-1",
		Timestamp: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Environments: []domain.Environment{{
			Name: "prod", DisplayName: "Production", Type: "Production",
			Findings: domain.NewFindings([]string{"No DLP policies applied", "Default environment, review access"}),
		}},
		Users: []domain.User{{
			PrincipalID: "u1", DisplayName: "Guest, Admin", Email: "guest#EXT#@contoso.com",
			RoleName: "Environment Admin", RoleType: "EnvironmentAdmin", EnvironmentName: "prod",
			Findings: domain.NewFindings([]string{"External guest user with admin access"}),
		}},
		Connections: []domain.Connection{{ConnectionID: "c1", ConnectorName: "shared_http", EnvironmentName: "prod"}},
		Flows: []domain.Flow{{
			FlowName: "f1", DisplayName: "Webhook", EnvironmentName: "prod", State: "Started",
			HasHTTPTrigger: true, ConnectorsUsed: []string{"shared_http", "shared_office365"},
		}},
	}
	s.Seal()
	return s
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	return records
}

func byName(t *testing.T, artifacts []domain.Artifact) map[string]domain.Artifact {
	t.Helper()
	out := map[string]domain.Artifact{}
	for _, a := range artifacts {
		out[a.Name] = a
	}
	return out
}

func TestCSVExport(t *testing.T) {
	artifacts, err := CSV{}.Export(sampleSnapshot())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	files := byName(t, artifacts)
	for _, name := range []string{"environments.csv", "users.csv", "connections.csv", "flows.csv", "findings.csv"} {
		if _, ok := files[name]; !ok {
			t.Fatalf("missing %s", name)
		}
	}

	users := readCSV(t, files["users.csv"].Data)
	if len(users) != 2 {
		t.Fatalf("expected header + 1 user row, got %d", len(users))
	}
	// comma inside a field must survive quoting
	if users[1][1] != "Guest, Admin" || users[1][7] != "true" || users[1][8] != "true" {
		t.Fatalf("unexpected user row %v", users[1])
	}

	flows := readCSV(t, files["flows.csv"].Data)
	if flows[1][8] != "shared_http;shared_office365" || flows[1][9] != "true" {
		t.Fatalf("unexpected flow row %v", flows[1])
	}

	findings := readCSV(t, files["findings.csv"].Data)
	if len(findings) != 4 {
		t.Fatalf("expected 3 findings, got %d rows", len(findings)-1)
	}
	if findings[1][0] != "1" || findings[1][2] != "Environment" || findings[3][2] != "User" {
		t.Fatalf("findings not in snapshot order: %v", findings)
	}
}

func TestJSONExport(t *testing.T) {
	s := sampleSnapshot()
	artifacts, err := JSON{}.Export(s)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	files := byName(t, artifacts)
	var back domain.Snapshot
	if err := json.Unmarshal(files["snapshot.json"].Data, &back); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if back.ID != s.ID || len(back.Flows) != 1 {
		t.Fatalf("unexpected snapshot %+v", back)
	}
	var summary map[string]any
	if err := json.Unmarshal(files["summary.json"].Data, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary["snapshotId"] != s.ID {
		t.Fatalf("unexpected summary %v", summary)
	}
}

func TestForFormatsAndWriteDir(t *testing.T) {
	if _, err := ForFormats([]string{"xlsx"}); err == nil {
		t.Fatalf("expected unknown format error")
	}
	exporters, err := ForFormats([]string{"json", "csv"})
	if err != nil {
		t.Fatalf("formats: %v", err)
	}
	dir := filepath.Join(t.TempDir(), "out")
	paths, err := WriteDir(dir, sampleSnapshot(), exporters)
	if err != nil {
		t.Fatalf("write dir: %v", err)
	}
	if len(paths) != 7 {
		t.Fatalf("expected 7 files, got %v", paths)
	}
	if _, err := os.Stat(filepath.Join(dir, "findings.csv")); err != nil {
		t.Fatalf("findings.csv not written: %v", err)
	}
}
