package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsPerDialect(t *testing.T) {
	for _, driver := range []string{"mysql", "postgres"} {
		fsys, err := Files(driver)
		if err != nil {
			t.Fatalf("%s: %v", driver, err)
		}
		names, err := fs.Glob(fsys, "*.sql")
		if err != nil || len(names) == 0 {
			t.Fatalf("%s: no migrations found (%v)", driver, err)
		}
		data, err := fs.ReadFile(fsys, names[0])
		if err != nil {
			t.Fatalf("%s: %v", driver, err)
		}
		body := string(data)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s: missing goose annotations", driver)
		}
		if !strings.Contains(body, "assessment_snapshots") {
			t.Fatalf("%s: unexpected migration %s", driver, names[0])
		}
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	if _, err := New(nil, "sqlite", nil); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
