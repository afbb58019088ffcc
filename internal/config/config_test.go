package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `
server:
  port: 9090
  writeTimeout: 30s
cache:
  ttlMinutes: 15
  refreshOnStart: false
engine:
  type: file
  file: testdata/report.json
auth:
  enabled: true
  apiKeys:
    - key: k-123
      name: dashboards
      permissions: [read]
      expiresAt: 2030-01-01T00:00:00Z
rateLimit:
  maxRequestsPerMinute: 20
`

func TestParseAppliesDefaultsAndFile(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.WriteTimeout != 30*time.Second || cfg.Server.ReadTimeout != 15*time.Second {
		t.Fatalf("unexpected server config %+v", cfg.Server)
	}
	if cfg.TTL() != 15*time.Minute || cfg.RefreshInterval() != time.Hour || cfg.EngineTimeout() != 10*time.Minute {
		t.Fatalf("unexpected cache durations")
	}
	if cfg.RefreshOnStart() {
		t.Fatalf("refreshOnStart should be false")
	}
	if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].ExpiresAt == nil || cfg.Auth.APIKeys[0].ExpiresAt.Year() != 2030 {
		t.Fatalf("unexpected api keys %+v", cfg.Auth.APIKeys)
	}
	if !cfg.CORS.Enabled || len(cfg.CORS.AllowedOrigins) != 1 || !cfg.Swagger.Enabled {
		t.Fatalf("defaults not applied")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PPSEC_PORT", "7070")
	t.Setenv("PPSEC_JWT_SECRET", strings.Repeat("s", MinJWTSecretLength))
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Auth.JWTSecret == "" {
		t.Fatalf("env overrides not applied: port=%d", cfg.Server.Port)
	}

	t.Setenv("PPSEC_PORT", "http")
	if _, err := Parse([]byte(sample)); err == nil {
		t.Fatalf("expected error for non-numeric port")
	}
}

func TestValidateRejectsUnsafeAuth(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "auth enabled") {
		t.Fatalf("expected auth error, got %v", err)
	}
	cfg.Auth.JWTSecret = "short"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "jwtSecret") {
		t.Fatalf("expected short secret error, got %v", err)
	}
	cfg.Auth.JWTSecret = strings.Repeat("x", MinJWTSecretLength)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	disabled := Default()
	disabled.Auth.Enabled = false
	if err := disabled.Validate(); err != nil {
		t.Fatalf("auth disabled should be allowed: %v", err)
	}
	if !disabled.AuthDisabled() {
		t.Fatalf("AuthDisabled should report true")
	}
}

func TestValidateEngineAndArchive(t *testing.T) {
	cfg := Default()
	cfg.Auth.Enabled = false
	cfg.Engine.Type = "ssh"
	cfg.Archive.Driver = "mysql"
	cfg.Cache.TTLMinutes = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"engine.type", "archive.dsn", "ttlMinutes"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.File != "testdata/report.json" {
		t.Fatalf("unexpected engine file %q", cfg.Engine.File)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
