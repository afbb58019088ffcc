package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/bryanwahyu/ppsec-gateway/internal/config"
	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
	"github.com/bryanwahyu/ppsec-gateway/internal/infra/ai/openai"
	"github.com/bryanwahyu/ppsec-gateway/internal/infra/db"
	"github.com/bryanwahyu/ppsec-gateway/internal/infra/db/migrations"
	mysqlp "github.com/bryanwahyu/ppsec-gateway/internal/infra/db/mysql"
	"github.com/bryanwahyu/ppsec-gateway/internal/infra/db/postgres"
	"github.com/bryanwahyu/ppsec-gateway/internal/infra/engine"
	"github.com/bryanwahyu/ppsec-gateway/internal/infra/storage"
	"github.com/bryanwahyu/ppsec-gateway/internal/logger"
)

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config load error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New("ppsec-gateway", level), nil
}

// buildEngine picks the assessment engine; fromFile overrides the config.
func buildEngine(cfg *config.Config, fromFile string) (domain.Engine, error) {
	if fromFile != "" {
		return engine.NewFileEngine(fromFile), nil
	}
	switch cfg.Engine.Type {
	case "file":
		return engine.NewFileEngine(cfg.Engine.File), nil
	case "command":
		return engine.NewCommandEngine(cfg.Engine.Command, cfg.Engine.Args, cfg.Engine.EnvironmentArg), nil
	default:
		return nil, fmt.Errorf("unknown engine type %q", cfg.Engine.Type)
	}
}

// openArchive connects the snapshot archive. It returns a nil archive when none
// is configured. The caller closes the returned DB.
func openArchive(ctx context.Context, cfg *config.Config, log *slog.Logger, migrate bool) (domain.Archive, *sql.DB, error) {
	var (
		conn *sql.DB
		repo db.PrunableArchive
		err  error
	)
	switch cfg.Archive.Driver {
	case "":
		return nil, nil, nil
	case "mysql":
		if conn, err = mysqlp.Connect(ctx, cfg.Archive.DSN); err != nil {
			return nil, nil, fmt.Errorf("mysql connect error: %w", err)
		}
		repo = mysqlp.NewSnapshotRepository(conn)
	case "postgres":
		if conn, err = postgres.Connect(ctx, cfg.Archive.DSN); err != nil {
			return nil, nil, fmt.Errorf("postgres connect error: %w", err)
		}
		repo = postgres.NewSnapshotRepository(conn)
	default:
		return nil, nil, fmt.Errorf("unsupported archive driver %q", cfg.Archive.Driver)
	}

	if migrate {
		runner, err := migrations.New(conn, cfg.Archive.Driver, log)
		if err == nil {
			err = runner.Ensure(ctx)
		}
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
	}
	return db.Retention{PrunableArchive: repo, Keep: cfg.Archive.Keep, Log: log}, conn, nil
}

// openStore returns nil when MinIO is not configured.
func openStore(ctx context.Context, cfg *config.Config) (domain.ArtifactStore, error) {
	if !cfg.MinioEnabled() {
		return nil, nil
	}
	m := cfg.Export.Minio
	store, err := storage.New(ctx, m.Endpoint, m.Region, m.BucketName, m.AccessKey, m.SecretKey, m.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("minio init error: %w", err)
	}
	if m.Prefix != "" {
		store = store.WithPrefix(m.Prefix)
	}
	return store, nil
}

// buildAdvisor returns nil when no OpenAI key is configured.
func buildAdvisor(cfg *config.Config) domain.Advisor {
	if cfg.AI.APIKey == "" {
		return nil
	}
	return openai.NewClient(cfg.AI.APIKey, cfg.AI.Model)
}
