// Package migrations applies the archive schema with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
)

//go:embed mysql/*.sql postgres/*.sql
var files embed.FS

// Runner wraps goose for one archive dialect.
type Runner struct {
	provider *goose.Provider
	dialect  string
	log      *slog.Logger
}

// New returns a migration runner for driver "mysql" or "postgres".
func New(db *sql.DB, driver string, log *slog.Logger) (Runner, error) {
	var dialect goose.Dialect
	switch driver {
	case "mysql":
		dialect = goose.DialectMySQL
	case "postgres":
		dialect = goose.DialectPostgres
	default:
		return Runner{}, fmt.Errorf("unsupported archive driver %q", driver)
	}
	fsys, err := Files(driver)
	if err != nil {
		return Runner{}, err
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return Runner{}, fmt.Errorf("configure goose: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{provider: provider, dialect: driver, log: log}, nil
}

// Files returns the embedded migrations of one dialect.
func Files(driver string) (fs.FS, error) {
	return fs.Sub(files, driver)
}

// Ensure applies pending migrations.
func (r Runner) Ensure(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	r.log.Info("applying migrations", "dialect", r.dialect)
	results, err := r.provider.Up(runCtx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, res := range results {
		r.log.Info("migration applied", "version", res.Source.Version, "duration", res.Duration)
	}
	return nil
}

// MigrationState is one row of Status.
type MigrationState struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

// Status reports applied and pending migrations.
func (r Runner) Status(ctx context.Context) ([]MigrationState, error) {
	statuses, err := r.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}
	out := make([]MigrationState, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, MigrationState{
			Version:   st.Source.Version,
			Path:      st.Source.Path,
			Applied:   st.State == goose.StateApplied,
			AppliedAt: st.AppliedAt,
		})
	}
	return out, nil
}

// Down rolls back the latest migration.
func (r Runner) Down(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	res, err := r.provider.Down(runCtx)
	if err != nil {
		return fmt.Errorf("rollback latest migration: %w", err)
	}
	r.log.Info("migration rolled back", "version", res.Source.Version)
	return nil
}
