package db

import (
	"context"
	"log/slog"
	"time"

	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
)

// PrunableArchive is an archive that can drop old snapshots.
type PrunableArchive interface {
	domain.Archive
	Prune(ctx context.Context, keep int) (int64, error)
}

// Retention prunes the archive to Keep snapshots after every save. Keep <= 0
// keeps everything. Prune failures are logged, not returned.
type Retention struct {
	PrunableArchive
	Keep int
	Log  *slog.Logger
}

func (r Retention) Save(ctx context.Context, s *domain.Snapshot, fetchedAt time.Time) error {
	if err := r.PrunableArchive.Save(ctx, s, fetchedAt); err != nil {
		return err
	}
	if r.Keep <= 0 {
		return nil
	}
	n, err := r.Prune(ctx, r.Keep)
	if err != nil {
		if r.Log != nil {
			r.Log.Warn("prune archive failed", "error", err)
		}
		return nil
	}
	if n > 0 && r.Log != nil {
		r.Log.Info("archive pruned", "deleted", n, "keep", r.Keep)
	}
	return nil
}
