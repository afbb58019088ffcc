package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
	"github.com/bryanwahyu/ppsec-gateway/internal/infra/db"
)

type SnapshotRepository struct{ db *sql.DB }

func NewSnapshotRepository(conn *sql.DB) *SnapshotRepository { return &SnapshotRepository{db: conn} }

// Save insert/update snapshot record
func (r *SnapshotRepository) Save(ctx context.Context, s *domain.Snapshot, fetchedAt time.Time) error {
	const q = `
INSERT INTO assessment_snapshots
(id, taken_at, fetched_at, environments_total, users_total, connections_total, flows_total,
 high, medium, low, payload)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
 fetched_at = EXCLUDED.fetched_at,
 payload = EXCLUDED.payload;`

	row, err := db.EncodeSnapshot(s)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q,
		row.ID, db.ColumnTime(s.Timestamp), db.ColumnTime(fetchedAt),
		row.Environments, row.Users, row.Connections, row.Flows,
		row.High, row.Medium, row.Low, string(row.Payload),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", row.ID, err)
	}
	return nil
}

// Latest snapshot by fetch time
func (r *SnapshotRepository) Latest(ctx context.Context) (*domain.Snapshot, time.Time, error) {
	const q = `
SELECT payload, fetched_at
FROM assessment_snapshots
ORDER BY fetched_at DESC
LIMIT 1;`
	var payload []byte
	var fetchedAt time.Time
	if err := r.db.QueryRowContext(ctx, q).Scan(&payload, &fetchedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, domain.ErrNoSnapshot
		}
		return nil, time.Time{}, fmt.Errorf("load latest snapshot: %w", err)
	}
	s, err := db.DecodeSnapshot(payload)
	if err != nil {
		return nil, time.Time{}, err
	}
	return s, fetchedAt.UTC(), nil
}

// Prune keeps the newest keep snapshots
func (r *SnapshotRepository) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	const q = `
DELETE FROM assessment_snapshots
WHERE id NOT IN (SELECT id FROM assessment_snapshots ORDER BY fetched_at DESC LIMIT $1);`
	res, err := r.db.ExecContext(ctx, q, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}
