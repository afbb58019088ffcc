package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
	"github.com/bryanwahyu/ppsec-gateway/internal/infra/db"
)

// SnapshotRepository archives snapshots in MySQL.
type SnapshotRepository struct {
	db *sql.DB
}

func NewSnapshotRepository(conn *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: conn}
}

// Save inserts a snapshot, or refreshes fetched_at when it is already stored.
func (r *SnapshotRepository) Save(ctx context.Context, s *domain.Snapshot, fetchedAt time.Time) error {
	const q = `
INSERT INTO assessment_snapshots
  (id, taken_at, fetched_at, environments_total, users_total, connections_total, flows_total,
   high, medium, low, payload)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
  fetched_at=VALUES(fetched_at), payload=VALUES(payload);
`
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

// Latest returns the most recently fetched snapshot, or domain.ErrNoSnapshot.
func (r *SnapshotRepository) Latest(ctx context.Context) (*domain.Snapshot, time.Time, error) {
	const q = `
SELECT payload, fetched_at
FROM assessment_snapshots
ORDER BY fetched_at DESC
LIMIT 1;
`
	var payload string
	var fetchedAt time.Time
	if err := r.db.QueryRowContext(ctx, q).Scan(&payload, &fetchedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, domain.ErrNoSnapshot
		}
		return nil, time.Time{}, fmt.Errorf("load latest snapshot: %w", err)
	}
	s, err := db.DecodeSnapshot([]byte(payload))
	if err != nil {
		return nil, time.Time{}, err
	}
	return s, fetchedAt.UTC(), nil
}

// Prune deletes all but the newest keep snapshots.
func (r *SnapshotRepository) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	const q = `
DELETE FROM assessment_snapshots
WHERE id NOT IN (
  SELECT id FROM (
    SELECT id FROM assessment_snapshots ORDER BY fetched_at DESC LIMIT ?
  ) AS newest
);
`
	res, err := r.db.ExecContext(ctx, q, keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}
