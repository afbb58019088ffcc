// Package db holds what the MySQL and Postgres snapshot archives share.
package db

import (
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
)

// Row is the column set of the assessment_snapshots table.
type Row struct {
	ID           string
	Environments int
	Users        int
	Connections  int
	Flows        int
	High         int
	Medium       int
	Low          int
	Payload      []byte
}

// ColumnTime normalises a timestamp for the taken_at and fetched_at columns.
// Both archives store a zero time as the save time.
func ColumnTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// EncodeSnapshot flattens a sealed snapshot into a Row.
func EncodeSnapshot(s *domain.Snapshot) (Row, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return Row{}, fmt.Errorf("encode snapshot: %w", err)
	}
	sum := s.Summary
	return Row{
		ID:           s.ID,
		Environments: sum.TotalEnvironments,
		Users:        sum.TotalUsers,
		Connections:  sum.TotalConnections,
		Flows:        sum.TotalFlows,
		High:         sum.Findings.High,
		Medium:       sum.Findings.Medium,
		Low:          sum.Findings.Low,
		Payload:      payload,
	}, nil
}

// DecodeSnapshot restores a snapshot and re-seals it so the summary always
// matches the records.
func DecodeSnapshot(payload []byte) (*domain.Snapshot, error) {
	var s domain.Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode archived snapshot: %w", err)
	}
	s.Seal()
	return &s, nil
}
