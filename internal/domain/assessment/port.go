package assessment

import (
	"context"
	"time"
)

// Engine port: the external routine that produces a snapshot. environment
// optionally restricts the assessment to one environment name.
type Engine interface {
	Assess(ctx context.Context, environment string) (*Snapshot, error)
}

// Archive port (persistence of successful snapshots)
type Archive interface {
	Save(ctx context.Context, s *Snapshot, fetchedAt time.Time) error
	Latest(ctx context.Context) (*Snapshot, time.Time, error)
}

// Artifact is one exported file.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// Exporter turns a snapshot into a set of files.
type Exporter interface {
	Export(s *Snapshot) ([]Artifact, error)
}

// ArtifactStore port (object storage for exports)
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Advisor produces free-text guidance for a snapshot.
type Advisor interface {
	Advise(ctx context.Context, s *Snapshot) (string, error)
}
