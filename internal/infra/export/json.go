package export

import (
	"encoding/json"
	"fmt"

	"github.com/bryanwahyu/ppsec-gateway/internal/application/query"
	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
)

const (
	contentTypeJSON = "application/json"
	contentTypeCSV  = "text/csv; charset=utf-8"
)

// JSON writes the raw snapshot and the computed summary.
type JSON struct{}

func (JSON) Export(s *domain.Snapshot) ([]domain.Artifact, error) {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	summary, err := json.MarshalIndent(query.Summary(s, s.Timestamp), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	return []domain.Artifact{
		{Name: "snapshot.json", ContentType: contentTypeJSON, Data: raw},
		{Name: "summary.json", ContentType: contentTypeJSON, Data: summary},
	}, nil
}
