package export

import (
	"fmt"
	"os"
	"path/filepath"

	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
)

// ForFormats returns the exporters for the configured format names.
func ForFormats(formats []string) ([]domain.Exporter, error) {
	out := make([]domain.Exporter, 0, len(formats))
	for _, f := range formats {
		switch f {
		case "json":
			out = append(out, JSON{})
		case "csv":
			out = append(out, CSV{})
		default:
			return nil, fmt.Errorf("unknown export format %q", f)
		}
	}
	return out, nil
}

// WriteDir runs every exporter and writes the artifacts into dir, creating it
// if needed. It returns the written paths.
func WriteDir(dir string, s *domain.Snapshot, exporters []domain.Exporter) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	for _, exp := range exporters {
		artifacts, err := exp.Export(s)
		if err != nil {
			return paths, err
		}
		for _, a := range artifacts {
			p := filepath.Join(dir, a.Name)
			if err := os.WriteFile(p, a.Data, 0o644); err != nil {
				return paths, err
			}
			paths = append(paths, p)
		}
	}
	return paths, nil
}
