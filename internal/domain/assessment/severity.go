package assessment

import "strings"

// Severity of a single finding.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// ClassifySeverity derives a severity from the free-text message produced by the
// assessment script. Matching is case-sensitive: "HIGH" wins over "MEDIUM", and
// anything else is LOW.
func ClassifySeverity(message string) Severity {
	switch {
	case strings.Contains(message, string(SeverityHigh)):
		return SeverityHigh
	case strings.Contains(message, string(SeverityMedium)):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Weight is the contribution of one finding to a risk score.
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 10
	case SeverityMedium:
		return 5
	default:
		return 1
	}
}

// SeverityCounts value object
type SeverityCounts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

func (c *SeverityCounts) Add(s Severity) {
	switch s {
	case SeverityHigh:
		c.High++
	case SeverityMedium:
		c.Medium++
	default:
		c.Low++
	}
}

func (c SeverityCounts) Total() int { return c.High + c.Medium + c.Low }

// Score is 10 per high, 5 per medium and 1 per low finding.
func (c SeverityCounts) Score() int {
	return c.High*SeverityHigh.Weight() + c.Medium*SeverityMedium.Weight() + c.Low*SeverityLow.Weight()
}

// Count tallies findings by severity.
func Count(findings []Finding) SeverityCounts {
	var c SeverityCounts
	for _, f := range findings {
		c.Add(f.Severity)
	}
	return c
}
