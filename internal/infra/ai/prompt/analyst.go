package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bryanwahyu/ppsec-gateway/internal/application/query"
	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
)

// DefaultTopFindings is how many findings are sent along with the summary.
const DefaultTopFindings = 20

// System provides strict directions and schema for JSON output.
func System() string {
	return `You are a senior Microsoft Power Platform governance analyst. You must produce one valid JSON object only (no markdown, no commentary) that follows the schema below. Do not include code fences.

Requirements:
- Output must be a single JSON object.
- Base every statement on the assessment data in the user message. Do not invent environments, users, connectors or flows.
- priorities is ordered, most urgent first, at most 5 items.
- Each priority names the affected resource and a concrete action.

Schema (example with empty values):
{
  "advice": "<two or three sentence overview>",
  "priorities": [
    {"resource": "<string>", "action": "<string>"}
  ]
}`
}

// Input is the compact assessment view sent to the model.
type Input struct {
	Summary     query.SummaryView   `json:"summary"`
	TopFindings []query.FindingView `json:"topFindings"`
}

// BuildInput keeps the top n findings by risk score, in snapshot order on ties.
func BuildInput(s *domain.Snapshot, n int) Input {
	if n <= 0 {
		n = DefaultTopFindings
	}
	findings := query.Flatten(s)
	top := make([]query.FindingView, 0, min(n, len(findings)))
	// three weights only, so bucket instead of sorting
	for _, sev := range []domain.Severity{domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow} {
		for _, f := range findings {
			if len(top) == n {
				break
			}
			if f.Severity == sev {
				top = append(top, f)
			}
		}
	}
	return Input{Summary: query.Summary(s, s.Timestamp), TopFindings: top}
}

// User builds the user message around the assessment input.
func User(in Input) (string, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Review this Power Platform security assessment and respond with the JSON per schema.\n\nAssessment:\n%s", data), nil
}

// Suggestion matches the schema used by the system prompt.
type Suggestion struct {
	Advice     string `json:"advice"`
	Priorities []struct {
		Resource string `json:"resource"`
		Action   string `json:"action"`
	} `json:"priorities"`
}

// ParseSuggestion decodes the model output and renders it as plain text.
func ParseSuggestion(content string) (string, error) {
	var sg Suggestion
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &sg); err != nil {
		return "", fmt.Errorf("decode suggestion: %w", err)
	}
	if strings.TrimSpace(sg.Advice) == "" && len(sg.Priorities) == 0 {
		return "", fmt.Errorf("decode suggestion: empty response")
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(sg.Advice))
	for i, p := range sg.Priorities {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s: %s", i+1, p.Resource, p.Action)
	}
	return b.String(), nil
}
