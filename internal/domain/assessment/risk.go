package assessment

// RiskLevel classifies a risk score within a scope.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"
	RiskMedium RiskLevel = "MEDIUM"
	RiskLow    RiskLevel = "LOW"
)

// Scope selects the threshold pair used to turn a score into a level.
type Scope string

const (
	ScopeSummary     Scope = "summary"
	ScopeEnvironment Scope = "environment"
	ScopeUser        Scope = "user"
	ScopeConnection  Scope = "connection"
	ScopeFlow        Scope = "flow"
)

type thresholds struct {
	high   int
	medium int
}

// A score strictly greater than high is HIGH, strictly greater than medium is MEDIUM.
var scopeThresholds = map[Scope]thresholds{
	ScopeSummary:     {high: 25, medium: 10},
	ScopeEnvironment: {high: 15, medium: 5},
	ScopeUser:        {high: 9, medium: 4},
	ScopeConnection:  {high: 9, medium: 4},
	ScopeFlow:        {high: 9, medium: 4},
}

// RiskLevelFor maps a score to a level using the fixed thresholds of scope.
func RiskLevelFor(scope Scope, score int) RiskLevel {
	t, ok := scopeThresholds[scope]
	if !ok {
		t = scopeThresholds[ScopeSummary]
	}
	switch {
	case score > t.high:
		return RiskHigh
	case score > t.medium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// LevelForSeverity is the level of a single finding.
func LevelForSeverity(s Severity) RiskLevel {
	switch s {
	case SeverityHigh:
		return RiskHigh
	case SeverityMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}
