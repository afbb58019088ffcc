package assessment

import (
	"time"

	"github.com/google/uuid"
)

// Finding is one detected condition. Severity is classified once, when the
// finding is created from the engine output.
type Finding struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// NewFinding classifies message and returns the typed finding.
func NewFinding(message string) Finding {
	return Finding{Message: message, Severity: ClassifySeverity(message)}
}

// NewFindings converts a list of messages.
func NewFindings(messages []string) []Finding {
	out := make([]Finding, 0, len(messages))
	for _, m := range messages {
		out = append(out, NewFinding(m))
	}
	return out
}

type Environment struct {
	Name            string    `json:"environmentName"`
	DisplayName     string    `json:"displayName"`
	Type            string    `json:"environmentType"`
	Region          string    `json:"region"`
	IsDefault       bool      `json:"isDefault"`
	DLPPolicyCount  int       `json:"dlpPolicyCount"`
	SecurityGroupID string    `json:"securityGroupId,omitempty"`
	CreatedTime     time.Time `json:"createdTime,omitempty"`
	Findings        []Finding `json:"findings"`
}

type User struct {
	PrincipalID     string    `json:"principalId"`
	DisplayName     string    `json:"principalDisplayName"`
	Email           string    `json:"principalEmail"`
	PrincipalType   string    `json:"principalType"`
	RoleName        string    `json:"roleName"`
	RoleType        string    `json:"roleType"`
	EnvironmentName string    `json:"environmentName"`
	Findings        []Finding `json:"findings"`
}

type Connection struct {
	ConnectionID    string    `json:"connectionId"`
	DisplayName     string    `json:"displayName"`
	ConnectorName   string    `json:"connectorName"`
	EnvironmentName string    `json:"environmentName"`
	CreatedBy       string    `json:"createdBy"`
	Status          string    `json:"status"`
	IsShared        bool      `json:"isShared"`
	Findings        []Finding `json:"findings"`
}

type Flow struct {
	FlowName        string    `json:"flowName"`
	DisplayName     string    `json:"displayName"`
	EnvironmentName string    `json:"environmentName"`
	State           string    `json:"state"`
	CreatedBy       string    `json:"createdBy"`
	TriggerType     string    `json:"triggerType"`
	HasHTTPTrigger  bool      `json:"hasHttpTrigger"`
	ConnectorsUsed  []string  `json:"connectorsUsed,omitempty"`
	Findings        []Finding `json:"findings"`
}

// Summary holds aggregate counts for a snapshot.
type Summary struct {
	TotalEnvironments int            `json:"totalEnvironments"`
	TotalUsers        int            `json:"totalUsers"`
	TotalConnections  int            `json:"totalConnections"`
	TotalFlows        int            `json:"totalFlows"`
	Findings          SeverityCounts `json:"findings"`
}

// Snapshot is an immutable point-in-time assessment result. It must not be
// mutated once Seal has been called and it has been handed to the cache.
type Snapshot struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	Environments []Environment `json:"environments"`
	Users        []User        `json:"users"`
	Connections  []Connection  `json:"connections"`
	Flows        []Flow        `json:"flows"`
	Summary      Summary       `json:"summary"`
	Advice       string        `json:"advice,omitempty"`
}

// EmptySnapshot returns a well-formed snapshot with no records and zero counts.
func EmptySnapshot(now time.Time) *Snapshot {
	s := &Snapshot{
		ID:           uuid.NewString(),
		Timestamp:    now,
		Environments: []Environment{},
		Users:        []User{},
		Connections:  []Connection{},
		Flows:        []Flow{},
	}
	s.Seal()
	return s
}

// Seal normalises nil slices and recomputes the summary. Call it once, before
// publishing the snapshot.
func (s *Snapshot) Seal() {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Environments == nil {
		s.Environments = []Environment{}
	}
	if s.Users == nil {
		s.Users = []User{}
	}
	if s.Connections == nil {
		s.Connections = []Connection{}
	}
	if s.Flows == nil {
		s.Flows = []Flow{}
	}
	s.Summary = Summarize(s)
}

// Summarize counts records and findings across every entity type.
func Summarize(s *Snapshot) Summary {
	sum := Summary{
		TotalEnvironments: len(s.Environments),
		TotalUsers:        len(s.Users),
		TotalConnections:  len(s.Connections),
		TotalFlows:        len(s.Flows),
	}
	for _, e := range s.Environments {
		for _, f := range e.Findings {
			sum.Findings.Add(f.Severity)
		}
	}
	for _, u := range s.Users {
		for _, f := range u.Findings {
			sum.Findings.Add(f.Severity)
		}
	}
	for _, c := range s.Connections {
		for _, f := range c.Findings {
			sum.Findings.Add(f.Severity)
		}
	}
	for _, fl := range s.Flows {
		for _, f := range fl.Findings {
			sum.Findings.Add(f.Severity)
		}
	}
	return sum
}
