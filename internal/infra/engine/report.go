package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
)

// rawReport is the JSON document written by the assessment script. encoding/json
// matches keys case-insensitively, so the PascalCase output of ConvertTo-Json
// decodes into the same fields.
type rawReport struct {
	Timestamp      string           `json:"timestamp"`
	AssessmentDate string           `json:"assessmentDate"`
	Environments   []rawEnvironment `json:"environments"`
	Users          []rawUser        `json:"users"`
	Connections    []rawConnection  `json:"connections"`
	Flows          []rawFlow        `json:"flows"`
}

type rawEnvironment struct {
	EnvironmentName string   `json:"environmentName"`
	DisplayName     string   `json:"displayName"`
	EnvironmentType string   `json:"environmentType"`
	Region          string   `json:"region"`
	IsDefault       bool     `json:"isDefault"`
	DLPPolicyCount  int      `json:"dlpPolicyCount"`
	SecurityGroupID string   `json:"securityGroupId"`
	CreatedTime     string   `json:"createdTime"`
	Findings        []string `json:"findings"`
}

type rawUser struct {
	PrincipalID          string   `json:"principalId"`
	PrincipalDisplayName string   `json:"principalDisplayName"`
	PrincipalEmail       string   `json:"principalEmail"`
	PrincipalType        string   `json:"principalType"`
	RoleName             string   `json:"roleName"`
	RoleType             string   `json:"roleType"`
	EnvironmentName      string   `json:"environmentName"`
	Findings             []string `json:"findings"`
}

type rawConnection struct {
	ConnectionID    string   `json:"connectionId"`
	DisplayName     string   `json:"displayName"`
	ConnectorName   string   `json:"connectorName"`
	EnvironmentName string   `json:"environmentName"`
	CreatedBy       string   `json:"createdBy"`
	Status          string   `json:"status"`
	IsShared        bool     `json:"isShared"`
	Findings        []string `json:"findings"`
}

type rawFlow struct {
	FlowName        string   `json:"flowName"`
	DisplayName     string   `json:"displayName"`
	EnvironmentName string   `json:"environmentName"`
	State           string   `json:"state"`
	CreatedBy       string   `json:"createdBy"`
	TriggerType     string   `json:"triggerType"`
	HasHTTPTrigger  bool     `json:"hasHttpTrigger"`
	ConnectorsUsed  []string `json:"connectorsUsed"`
	Findings        []string `json:"findings"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02 15:04:05",
	"01/02/2006 15:04:05",
}

func parseTime(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// DecodeReport reads an engine report and returns a sealed snapshot. Finding
// severities are classified here, once; nothing downstream re-reads the text.
// now is used when the report carries no usable timestamp.
func DecodeReport(r io.Reader, now time.Time) (*domain.Snapshot, error) {
	var raw rawReport
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedReport, err)
	}
	return raw.toSnapshot(now)
}

func (raw rawReport) toSnapshot(now time.Time) (*domain.Snapshot, error) {
	s := &domain.Snapshot{Timestamp: now.UTC()}
	if ts, ok := parseTime(raw.Timestamp); ok {
		s.Timestamp = ts
	} else if ts, ok := parseTime(raw.AssessmentDate); ok {
		s.Timestamp = ts
	}

	s.Environments = make([]domain.Environment, 0, len(raw.Environments))
	for i, e := range raw.Environments {
		if strings.TrimSpace(e.EnvironmentName) == "" {
			return nil, fmt.Errorf("%w: environment %d has no environmentName", domain.ErrMalformedReport, i)
		}
		created, _ := parseTime(e.CreatedTime)
		s.Environments = append(s.Environments, domain.Environment{
			Name:            e.EnvironmentName,
			DisplayName:     e.DisplayName,
			Type:            e.EnvironmentType,
			Region:          e.Region,
			IsDefault:       e.IsDefault,
			DLPPolicyCount:  e.DLPPolicyCount,
			SecurityGroupID: e.SecurityGroupID,
			CreatedTime:     created,
			Findings:        domain.NewFindings(e.Findings),
		})
	}

	s.Users = make([]domain.User, 0, len(raw.Users))
	for _, u := range raw.Users {
		s.Users = append(s.Users, domain.User{
			PrincipalID:     u.PrincipalID,
			DisplayName:     u.PrincipalDisplayName,
			Email:           u.PrincipalEmail,
			PrincipalType:   u.PrincipalType,
			RoleName:        u.RoleName,
			RoleType:        u.RoleType,
			EnvironmentName: u.EnvironmentName,
			Findings:        domain.NewFindings(u.Findings),
		})
	}

	s.Connections = make([]domain.Connection, 0, len(raw.Connections))
	for _, c := range raw.Connections {
		s.Connections = append(s.Connections, domain.Connection{
			ConnectionID:    c.ConnectionID,
			DisplayName:     c.DisplayName,
			ConnectorName:   c.ConnectorName,
			EnvironmentName: c.EnvironmentName,
			CreatedBy:       c.CreatedBy,
			Status:          c.Status,
			IsShared:        c.IsShared,
			Findings:        domain.NewFindings(c.Findings),
		})
	}

	s.Flows = make([]domain.Flow, 0, len(raw.Flows))
	for _, f := range raw.Flows {
		s.Flows = append(s.Flows, domain.Flow{
			FlowName:        f.FlowName,
			DisplayName:     f.DisplayName,
			EnvironmentName: f.EnvironmentName,
			State:           f.State,
			CreatedBy:       f.CreatedBy,
			TriggerType:     f.TriggerType,
			HasHTTPTrigger:  f.HasHTTPTrigger,
			ConnectorsUsed:  f.ConnectorsUsed,
			Findings:        domain.NewFindings(f.Findings),
		})
	}

	s.Seal()
	return s, nil
}
