package query

import (
	"fmt"
	"time"

	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
)

type Overview struct {
	TotalEnvironments int       `json:"totalEnvironments"`
	TotalUsers        int       `json:"totalUsers"`
	TotalConnections  int       `json:"totalConnections"`
	TotalFlows        int       `json:"totalFlows"`
	AssessmentDate    time.Time `json:"assessmentDate"`
}

type Security struct {
	HighRiskFindings   int              `json:"highRiskFindings"`
	MediumRiskFindings int              `json:"mediumRiskFindings"`
	LowRiskFindings    int              `json:"lowRiskFindings"`
	TotalFindings      int              `json:"totalFindings"`
	OverallRiskScore   int              `json:"overallRiskScore"`
	OverallRiskLevel   domain.RiskLevel `json:"overallRiskLevel"`
}

// Distribution counts records per risk level.
type Distribution struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

func (d *Distribution) add(level domain.RiskLevel) {
	switch level {
	case domain.RiskHigh:
		d.High++
	case domain.RiskMedium:
		d.Medium++
	default:
		d.Low++
	}
}

type RiskDistribution struct {
	Environments Distribution `json:"environments"`
	Users        Distribution `json:"users"`
	Connections  Distribution `json:"connections"`
	Flows        Distribution `json:"flows"`
}

type SummaryView struct {
	Overview         Overview         `json:"overview"`
	Security         Security         `json:"security"`
	RiskDistribution RiskDistribution `json:"riskDistribution"`
	Recommendations  []string         `json:"recommendations"`
	Advice           string           `json:"advice,omitempty"`
	SnapshotID       string           `json:"snapshotId"`
	LastUpdated      time.Time        `json:"lastUpdated"`
}

// Summary aggregates the snapshot for the dashboard view.
func Summary(s *domain.Snapshot, now time.Time) SummaryView {
	counts := s.Summary.Findings
	view := SummaryView{
		Overview: Overview{
			TotalEnvironments: s.Summary.TotalEnvironments,
			TotalUsers:        s.Summary.TotalUsers,
			TotalConnections:  s.Summary.TotalConnections,
			TotalFlows:        s.Summary.TotalFlows,
			AssessmentDate:    s.Timestamp,
		},
		Security: Security{
			HighRiskFindings:   counts.High,
			MediumRiskFindings: counts.Medium,
			LowRiskFindings:    counts.Low,
			TotalFindings:      counts.Total(),
			OverallRiskScore:   counts.Score(),
			OverallRiskLevel:   domain.RiskLevelFor(domain.ScopeSummary, counts.Score()),
		},
		Advice:      s.Advice,
		SnapshotID:  s.ID,
		LastUpdated: now,
	}
	for _, e := range s.Environments {
		view.RiskDistribution.Environments.add(environmentView(e).RiskLevel)
	}
	for _, u := range s.Users {
		view.RiskDistribution.Users.add(userView(u).RiskLevel)
	}
	for _, c := range s.Connections {
		view.RiskDistribution.Connections.add(connectionView(c).RiskLevel)
	}
	for _, f := range s.Flows {
		view.RiskDistribution.Flows.add(flowView(f).RiskLevel)
	}
	view.Recommendations = Recommendations(s)
	return view
}

// Recommendations derives deterministic remediation steps, most urgent first.
func Recommendations(s *domain.Snapshot) []string {
	var recs []string
	if n := s.Summary.Findings.High; n > 0 {
		recs = append(recs, fmt.Sprintf("Address %d high-risk findings immediately", n))
	}

	var noDLP int
	for _, e := range s.Environments {
		if e.DLPPolicyCount == 0 {
			noDLP++
		}
	}
	if noDLP > 0 {
		recs = append(recs, fmt.Sprintf("Apply data loss prevention policies to %d environments without coverage", noDLP))
	}

	var guestAdmins, guests int
	for _, u := range s.Users {
		if !IsExternalGuest(u.Email) {
			continue
		}
		guests++
		if isAdminRole(u) {
			guestAdmins++
		}
	}
	if guestAdmins > 0 {
		recs = append(recs, fmt.Sprintf("Remove administrative roles from %d external guest accounts", guestAdmins))
	} else if guests > 0 {
		recs = append(recs, fmt.Sprintf("Review access for %d external guest accounts", guests))
	}

	var risky int
	for _, c := range s.Connections {
		if IsHighRiskConnector(c.ConnectorName) {
			risky++
		}
	}
	if risky > 0 {
		recs = append(recs, fmt.Sprintf("Review %d connections that use high-risk connectors", risky))
	}

	var httpFlows int
	for _, f := range s.Flows {
		if f.HasHTTPTrigger {
			httpFlows++
		}
	}
	if httpFlows > 0 {
		recs = append(recs, fmt.Sprintf("Secure or disable %d flows with HTTP request triggers", httpFlows))
	}

	if n := s.Summary.Findings.Medium; n > 0 {
		recs = append(recs, fmt.Sprintf("Plan remediation for %d medium-risk findings", n))
	}
	if len(recs) == 0 {
		recs = append(recs, "Maintain current security posture with regular assessments")
	}
	return recs
}
