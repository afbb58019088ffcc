package query

import (
	"net/url"
	"sort"
	"time"

	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
)

// Finding categories and resource types, one per source entity type.
const (
	CategoryEnvironment = "Environment Security"
	CategoryUser        = "User Access"
	CategoryConnection  = "Connection Security"
	CategoryFlow        = "Flow Security"

	ResourceEnvironment = "Environment"
	ResourceUser        = "User"
	ResourceConnection  = "Connection"
	ResourceFlow        = "Flow"
)

// FindingView is one flattened finding.
type FindingView struct {
	FindingID       int              `json:"findingId"`
	Category        string           `json:"category"`
	ResourceType    string           `json:"resourceType"`
	ResourceID      string           `json:"resourceId"`
	ResourceName    string           `json:"resourceName"`
	EnvironmentName string           `json:"environmentName"`
	Description     string           `json:"description"`
	Severity        domain.Severity  `json:"severity"`
	RiskScore       int              `json:"riskScore"`
	RiskLevel       domain.RiskLevel `json:"riskLevel"`
}

type FindingList struct {
	Findings    []FindingView `json:"findings"`
	Pagination  Pagination    `json:"pagination"`
	LastUpdated time.Time     `json:"lastUpdated"`
}

// Flatten lists every finding of the snapshot in snapshot order: environments,
// users, connections, then flows. IDs start at 1.
func Flatten(s *domain.Snapshot) []FindingView {
	out := make([]FindingView, 0, s.Summary.Findings.Total())
	add := func(category, resourceType, id, name, env string, findings []domain.Finding) {
		for _, f := range findings {
			out = append(out, FindingView{
				FindingID:       len(out) + 1,
				Category:        category,
				ResourceType:    resourceType,
				ResourceID:      id,
				ResourceName:    name,
				EnvironmentName: env,
				Description:     f.Message,
				Severity:        f.Severity,
				RiskScore:       f.Severity.Weight(),
				RiskLevel:       domain.LevelForSeverity(f.Severity),
			})
		}
	}
	for _, e := range s.Environments {
		add(CategoryEnvironment, ResourceEnvironment, e.Name, displayOr(e.DisplayName, e.Name), e.Name, e.Findings)
	}
	for _, u := range s.Users {
		add(CategoryUser, ResourceUser, u.PrincipalID, displayOr(u.DisplayName, u.Email), u.EnvironmentName, u.Findings)
	}
	for _, c := range s.Connections {
		add(CategoryConnection, ResourceConnection, c.ConnectionID, displayOr(c.DisplayName, c.ConnectionID), c.EnvironmentName, c.Findings)
	}
	for _, f := range s.Flows {
		add(CategoryFlow, ResourceFlow, f.FlowName, displayOr(f.DisplayName, f.FlowName), f.EnvironmentName, f.Findings)
	}
	return out
}

func displayOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// Findings supports riskLevel, category, environmentName and resourceType
// filters and orders results by risk score, highest first. Ties keep snapshot order.
func Findings(s *domain.Snapshot, values url.Values, now time.Time) (FindingList, error) {
	p, err := ParsePage(values, DefaultPageSize)
	if err != nil {
		return FindingList{}, err
	}
	riskLevel := stringFilter(values, "riskLevel")
	category := stringFilter(values, "category")
	envName := stringFilter(values, "environmentName")
	resourceType := stringFilter(values, "resourceType")

	all := Flatten(s)
	views := all[:0]
	for _, f := range all {
		if !matchLevel(riskLevel, string(f.RiskLevel)) ||
			!matchString(category, f.Category) ||
			!matchString(envName, f.EnvironmentName) ||
			!matchString(resourceType, f.ResourceType) {
			continue
		}
		views = append(views, f)
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].RiskScore > views[j].RiskScore
	})
	items, meta := page(views, p)
	return FindingList{Findings: items, Pagination: meta, LastUpdated: now}, nil
}
