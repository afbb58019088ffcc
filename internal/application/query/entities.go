package query

import (
	"net/url"
	"strings"
	"time"

	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
)

type Pagination = domain.Pagination

func paginate(total int, p Page) (Pagination, int, int) {
	return domain.Paginate(total, p.Number, p.Size)
}

// highRiskConnectors are connectors that can move data outside the tenant or
// execute arbitrary requests.
var highRiskConnectors = map[string]bool{
	"shared_http":                   true,
	"shared_httpwithazuread":        true,
	"shared_webcontents":            true,
	"shared_ftp":                    true,
	"shared_sftp":                   true,
	"shared_sftpwithssh":            true,
	"shared_sql":                    true,
	"shared_filesystem":             true,
	"shared_sendmail":               true,
	"shared_smtp":                   true,
	"shared_dropbox":                true,
	"shared_googledrive":            true,
	"shared_twitter":                true,
	"shared_azureblob":              true,
	"shared_custom":                 true,
	"shared_logicflows":             true,
	"shared_powerplatformforadmins": true,
}

// IsHighRiskConnector reports whether connector is on the fixed high-risk list.
// Names are compared without case and with or without the "shared_" prefix.
func IsHighRiskConnector(connector string) bool {
	c := strings.ToLower(strings.TrimSpace(connector))
	if c == "" {
		return false
	}
	if !strings.HasPrefix(c, "shared_") {
		c = "shared_" + c
	}
	return highRiskConnectors[c]
}

// IsExternalGuest reports whether an email belongs to a B2B guest account.
func IsExternalGuest(email string) bool {
	return strings.Contains(email, "#EXT#")
}

func isAdminRole(u domain.User) bool {
	return strings.Contains(u.RoleType, "Admin") || strings.Contains(u.RoleName, "Admin")
}

func messages(findings []domain.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Message)
	}
	return out
}

// EnvironmentView is the API shape of an environment.
type EnvironmentView struct {
	EnvironmentName string           `json:"environmentName"`
	DisplayName     string           `json:"displayName"`
	EnvironmentType string           `json:"environmentType"`
	Region          string           `json:"region"`
	IsDefault       bool             `json:"isDefault"`
	DLPPolicyCount  int              `json:"dlpPolicyCount"`
	HasDLPPolicy    bool             `json:"hasDlpPolicy"`
	FindingsCount   int              `json:"findingsCount"`
	RiskScore       int              `json:"riskScore"`
	RiskLevel       domain.RiskLevel `json:"riskLevel"`
	Findings        []string         `json:"findings"`
}

func environmentView(e domain.Environment) EnvironmentView {
	counts := domain.Count(e.Findings)
	return EnvironmentView{
		EnvironmentName: e.Name,
		DisplayName:     e.DisplayName,
		EnvironmentType: e.Type,
		Region:          e.Region,
		IsDefault:       e.IsDefault,
		DLPPolicyCount:  e.DLPPolicyCount,
		HasDLPPolicy:    e.DLPPolicyCount > 0,
		FindingsCount:   counts.Total(),
		RiskScore:       counts.Score(),
		RiskLevel:       domain.RiskLevelFor(domain.ScopeEnvironment, counts.Score()),
		Findings:        messages(e.Findings),
	}
}

type EnvironmentList struct {
	Environments []EnvironmentView `json:"environments"`
	Pagination   Pagination        `json:"pagination"`
	LastUpdated  time.Time         `json:"lastUpdated"`
}

// Environments supports riskLevel and environmentType filters.
func Environments(s *domain.Snapshot, values url.Values, now time.Time) (EnvironmentList, error) {
	p, err := ParsePage(values, DefaultEnvironmentPageSize)
	if err != nil {
		return EnvironmentList{}, err
	}
	riskLevel := stringFilter(values, "riskLevel")
	envType := stringFilter(values, "environmentType")

	views := make([]EnvironmentView, 0, len(s.Environments))
	for _, e := range s.Environments {
		v := environmentView(e)
		if !matchLevel(riskLevel, string(v.RiskLevel)) || !matchString(envType, v.EnvironmentType) {
			continue
		}
		views = append(views, v)
	}
	items, meta := page(views, p)
	return EnvironmentList{Environments: items, Pagination: meta, LastUpdated: now}, nil
}

// UserView is the API shape of a role assignment.
type UserView struct {
	PrincipalID          string           `json:"principalId"`
	PrincipalDisplayName string           `json:"principalDisplayName"`
	PrincipalEmail       string           `json:"principalEmail"`
	PrincipalType        string           `json:"principalType"`
	RoleName             string           `json:"roleName"`
	RoleType             string           `json:"roleType"`
	EnvironmentName      string           `json:"environmentName"`
	IsExternalGuest      bool             `json:"isExternalGuest"`
	IsAdmin              bool             `json:"isAdmin"`
	RequiresReview       bool             `json:"requiresReview"`
	RiskScore            int              `json:"riskScore"`
	RiskLevel            domain.RiskLevel `json:"riskLevel"`
	Findings             []string         `json:"findings"`
}

func userView(u domain.User) UserView {
	counts := domain.Count(u.Findings)
	guest := IsExternalGuest(u.Email)
	admin := isAdminRole(u)
	return UserView{
		PrincipalID:          u.PrincipalID,
		PrincipalDisplayName: u.DisplayName,
		PrincipalEmail:       u.Email,
		PrincipalType:        u.PrincipalType,
		RoleName:             u.RoleName,
		RoleType:             u.RoleType,
		EnvironmentName:      u.EnvironmentName,
		IsExternalGuest:      guest,
		IsAdmin:              admin,
		RequiresReview:       len(u.Findings) > 0 || (guest && admin),
		RiskScore:            counts.Score(),
		RiskLevel:            domain.RiskLevelFor(domain.ScopeUser, counts.Score()),
		Findings:             messages(u.Findings),
	}
}

type UserList struct {
	Users       []UserView `json:"users"`
	Pagination  Pagination `json:"pagination"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

// Users supports environmentName, roleType, principalType and requiresReview filters.
func Users(s *domain.Snapshot, values url.Values, now time.Time) (UserList, error) {
	p, err := ParsePage(values, DefaultPageSize)
	if err != nil {
		return UserList{}, err
	}
	requiresReview, err := boolFilter(values, "requiresReview")
	if err != nil {
		return UserList{}, err
	}
	envName := stringFilter(values, "environmentName")
	roleType := stringFilter(values, "roleType")
	principalType := stringFilter(values, "principalType")

	views := make([]UserView, 0, len(s.Users))
	for _, u := range s.Users {
		v := userView(u)
		if !matchString(envName, v.EnvironmentName) ||
			!matchString(roleType, v.RoleType) ||
			!matchString(principalType, v.PrincipalType) ||
			!matchBool(requiresReview, v.RequiresReview) {
			continue
		}
		views = append(views, v)
	}
	items, meta := page(views, p)
	return UserList{Users: items, Pagination: meta, LastUpdated: now}, nil
}

// ConnectionView is the API shape of a connection.
type ConnectionView struct {
	ConnectionID    string           `json:"connectionId"`
	DisplayName     string           `json:"displayName"`
	ConnectorName   string           `json:"connectorName"`
	EnvironmentName string           `json:"environmentName"`
	CreatedBy       string           `json:"createdBy"`
	Status          string           `json:"status"`
	IsShared        bool             `json:"isShared"`
	IsHighRisk      bool             `json:"isHighRisk"`
	RequiresAction  bool             `json:"requiresAction"`
	RiskScore       int              `json:"riskScore"`
	RiskLevel       domain.RiskLevel `json:"riskLevel"`
	Findings        []string         `json:"findings"`
}

func connectionView(c domain.Connection) ConnectionView {
	counts := domain.Count(c.Findings)
	highRisk := IsHighRiskConnector(c.ConnectorName)
	return ConnectionView{
		ConnectionID:    c.ConnectionID,
		DisplayName:     c.DisplayName,
		ConnectorName:   c.ConnectorName,
		EnvironmentName: c.EnvironmentName,
		CreatedBy:       c.CreatedBy,
		Status:          c.Status,
		IsShared:        c.IsShared,
		IsHighRisk:      highRisk,
		RequiresAction:  highRisk || len(c.Findings) > 0,
		RiskScore:       counts.Score(),
		RiskLevel:       domain.RiskLevelFor(domain.ScopeConnection, counts.Score()),
		Findings:        messages(c.Findings),
	}
}

type ConnectionList struct {
	Connections []ConnectionView `json:"connections"`
	Pagination  Pagination       `json:"pagination"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// Connections supports environmentName, connectorName, isHighRisk and requiresAction filters.
func Connections(s *domain.Snapshot, values url.Values, now time.Time) (ConnectionList, error) {
	p, err := ParsePage(values, DefaultPageSize)
	if err != nil {
		return ConnectionList{}, err
	}
	isHighRisk, err := boolFilter(values, "isHighRisk")
	if err != nil {
		return ConnectionList{}, err
	}
	requiresAction, err := boolFilter(values, "requiresAction")
	if err != nil {
		return ConnectionList{}, err
	}
	envName := stringFilter(values, "environmentName")
	connector := stringFilter(values, "connectorName")

	views := make([]ConnectionView, 0, len(s.Connections))
	for _, c := range s.Connections {
		v := connectionView(c)
		if !matchString(envName, v.EnvironmentName) ||
			!matchString(connector, v.ConnectorName) ||
			!matchBool(isHighRisk, v.IsHighRisk) ||
			!matchBool(requiresAction, v.RequiresAction) {
			continue
		}
		views = append(views, v)
	}
	items, meta := page(views, p)
	return ConnectionList{Connections: items, Pagination: meta, LastUpdated: now}, nil
}

// FlowView is the API shape of a cloud flow.
type FlowView struct {
	FlowName        string           `json:"flowName"`
	DisplayName     string           `json:"displayName"`
	EnvironmentName string           `json:"environmentName"`
	State           string           `json:"state"`
	IsEnabled       bool             `json:"isEnabled"`
	CreatedBy       string           `json:"createdBy"`
	TriggerType     string           `json:"triggerType"`
	HasHTTPTrigger  bool             `json:"hasHttpTrigger"`
	ConnectorsUsed  []string         `json:"connectorsUsed"`
	RequiresReview  bool             `json:"requiresReview"`
	RiskScore       int              `json:"riskScore"`
	RiskLevel       domain.RiskLevel `json:"riskLevel"`
	Findings        []string         `json:"findings"`
}

func flowView(f domain.Flow) FlowView {
	counts := domain.Count(f.Findings)
	connectors := f.ConnectorsUsed
	if connectors == nil {
		connectors = []string{}
	}
	return FlowView{
		FlowName:        f.FlowName,
		DisplayName:     f.DisplayName,
		EnvironmentName: f.EnvironmentName,
		State:           f.State,
		IsEnabled:       strings.EqualFold(f.State, "Started"),
		CreatedBy:       f.CreatedBy,
		TriggerType:     f.TriggerType,
		HasHTTPTrigger:  f.HasHTTPTrigger,
		ConnectorsUsed:  connectors,
		RequiresReview:  len(f.Findings) > 0 || f.HasHTTPTrigger,
		RiskScore:       counts.Score(),
		RiskLevel:       domain.RiskLevelFor(domain.ScopeFlow, counts.Score()),
		Findings:        messages(f.Findings),
	}
}

type FlowList struct {
	Flows       []FlowView `json:"flows"`
	Pagination  Pagination `json:"pagination"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

// Flows supports environmentName, isEnabled, hasHttpTrigger and requiresReview filters.
func Flows(s *domain.Snapshot, values url.Values, now time.Time) (FlowList, error) {
	p, err := ParsePage(values, DefaultPageSize)
	if err != nil {
		return FlowList{}, err
	}
	isEnabled, err := boolFilter(values, "isEnabled")
	if err != nil {
		return FlowList{}, err
	}
	hasHTTPTrigger, err := boolFilter(values, "hasHttpTrigger")
	if err != nil {
		return FlowList{}, err
	}
	requiresReview, err := boolFilter(values, "requiresReview")
	if err != nil {
		return FlowList{}, err
	}
	envName := stringFilter(values, "environmentName")

	views := make([]FlowView, 0, len(s.Flows))
	for _, f := range s.Flows {
		v := flowView(f)
		if !matchString(envName, v.EnvironmentName) ||
			!matchBool(isEnabled, v.IsEnabled) ||
			!matchBool(hasHTTPTrigger, v.HasHTTPTrigger) ||
			!matchBool(requiresReview, v.RequiresReview) {
			continue
		}
		views = append(views, v)
	}
	items, meta := page(views, p)
	return FlowList{Flows: items, Pagination: meta, LastUpdated: now}, nil
}

// Projections of every record, unfiltered, for exporters.

func EnvironmentViews(s *domain.Snapshot) []EnvironmentView {
	out := make([]EnvironmentView, 0, len(s.Environments))
	for _, e := range s.Environments {
		out = append(out, environmentView(e))
	}
	return out
}

func UserViews(s *domain.Snapshot) []UserView {
	out := make([]UserView, 0, len(s.Users))
	for _, u := range s.Users {
		out = append(out, userView(u))
	}
	return out
}

func ConnectionViews(s *domain.Snapshot) []ConnectionView {
	out := make([]ConnectionView, 0, len(s.Connections))
	for _, c := range s.Connections {
		out = append(out, connectionView(c))
	}
	return out
}

func FlowViews(s *domain.Snapshot) []FlowView {
	out := make([]FlowView, 0, len(s.Flows))
	for _, f := range s.Flows {
		out = append(out, flowView(f))
	}
	return out
}
