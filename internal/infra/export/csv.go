package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/bryanwahyu/ppsec-gateway/internal/application/query"
	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
)

// CSV writes one file per entity type plus the flattened findings list.
type CSV struct{}

func (CSV) Export(s *domain.Snapshot) ([]domain.Artifact, error) {
	tables := []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{"environments.csv", environmentHeader, environmentRows(s)},
		{"users.csv", userHeader, userRows(s)},
		{"connections.csv", connectionHeader, connectionRows(s)},
		{"flows.csv", flowHeader, flowRows(s)},
		{"findings.csv", findingHeader, findingRows(s)},
	}
	out := make([]domain.Artifact, 0, len(tables))
	for _, t := range tables {
		data, err := writeCSV(t.header, t.rows)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", t.name, err)
		}
		out = append(out, domain.Artifact{Name: t.name, ContentType: contentTypeCSV, Data: data})
	}
	return out, nil
}

func writeCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var environmentHeader = []string{
	"environmentName", "displayName", "environmentType", "region", "isDefault",
	"dlpPolicyCount", "findingsCount", "riskScore", "riskLevel", "findings",
}

func environmentRows(s *domain.Snapshot) [][]string {
	views := query.EnvironmentViews(s)
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.EnvironmentName, v.DisplayName, v.EnvironmentType, v.Region,
			strconv.FormatBool(v.IsDefault), strconv.Itoa(v.DLPPolicyCount),
			strconv.Itoa(v.FindingsCount), strconv.Itoa(v.RiskScore), string(v.RiskLevel),
			joinFindings(v.Findings),
		})
	}
	return rows
}

var userHeader = []string{
	"principalId", "principalDisplayName", "principalEmail", "principalType", "roleName",
	"roleType", "environmentName", "isExternalGuest", "isAdmin", "requiresReview",
	"riskScore", "riskLevel", "findings",
}

func userRows(s *domain.Snapshot) [][]string {
	views := query.UserViews(s)
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.PrincipalID, v.PrincipalDisplayName, v.PrincipalEmail, v.PrincipalType, v.RoleName,
			v.RoleType, v.EnvironmentName, strconv.FormatBool(v.IsExternalGuest),
			strconv.FormatBool(v.IsAdmin), strconv.FormatBool(v.RequiresReview),
			strconv.Itoa(v.RiskScore), string(v.RiskLevel), joinFindings(v.Findings),
		})
	}
	return rows
}

var connectionHeader = []string{
	"connectionId", "displayName", "connectorName", "environmentName", "createdBy", "status",
	"isShared", "isHighRisk", "requiresAction", "riskScore", "riskLevel", "findings",
}

func connectionRows(s *domain.Snapshot) [][]string {
	views := query.ConnectionViews(s)
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.ConnectionID, v.DisplayName, v.ConnectorName, v.EnvironmentName, v.CreatedBy, v.Status,
			strconv.FormatBool(v.IsShared), strconv.FormatBool(v.IsHighRisk),
			strconv.FormatBool(v.RequiresAction), strconv.Itoa(v.RiskScore), string(v.RiskLevel),
			joinFindings(v.Findings),
		})
	}
	return rows
}

var flowHeader = []string{
	"flowName", "displayName", "environmentName", "state", "isEnabled", "createdBy",
	"triggerType", "hasHttpTrigger", "connectorsUsed", "requiresReview", "riskScore",
	"riskLevel", "findings",
}

func flowRows(s *domain.Snapshot) [][]string {
	views := query.FlowViews(s)
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.FlowName, v.DisplayName, v.EnvironmentName, v.State, strconv.FormatBool(v.IsEnabled),
			v.CreatedBy, v.TriggerType, strconv.FormatBool(v.HasHTTPTrigger),
			strings.Join(v.ConnectorsUsed, ";"), strconv.FormatBool(v.RequiresReview),
			strconv.Itoa(v.RiskScore), string(v.RiskLevel), joinFindings(v.Findings),
		})
	}
	return rows
}

var findingHeader = []string{
	"findingId", "category", "resourceType", "resourceId", "resourceName",
	"environmentName", "description", "severity", "riskScore", "riskLevel",
}

func findingRows(s *domain.Snapshot) [][]string {
	views := query.Flatten(s)
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			strconv.Itoa(v.FindingID), v.Category, v.ResourceType, v.ResourceID, v.ResourceName,
			v.EnvironmentName, v.Description, string(v.Severity), strconv.Itoa(v.RiskScore),
			string(v.RiskLevel),
		})
	}
	return rows
}

func joinFindings(findings []string) string {
	return strings.Join(findings, " | ")
}
