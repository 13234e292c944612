package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/model"
)

// caseRecord is the slice of Case fields the mirror reads back.
type caseRecord struct {
	Id string `json:"Id"`
}

type caseQuery struct {
	Records []caseRecord
}

// CaseMirror keeps one Salesforce Case per service request. The request ID
// lands in an external-ID field, so re-running triage updates the existing
// Case instead of opening a second one.
type CaseMirror struct {
	client Client
	logger *zap.Logger
}

func NewCaseMirror(client Client, logger *zap.Logger) *CaseMirror {
	if logger == nil {
		logger = zap.L()
	}
	return &CaseMirror{client: client, logger: logger}
}

func (m *CaseMirror) Name() string { return "salesforce-case-mirror" }

// TriageCompleted upserts the Case for a triaged request.
func (m *CaseMirror) TriageCompleted(ctx context.Context, req *model.ServiceRequest, result model.TriageResult) error {
	fields := caseFields(req, result)

	existingID, err := m.findCase(ctx, req.ID)
	if err != nil {
		return err
	}

	if existingID != "" {
		if err := m.client.UpdateOne(ctx, "Case", existingID, fields); err != nil {
			return eris.Wrapf(err, "sf: update case for request %s", req.ID)
		}
		m.logger.Debug("case updated", zap.String("request_id", req.ID), zap.String("case_id", existingID))
		return nil
	}

	fields["Portal_Request_ID__c"] = req.ID
	fields["Origin"] = "Web"
	id, err := m.client.InsertOne(ctx, "Case", fields)
	if err != nil {
		return eris.Wrapf(err, "sf: create case for request %s", req.ID)
	}
	m.logger.Info("case created", zap.String("request_id", req.ID), zap.String("case_id", id))
	return nil
}

func (m *CaseMirror) findCase(ctx context.Context, requestID string) (string, error) {
	soql := fmt.Sprintf("SELECT Id FROM Case WHERE Portal_Request_ID__c = '%s' LIMIT 1",
		strings.ReplaceAll(requestID, "'", "\\'"))

	var result caseQuery
	if err := m.client.Query(ctx, soql, &result); err != nil {
		return "", eris.Wrapf(err, "sf: find case for request %s", requestID)
	}
	if len(result.Records) == 0 {
		return "", nil
	}
	return result.Records[0].Id, nil
}

func caseFields(req *model.ServiceRequest, result model.TriageResult) map[string]any {
	return map[string]any{
		"Subject":     fmt.Sprintf("[%s] %s", req.Category, req.Address),
		"Description": req.Description,
		"Priority":    casePriority(result.ClampedPriority()),
		"Status":      caseStatus(req.Status),
	}
}

// casePriority maps the 1-10 triage score onto Salesforce's three-level
// Case priority picklist.
func casePriority(score int) string {
	switch {
	case score >= 8:
		return "High"
	case score >= 5:
		return "Medium"
	default:
		return "Low"
	}
}

func caseStatus(status model.RequestStatus) string {
	switch status {
	case model.StatusClosed:
		return "Closed"
	case model.StatusInProgress:
		return "Working"
	default:
		return "New"
	}
}
