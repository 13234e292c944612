package classify

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/civicworks/portal311/internal/model"
)

type triageResponse struct {
	PriorityScore      float64  `json:"priority_score"`
	Justification      string   `json:"justification"`
	QualitativeSummary string   `json:"qualitative_summary"`
	SafetyFlags        []string `json:"safety_flags"`
	Metrics            struct {
		Severity       float64 `json:"severity"`
		AffectedArea   string  `json:"affected_area"`
		IsDuplicate    bool    `json:"is_duplicate"`
		RecurrenceRisk string  `json:"recurrence_risk"`
	} `json:"quantitative_metrics"`
	RecommendedCategory     string `json:"recommended_category"`
	RecommendedResponseTime string `json:"recommended_response_time"`
}

// parseTriage parses the model's response body. The body is untrusted: it
// may be bare JSON, fenced JSON, or garbage.
func parseTriage(text string) (model.TriageResult, error) {
	cleaned := cleanJSON(text)

	var resp triageResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return model.TriageResult{}, eris.Wrapf(err, "classify: parse response %q", truncate(cleaned, 200))
	}
	if resp.PriorityScore <= 0 {
		return model.TriageResult{}, eris.Errorf("classify: missing priority_score in %q", truncate(cleaned, 200))
	}
	if resp.PriorityScore > 10 {
		resp.PriorityScore = 10
	}

	return model.TriageResult{
		PriorityScore:      resp.PriorityScore,
		Justification:      resp.Justification,
		QualitativeSummary: resp.QualitativeSummary,
		SafetyFlags:        resp.SafetyFlags,
		Metrics: model.QuantMetrics{
			Severity:       resp.Metrics.Severity,
			AffectedArea:   resp.Metrics.AffectedArea,
			IsDuplicate:    resp.Metrics.IsDuplicate,
			RecurrenceRisk: resp.Metrics.RecurrenceRisk,
		},
		RecommendedCategory: resp.RecommendedCategory,
		RecommendedResponse: resp.RecommendedResponseTime,
		Source:              model.SourceAIGenerated,
	}, nil
}

// cleanJSON strips markdown fences and extracts the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
