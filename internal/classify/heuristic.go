package classify

import (
	"context"
	"fmt"

	"github.com/civicworks/portal311/internal/model"
	"github.com/civicworks/portal311/internal/policy"
)

// Heuristic is the deterministic keyword fallback. Intentionally crude: it
// exists so triage degrades gracefully instead of stalling when no model is
// available.
type Heuristic struct {
	pol policy.Policy
}

// NewHeuristic creates the keyword classifier.
func NewHeuristic(pol policy.Policy) *Heuristic {
	return &Heuristic{pol: pol}
}

// Classify scans the description for keyword families, first match wins.
func (h *Heuristic) Classify(_ context.Context, in Input) model.TriageResult {
	severity := h.pol.DefaultSeverity
	category := h.pol.DefaultCategory
	justification := "No keyword family matched; default severity applied."

	for _, fam := range h.pol.KeywordFamilies {
		if fam.Matches(in.Request.Description) {
			severity = fam.Severity
			category = fam.Category
			justification = fmt.Sprintf("Keyword heuristic matched %q family; severity %.0f.", fam.Category, fam.Severity)
			break
		}
	}

	return model.TriageResult{
		PriorityScore: severity,
		Justification: justification,
		Metrics: model.QuantMetrics{
			Severity:    severity,
			IsDuplicate: len(in.Historical.SimilarReports) > 0,
		},
		RecommendedCategory: category,
		Source:              model.SourceHeuristic,
	}
}
