package model

import (
	"math"
	"strings"
	"time"
)

// TriageSource records whether a result came from the model or the
// deterministic fallback, so staff can weigh it accordingly.
type TriageSource string

const (
	SourceAIGenerated TriageSource = "ai_generated"
	SourceHeuristic   TriageSource = "heuristic"
)

// DefaultPriority is written when classification fails entirely.
const DefaultPriority = 5.0

// QuantMetrics are the per-dimension diagnostics emitted by the classifier.
type QuantMetrics struct {
	Severity       float64 `json:"severity"`
	AffectedArea   string  `json:"affected_area"`
	IsDuplicate    bool    `json:"is_duplicate"`
	RecurrenceRisk string  `json:"recurrence_risk"`
}

// TriageResult is the merged output of the triage pipeline for one request.
type TriageResult struct {
	PriorityScore       float64      `json:"priority_score"`
	Justification       string       `json:"justification"`
	QualitativeSummary  string       `json:"qualitative_summary"`
	SafetyFlags         []string     `json:"safety_flags,omitempty"`
	Metrics             QuantMetrics `json:"quantitative_metrics"`
	RecommendedCategory string       `json:"recommended_category,omitempty"`
	RecommendedResponse string       `json:"recommended_response,omitempty"`
	Source              TriageSource `json:"source"`
}

// ClampedPriority returns the priority as an integer clamped to [1, 10],
// the form written back onto the request row.
func (t *TriageResult) ClampedPriority() int {
	p := math.Round(t.PriorityScore)
	if p < 1 {
		p = 1
	}
	if p > 10 {
		p = 10
	}
	return int(p)
}

// FlagReason joins the first three safety flags for the request's
// flag_reason column.
func (t *TriageResult) FlagReason() string {
	flags := t.SafetyFlags
	if len(flags) > 3 {
		flags = flags[:3]
	}
	return strings.Join(flags, "; ")
}

// RecentReport is evidence of a prior report at the same address.
type RecentReport struct {
	ID   string    `json:"id"`
	Date time.Time `json:"date"`
}

// PastResolution describes the most recent closed request at the address.
type PastResolution struct {
	ID        string `json:"id"`
	Substatus string `json:"substatus"`
	Message   string `json:"message"`
}

// SimilarReport is a near-duplicate candidate with its evidence string.
type SimilarReport struct {
	ID            string  `json:"id"`
	Similarity    float64 `json:"similarity"`
	Justification string  `json:"justification"`
}

// HistoricalContext is computed fresh per request and consumed once by the
// classifier; it is never persisted on its own.
type HistoricalContext struct {
	RecurrenceCount90d  int             `json:"recurrence_count_90d"`
	Chronic             bool            `json:"chronic"`
	RecentReports       []RecentReport  `json:"recent_reports,omitempty"`
	PastResolution      *PastResolution `json:"past_resolution,omitempty"`
	SimilarReports      []SimilarReport `json:"similar_reports,omitempty"`
	DuplicateDensity15m int             `json:"duplicate_density_15m"`
}

// SpatialContext holds proximity signals around the request point.
type SpatialContext struct {
	CriticalInfrastructure []string `json:"critical_infrastructure,omitempty"`
	NearbyOutages100m      int      `json:"nearby_outages_100m"`
	IsSchoolZone           bool     `json:"is_school_zone"`
	IsHighDensity          bool     `json:"is_high_density"`
}
