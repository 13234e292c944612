package classify

import (
	"fmt"
	"strings"
	"time"

	"github.com/civicworks/portal311/internal/model"
)

const triageSystemPrompt = `You are a municipal 311 triage analyst. Assess a resident service request and respond with ONLY a valid JSON object, no prose, matching exactly:
{
  "priority_score": <float 1.0-10.0>,
  "justification": "<one paragraph citing specific evidence report IDs>",
  "qualitative_summary": "<two or three sentences for staff>",
  "safety_flags": ["<flag>", ...],
  "quantitative_metrics": {
    "severity": <float 1.0-10.0>,
    "affected_area": "<point|block|corridor|district>",
    "is_duplicate": <bool>,
    "recurrence_risk": "<low|medium|high>"
  },
  "recommended_category": "<category slug>",
  "recommended_response_time": "<e.g. 4 hours, 2 business days>"
}

Rules:
- Weight CURRENT conditions (the weather and time of day given below) above conditions at submission time when judging urgency.
- Cite specific evidence by report ID (e.g. "report 4f1c... closed 12 days ago") rather than vague claims, so staff can audit the score.
- Safety flags are short snake_case tokens such as "road_hazard", "school_zone", "repeat_failure".`

// buildPrompt renders the user message for one request.
func buildPrompt(in Input, conditions string) string {
	var b strings.Builder
	req := in.Request

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	fmt.Fprintf(&b, "SERVICE REQUEST\n")
	fmt.Fprintf(&b, "Category: %s\n", req.Category)
	fmt.Fprintf(&b, "Description: %s\n", req.Description)
	if req.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", req.Address)
	}
	if req.Latitude != nil && req.Longitude != nil {
		fmt.Fprintf(&b, "Coordinates: %.5f, %.5f\n", *req.Latitude, *req.Longitude)
	}

	fmt.Fprintf(&b, "\nCURRENT CONDITIONS\n")
	fmt.Fprintf(&b, "Time: %s\n", now.Format("Monday 15:04 MST"))
	if conditions != "" {
		fmt.Fprintf(&b, "Weather: %s\n", conditions)
	} else {
		fmt.Fprintf(&b, "Weather: unavailable\n")
	}

	writeHistorical(&b, in.Historical)
	writeSpatial(&b, in.Spatial)

	return b.String()
}

func writeHistorical(b *strings.Builder, hc model.HistoricalContext) {
	fmt.Fprintf(b, "\nHISTORY AT THIS LOCATION\n")
	fmt.Fprintf(b, "Same-category reports in last 90 days: %d", hc.RecurrenceCount90d)
	if hc.Chronic {
		fmt.Fprintf(b, " (chronic location)")
	}
	fmt.Fprintf(b, "\n")

	for _, r := range hc.RecentReports {
		fmt.Fprintf(b, "- report %s opened %s\n", r.ID, r.Date.Format("2006-01-02"))
	}
	if hc.PastResolution != nil {
		fmt.Fprintf(b, "Most recent closed report here: %s (substatus %q, note: %s)\n",
			hc.PastResolution.ID, hc.PastResolution.Substatus, hc.PastResolution.Message)
	}

	if len(hc.SimilarReports) > 0 {
		fmt.Fprintf(b, "\nPOSSIBLE DUPLICATES (open reports nearby)\n")
		for _, s := range hc.SimilarReports {
			fmt.Fprintf(b, "- report %s: %.0f%% description match (%s)\n", s.ID, s.Similarity*100, s.Justification)
		}
	}
	fmt.Fprintf(b, "Same-category reports within 15m: %d\n", hc.DuplicateDensity15m)
}

func writeSpatial(b *strings.Builder, sc model.SpatialContext) {
	fmt.Fprintf(b, "\nSURROUNDINGS\n")
	if len(sc.CriticalInfrastructure) > 0 {
		fmt.Fprintf(b, "Critical infrastructure nearby: %s\n", strings.Join(sc.CriticalInfrastructure, "; "))
	} else {
		fmt.Fprintf(b, "Critical infrastructure nearby: none found\n")
	}
	fmt.Fprintf(b, "Open streetlight reports within 100m: %d\n", sc.NearbyOutages100m)
	fmt.Fprintf(b, "School zone: %t, high-traffic area: %t\n", sc.IsSchoolZone, sc.IsHighDensity)
}
