package model

import (
	"encoding/json"
	"strings"
	"time"
)

// BoundaryKind distinguishes must-contain polygons from redirect polygons.
type BoundaryKind string

const (
	// BoundaryPrimary marks territory a request must fall inside.
	BoundaryPrimary BoundaryKind = "primary"
	// BoundaryExclusion marks another jurisdiction's territory.
	BoundaryExclusion BoundaryKind = "exclusion"
)

// Boundary is a named geographic polygon used by the jurisdiction evaluator.
// Geometry is a GeoJSON Polygon or MultiPolygon in lon/lat coordinates.
// Empty CategoryFilters/RoadNameFilters mean "applies to all".
type Boundary struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Kind            BoundaryKind    `json:"kind"`
	Geometry        json.RawMessage `json:"geometry"`
	CategoryFilters []string        `json:"category_filters,omitempty"`
	RoadNameFilters []string        `json:"road_name_filters,omitempty"`
	RedirectURL     string          `json:"redirect_url,omitempty"`
	RedirectMessage string          `json:"redirect_message,omitempty"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// AppliesToCategory reports whether the boundary's category filter covers the
// given category slug. An empty filter set covers everything.
func (b *Boundary) AppliesToCategory(category string) bool {
	if len(b.CategoryFilters) == 0 {
		return true
	}
	for _, f := range b.CategoryFilters {
		if strings.EqualFold(f, category) {
			return true
		}
	}
	return false
}

// MatchesRoad reports whether any configured road-name token appears in the
// address string (case-insensitive substring).
func (b *Boundary) MatchesRoad(address string) bool {
	if address == "" {
		return false
	}
	lower := strings.ToLower(address)
	for _, road := range b.RoadNameFilters {
		if road == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(road)) {
			return true
		}
	}
	return false
}

// ExclusionRuleKind selects how an ExclusionRule matches.
type ExclusionRuleKind string

const (
	// RuleCategory matches the request's category slug exactly.
	RuleCategory ExclusionRuleKind = "category"
	// RuleRoad matches a case-insensitive substring of the address.
	RuleRoad ExclusionRuleKind = "road"
)

// ExclusionRule is a flat, geometry-independent redirect rule.
type ExclusionRule struct {
	ID              string            `json:"id"`
	Kind            ExclusionRuleKind `json:"kind"`
	MatchKey        string            `json:"match_key"`
	RedirectName    string            `json:"redirect_name,omitempty"`
	RedirectURL     string            `json:"redirect_url,omitempty"`
	RedirectMessage string            `json:"redirect_message,omitempty"`
	Active          bool              `json:"active"`
}

// Matches reports whether the rule applies to the category/address pair.
func (r *ExclusionRule) Matches(category, address string) bool {
	switch r.Kind {
	case RuleCategory:
		return strings.EqualFold(r.MatchKey, category)
	case RuleRoad:
		return r.MatchKey != "" && address != "" &&
			strings.Contains(strings.ToLower(address), strings.ToLower(r.MatchKey))
	default:
		return false
	}
}

// RedirectText assembles the resident-facing redirect message from the rule's
// name, message, and URL, in that order, skipping empty parts.
func (r *ExclusionRule) RedirectText() string {
	var parts []string
	if r.RedirectName != "" {
		parts = append(parts, "This issue is handled by "+r.RedirectName+".")
	}
	if r.RedirectMessage != "" {
		parts = append(parts, r.RedirectMessage)
	}
	if r.RedirectURL != "" {
		parts = append(parts, "See "+r.RedirectURL)
	}
	if len(parts) == 0 {
		return "This request falls outside our service area."
	}
	return strings.Join(parts, " ")
}

// JurisdictionVerdict is the evaluator's decision. Allowed=false always comes
// with a non-empty, actionable Warning; Allowed=true may carry an advisory
// Warning when a category-filtered exclusion covers the point.
type JurisdictionVerdict struct {
	Allowed bool   `json:"allowed"`
	Warning string `json:"warning,omitempty"`
}
