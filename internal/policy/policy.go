// Package policy holds the triage policy constants: similarity thresholds,
// radii, keyword families. The defaults encode current city policy; a YAML
// file can override them per deployment.
package policy

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Policy is the full set of triage tunables.
type Policy struct {
	Similarity     SimilarityPolicy `yaml:"similarity"`
	Recurrence     RecurrencePolicy `yaml:"recurrence"`
	Density        DensityPolicy    `yaml:"density"`
	Infrastructure InfraPolicy      `yaml:"infrastructure"`

	// KeywordFamilies drive the heuristic classifier, checked in order.
	KeywordFamilies []KeywordFamily `yaml:"keyword_families"`
	DefaultSeverity float64         `yaml:"default_severity"`
	DefaultCategory string          `yaml:"default_category"`
}

// SimilarityPolicy bounds near-duplicate detection. The threshold and radius
// are policy, not implementation detail: they trade false-positive duplicate
// suggestions against catching paraphrased repeats.
type SimilarityPolicy struct {
	Threshold     float64 `yaml:"threshold"`
	RadiusMeters  float64 `yaml:"radius_meters"`
	MaxCandidates int     `yaml:"max_candidates"`
	MaxKept       int     `yaml:"max_kept"`
}

// RecurrencePolicy bounds the chronic-location signal.
type RecurrencePolicy struct {
	WindowDays       int `yaml:"window_days"`
	ChronicThreshold int `yaml:"chronic_threshold"`
	MaxRecent        int `yaml:"max_recent"`
}

// DensityPolicy holds the crowding radii.
type DensityPolicy struct {
	DuplicateRadiusMeters float64 `yaml:"duplicate_radius_meters"`
	OutageRadiusMeters    float64 `yaml:"outage_radius_meters"`
}

// InfraPolicy configures critical-infrastructure proximity checks.
type InfraPolicy struct {
	ProximityMeters      float64  `yaml:"proximity_meters"`
	FallbackRadiusMeters float64  `yaml:"fallback_radius_meters"`
	Keywords             []string `yaml:"keywords"`
}

// KeywordFamily maps description keywords to a heuristic severity/category.
type KeywordFamily struct {
	Keywords []string `yaml:"keywords"`
	Severity float64  `yaml:"severity"`
	Category string   `yaml:"category"`
}

// Matches reports whether any keyword appears in the description
// (case-insensitive substring).
func (f KeywordFamily) Matches(description string) bool {
	lower := strings.ToLower(description)
	for _, kw := range f.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Default returns the built-in policy.
func Default() Policy {
	return Policy{
		Similarity: SimilarityPolicy{
			Threshold:     0.25,
			RadiusMeters:  500,
			MaxCandidates: 10,
			MaxKept:       3,
		},
		Recurrence: RecurrencePolicy{
			WindowDays:       90,
			ChronicThreshold: 5,
			MaxRecent:        3,
		},
		Density: DensityPolicy{
			DuplicateRadiusMeters: 15,
			OutageRadiusMeters:    100,
		},
		Infrastructure: InfraPolicy{
			ProximityMeters:      50,
			FallbackRadiusMeters: 100,
			Keywords: []string{
				"hospital", "fire", "school", "police", "ems",
				"assisted living", "elderly",
			},
		},
		KeywordFamilies: []KeywordFamily{
			{Keywords: []string{"pothole", "sinkhole"}, Severity: 7, Category: "pothole"},
			{Keywords: []string{"graffiti", "vandal"}, Severity: 4, Category: "graffiti"},
			{Keywords: []string{"flood", "water"}, Severity: 8, Category: "flooding"},
		},
		DefaultSeverity: 3,
		DefaultCategory: "general",
	}
}

// Load reads a policy file and overlays it on the defaults. Zero-valued
// fields in the file keep their defaults, so a deployment can override a
// single threshold without restating everything.
func Load(path string) (Policy, error) {
	p := Default()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p, eris.Wrapf(err, "policy: read %s", path)
	}

	var overlay Policy
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return p, eris.Wrapf(err, "policy: parse %s", path)
	}

	merge(&p, overlay)
	return p, nil
}

func merge(base *Policy, o Policy) {
	if o.Similarity.Threshold > 0 {
		base.Similarity.Threshold = o.Similarity.Threshold
	}
	if o.Similarity.RadiusMeters > 0 {
		base.Similarity.RadiusMeters = o.Similarity.RadiusMeters
	}
	if o.Similarity.MaxCandidates > 0 {
		base.Similarity.MaxCandidates = o.Similarity.MaxCandidates
	}
	if o.Similarity.MaxKept > 0 {
		base.Similarity.MaxKept = o.Similarity.MaxKept
	}
	if o.Recurrence.WindowDays > 0 {
		base.Recurrence.WindowDays = o.Recurrence.WindowDays
	}
	if o.Recurrence.ChronicThreshold > 0 {
		base.Recurrence.ChronicThreshold = o.Recurrence.ChronicThreshold
	}
	if o.Recurrence.MaxRecent > 0 {
		base.Recurrence.MaxRecent = o.Recurrence.MaxRecent
	}
	if o.Density.DuplicateRadiusMeters > 0 {
		base.Density.DuplicateRadiusMeters = o.Density.DuplicateRadiusMeters
	}
	if o.Density.OutageRadiusMeters > 0 {
		base.Density.OutageRadiusMeters = o.Density.OutageRadiusMeters
	}
	if o.Infrastructure.ProximityMeters > 0 {
		base.Infrastructure.ProximityMeters = o.Infrastructure.ProximityMeters
	}
	if o.Infrastructure.FallbackRadiusMeters > 0 {
		base.Infrastructure.FallbackRadiusMeters = o.Infrastructure.FallbackRadiusMeters
	}
	if len(o.Infrastructure.Keywords) > 0 {
		base.Infrastructure.Keywords = o.Infrastructure.Keywords
	}
	if len(o.KeywordFamilies) > 0 {
		base.KeywordFamilies = o.KeywordFamilies
	}
	if o.DefaultSeverity > 0 {
		base.DefaultSeverity = o.DefaultSeverity
	}
	if o.DefaultCategory != "" {
		base.DefaultCategory = o.DefaultCategory
	}
}
