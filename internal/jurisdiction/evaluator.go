// Package jurisdiction decides whether a submitted request belongs to this
// municipality or must be redirected to another authority. Evaluation is
// synchronous and gates request creation.
package jurisdiction

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/geo"
	"github.com/civicworks/portal311/internal/model"
)

// OutsideBoundaryMessage is the fixed rejection text used when a point falls
// outside every configured primary boundary and no exclusion covers it.
const OutsideBoundaryMessage = "This location is outside our service boundary. Please contact the appropriate local authority."

// BoundarySource provides the active boundaries and flat exclusion rules.
// Exclusion boundaries must be returned most-recently-updated first; when two
// exclusions overlap at a point, the newer one decides where the resident is
// sent.
type BoundarySource interface {
	ActiveBoundaries(ctx context.Context, kind model.BoundaryKind) ([]model.Boundary, error)
	ActiveExclusionRules(ctx context.Context) ([]model.ExclusionRule, error)
}

// Evaluator applies boundary geometry and flat redirect rules to a draft.
type Evaluator struct {
	src    BoundarySource
	logger *zap.Logger
}

// NewEvaluator creates an Evaluator. A nil logger falls back to the global.
func NewEvaluator(src BoundarySource, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.L()
	}
	return &Evaluator{src: src, logger: logger}
}

// Evaluate returns the allow/redirect verdict for a draft submission.
//
// Geometry exclusions are checked before flat category/road rules, and among
// overlapping exclusion boundaries the most recently updated one wins. That
// precedence determines which department a resident is told to contact, so it
// must not be reordered.
func (e *Evaluator) Evaluate(ctx context.Context, draft model.Draft) (model.JurisdictionVerdict, error) {
	// Without a point there is nothing to geo-filter.
	if !draft.HasCoordinates() {
		return model.JurisdictionVerdict{Allowed: true}, nil
	}
	lat, lng := *draft.Latitude, *draft.Longitude

	exclusions, err := e.src.ActiveBoundaries(ctx, model.BoundaryExclusion)
	if err != nil {
		return model.JurisdictionVerdict{}, eris.Wrap(err, "jurisdiction: load exclusion boundaries")
	}

	if verdict, decided, err := e.checkPrimary(ctx, lat, lng, draft.Category, exclusions); err != nil {
		return model.JurisdictionVerdict{}, err
	} else if decided {
		return verdict, nil
	}

	var warning string

	// Point-in-polygon exclusions, first match only.
	if b := e.firstContaining(exclusions, lat, lng); b != nil {
		if b.AppliesToCategory(draft.Category) {
			return model.JurisdictionVerdict{Allowed: false, Warning: redirectText(b)}, nil
		}
		warning = redirectText(b)
	}

	// Road-name filters apply independently of containment.
	for i := range exclusions {
		b := &exclusions[i]
		if !b.MatchesRoad(draft.Address) {
			continue
		}
		if b.AppliesToCategory(draft.Category) {
			return model.JurisdictionVerdict{Allowed: false, Warning: redirectText(b)}, nil
		}
		if warning == "" {
			warning = redirectText(b)
		}
		break
	}

	rules, err := e.src.ActiveExclusionRules(ctx)
	if err != nil {
		return model.JurisdictionVerdict{}, eris.Wrap(err, "jurisdiction: load exclusion rules")
	}
	for i := range rules {
		if rules[i].Matches(draft.Category, draft.Address) {
			return model.JurisdictionVerdict{Allowed: false, Warning: rules[i].RedirectText()}, nil
		}
	}

	return model.JurisdictionVerdict{Allowed: true, Warning: warning}, nil
}

// checkPrimary enforces must-contain boundaries. With no primaries configured
// the world is open and the check is skipped. On rejection, an exclusion
// boundary covering the same point lends its redirect text as a hint.
func (e *Evaluator) checkPrimary(ctx context.Context, lat, lng float64, category string, exclusions []model.Boundary) (model.JurisdictionVerdict, bool, error) {
	primaries, err := e.src.ActiveBoundaries(ctx, model.BoundaryPrimary)
	if err != nil {
		return model.JurisdictionVerdict{}, false, eris.Wrap(err, "jurisdiction: load primary boundaries")
	}
	if len(primaries) == 0 {
		return model.JurisdictionVerdict{}, false, nil
	}

	for i := range primaries {
		if e.contains(&primaries[i], lat, lng) {
			return model.JurisdictionVerdict{}, false, nil
		}
	}

	warning := OutsideBoundaryMessage
	if b := e.firstContaining(exclusions, lat, lng); b != nil && b.AppliesToCategory(category) {
		warning = redirectText(b)
	}
	return model.JurisdictionVerdict{Allowed: false, Warning: warning}, true, nil
}

// firstContaining returns the first boundary whose geometry contains the
// point. Boundaries arrive most-recently-updated first, so this implements
// the "newest exclusion wins" tie-break.
func (e *Evaluator) firstContaining(boundaries []model.Boundary, lat, lng float64) *model.Boundary {
	for i := range boundaries {
		if e.contains(&boundaries[i], lat, lng) {
			return &boundaries[i]
		}
	}
	return nil
}

// contains runs the point-in-polygon test, treating a corrupt geometry as
// non-matching so one bad boundary cannot take down evaluation.
func (e *Evaluator) contains(b *model.Boundary, lat, lng float64) bool {
	g, err := geo.Decode(b.Geometry)
	if err != nil {
		e.logger.Warn("skipping boundary with malformed geometry",
			zap.String("boundary_id", b.ID),
			zap.String("boundary_name", b.Name),
			zap.Error(err))
		return false
	}
	return geo.Contains(g, lng, lat)
}

// redirectText builds the resident-facing message for an exclusion boundary.
func redirectText(b *model.Boundary) string {
	var parts []string
	if b.RedirectMessage != "" {
		parts = append(parts, b.RedirectMessage)
	} else if b.Name != "" {
		parts = append(parts, "This issue is handled by "+b.Name+".")
	}
	if b.RedirectURL != "" {
		parts = append(parts, "See "+b.RedirectURL)
	}
	if len(parts) == 0 {
		return "This request falls outside our service area."
	}
	return strings.Join(parts, " ")
}
