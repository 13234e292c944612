// Package spatial builds the per-request spatial context: proximity to
// critical infrastructure, nearby outage density, and zone flags derived
// from asset-layer names.
package spatial

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/model"
	"github.com/civicworks/portal311/internal/policy"
	"github.com/civicworks/portal311/internal/resilience"
	"github.com/civicworks/portal311/internal/store"
	"github.com/civicworks/portal311/pkg/places"
)

// outageCategory is the request category counted as an outage signal.
const outageCategory = "streetlight"

// Source is the slice of the store the aggregator reads.
type Source interface {
	ActiveLayers(ctx context.Context) ([]model.AssetLayer, error)
	LayerFeaturesNear(ctx context.Context, layerID string, lat, lng, radiusMeters float64, limit int) ([]model.LayerFeature, error)
	CountRequestsNear(ctx context.Context, q store.NearQuery) (int, error)
}

// Aggregator computes a SpatialContext for a request point. Every lookup
// degrades independently to its zero value; a missing places key or an
// unreachable layer never aborts triage.
type Aggregator struct {
	src    Source
	places places.Client
	pol    policy.Policy
	logger *zap.Logger
}

// NewAggregator creates an Aggregator. placesClient may be nil when no
// external lookup is configured. A nil logger falls back to the global.
func NewAggregator(src Source, placesClient places.Client, pol policy.Policy, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.L()
	}
	return &Aggregator{src: src, places: placesClient, pol: pol, logger: logger}
}

// Aggregate builds spatial evidence for a request. Requests without
// coordinates get an empty context.
func (a *Aggregator) Aggregate(ctx context.Context, req *model.ServiceRequest) model.SpatialContext {
	var sc model.SpatialContext
	if req.Latitude == nil || req.Longitude == nil {
		return sc
	}
	lat, lng := *req.Latitude, *req.Longitude

	a.infrastructure(ctx, req.ID, lat, lng, &sc)
	a.outages(ctx, req.ID, lat, lng, &sc)

	return sc
}

// infrastructure matches critical-infrastructure layers within the proximity
// radius, one feature per layer, and falls back to an external place lookup
// when no curated layer matched. Small municipalities often have no asset
// layers at all; the fallback keeps the signal alive there.
func (a *Aggregator) infrastructure(ctx context.Context, reqID string, lat, lng float64, sc *model.SpatialContext) {
	layers, err := a.src.ActiveLayers(ctx)
	if err != nil {
		a.logger.Warn("layer listing failed", zap.String("request_id", reqID), zap.Error(err))
		a.placesFallback(ctx, reqID, lat, lng, sc)
		return
	}

	matched := false
	for _, layer := range layers {
		keyword, critical := a.criticalKeyword(layer.Name)

		lower := strings.ToLower(layer.Name)
		if strings.Contains(lower, "school") {
			sc.IsSchoolZone = sc.IsSchoolZone || a.layerHasFeatureNear(ctx, reqID, layer, lat, lng)
		}
		if strings.Contains(lower, "traffic") || strings.Contains(lower, "arterial") {
			sc.IsHighDensity = sc.IsHighDensity || a.layerHasFeatureNear(ctx, reqID, layer, lat, lng)
		}

		if !critical {
			continue
		}
		features, err := a.src.LayerFeaturesNear(ctx, layer.ID, lat, lng, a.pol.Infrastructure.ProximityMeters, 1)
		if err != nil {
			a.logger.Warn("layer feature lookup failed",
				zap.String("request_id", reqID), zap.String("layer", layer.Name), zap.Error(err))
			continue
		}
		if len(features) == 0 {
			continue
		}
		matched = true
		name := features[0].Name
		if name == "" {
			name = layer.Name
		}
		sc.CriticalInfrastructure = append(sc.CriticalInfrastructure,
			fmt.Sprintf("%s (%s layer)", name, keyword))
	}

	if !matched {
		a.placesFallback(ctx, reqID, lat, lng, sc)
	}
}

// placesFallback records at most one external place match across the keyword
// categories.
func (a *Aggregator) placesFallback(ctx context.Context, reqID string, lat, lng float64, sc *model.SpatialContext) {
	if a.places == nil {
		return
	}
	for _, keyword := range a.pol.Infrastructure.Keywords {
		placeType := placeTypeForKeyword(keyword)
		if placeType == "" {
			continue
		}
		found, err := a.places.SearchNearby(ctx, places.NearbyRequest{
			Latitude:     lat,
			Longitude:    lng,
			RadiusMeters: a.pol.Infrastructure.FallbackRadiusMeters,
			IncludedType: placeType,
			MaxResults:   1,
		})
		if errors.Is(err, resilience.ErrNotConfigured) {
			return
		}
		if err != nil {
			a.logger.Warn("place lookup failed",
				zap.String("request_id", reqID), zap.String("type", placeType), zap.Error(err))
			continue
		}
		if len(found) > 0 {
			sc.CriticalInfrastructure = append(sc.CriticalInfrastructure,
				fmt.Sprintf("%s (nearby %s)", found[0].Name, keyword))
			if keyword == "school" {
				sc.IsSchoolZone = true
			}
			return
		}
	}
}

func (a *Aggregator) outages(ctx context.Context, reqID string, lat, lng float64, sc *model.SpatialContext) {
	count, err := a.src.CountRequestsNear(ctx, store.NearQuery{
		Latitude:     lat,
		Longitude:    lng,
		RadiusMeters: a.pol.Density.OutageRadiusMeters,
		Category:     outageCategory,
		OpenOnly:     true,
		ExcludeID:    reqID,
	})
	if err != nil {
		a.logger.Warn("outage density count failed", zap.String("request_id", reqID), zap.Error(err))
		return
	}
	sc.NearbyOutages100m = count
}

func (a *Aggregator) layerHasFeatureNear(ctx context.Context, reqID string, layer model.AssetLayer, lat, lng float64) bool {
	features, err := a.src.LayerFeaturesNear(ctx, layer.ID, lat, lng, a.pol.Infrastructure.ProximityMeters, 1)
	if err != nil {
		a.logger.Warn("zone layer lookup failed",
			zap.String("request_id", reqID), zap.String("layer", layer.Name), zap.Error(err))
		return false
	}
	return len(features) > 0
}

// criticalKeyword returns the matching infrastructure keyword for a layer
// name, if any.
func (a *Aggregator) criticalKeyword(layerName string) (string, bool) {
	lower := strings.ToLower(layerName)
	for _, kw := range a.pol.Infrastructure.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

// placeTypeForKeyword maps infrastructure keywords to place-lookup types.
// Keywords without a queryable type are skipped in the fallback.
func placeTypeForKeyword(keyword string) string {
	switch keyword {
	case "hospital":
		return "hospital"
	case "fire":
		return "fire_station"
	case "school":
		return "school"
	case "police":
		return "police"
	case "assisted living", "elderly":
		return "nursing_home"
	default:
		return ""
	}
}
