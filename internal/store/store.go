// Package store persists service requests, jurisdiction boundaries, and GIS
// asset layers. Two backends are provided: Postgres with PostGIS geography
// for radius queries, and SQLite with a bounding-box prefilter plus an exact
// haversine check for single-node deployments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/civicworks/portal311/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = eris.New("store: not found")

// NearQuery is a radius search around a point, optionally filtered by
// category, status, and an excluded request ID.
type NearQuery struct {
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
	Category     string
	OpenOnly     bool
	ExcludeID    string
	Limit        int
}

// Store is the persistence interface consumed by the triage pipeline and the
// HTTP layer.
type Store interface {
	// CreateRequest inserts a new request row, assigning ID and timestamps
	// when absent.
	CreateRequest(ctx context.Context, req *model.ServiceRequest) error

	// GetRequest returns the request or ErrNotFound.
	GetRequest(ctx context.Context, id string) (*model.ServiceRequest, error)

	// DeleteRequest removes a request row. Deleting a missing row is not an
	// error.
	DeleteRequest(ctx context.Context, id string) error

	// ApplyTriage writes the triage outcome onto the request row. It returns
	// false without error when the request no longer exists, so a background
	// run racing a deletion no-ops instead of failing.
	ApplyTriage(ctx context.Context, id string, priority int, flagged bool, flagReason string, analysis *model.TriageResult) (bool, error)

	// ListRequests returns requests created since the given time, newest
	// first, for reporting.
	ListRequests(ctx context.Context, since time.Time) ([]model.ServiceRequest, error)

	// RecurrenceAtAddress counts same-category requests at the exact address
	// opened since the given time, excluding excludeID, and returns the most
	// recent few as evidence.
	RecurrenceAtAddress(ctx context.Context, address, category string, since time.Time, excludeID string, limit int) (int, []model.RecentReport, error)

	// LatestClosedAtAddress returns the most recent closed request at the
	// exact address, any category, or nil when none exists.
	LatestClosedAtAddress(ctx context.Context, address string) (*model.PastResolution, error)

	// RequestsNear returns requests within the query radius using geodesic
	// distance, nearest first.
	RequestsNear(ctx context.Context, q NearQuery) ([]model.ServiceRequest, error)

	// CountRequestsNear counts requests within the query radius.
	CountRequestsNear(ctx context.Context, q NearQuery) (int, error)

	// ActiveBoundaries returns active boundaries of the given kind. Exclusion
	// boundaries are ordered most-recently-updated first; the evaluator
	// depends on that ordering.
	ActiveBoundaries(ctx context.Context, kind model.BoundaryKind) ([]model.Boundary, error)

	// SaveBoundary inserts or replaces a boundary.
	SaveBoundary(ctx context.Context, b *model.Boundary) error

	// ActiveExclusionRules returns the active flat redirect rules.
	ActiveExclusionRules(ctx context.Context) ([]model.ExclusionRule, error)

	// SaveExclusionRule inserts or replaces a flat redirect rule.
	SaveExclusionRule(ctx context.Context, r *model.ExclusionRule) error

	// ActiveLayers returns the active asset layers.
	ActiveLayers(ctx context.Context) ([]model.AssetLayer, error)

	// CreateLayer inserts an asset layer, assigning an ID when absent.
	CreateLayer(ctx context.Context, layer *model.AssetLayer) error

	// InsertLayerFeatures bulk-loads features for a layer and returns the
	// number of rows written.
	InsertLayerFeatures(ctx context.Context, layerID string, features []model.LayerFeature) (int64, error)

	// LayerFeaturesNear returns features of one layer within the radius of a
	// point, nearest first.
	LayerFeaturesNear(ctx context.Context, layerID string, lat, lng, radiusMeters float64, limit int) ([]model.LayerFeature, error)

	// Migrate creates the schema if missing.
	Migrate(ctx context.Context) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	Close() error
}
