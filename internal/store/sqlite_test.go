package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicworks/portal311/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func ptr(f float64) *float64 { return &f }

func seedRequest(t *testing.T, st *SQLiteStore, req model.ServiceRequest) model.ServiceRequest {
	t.Helper()
	require.NoError(t, st.CreateRequest(context.Background(), &req))
	return req
}

func TestSQLite_CreateAndGetRequest(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	req := seedRequest(t, st, model.ServiceRequest{
		Description: "Pothole on Main Street",
		Category:    "pothole",
		Address:     "100 Main St",
		Latitude:    ptr(38.25),
		Longitude:   ptr(-85.76),
	})
	assert.NotEmpty(t, req.ID)

	got, err := st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pothole on Main Street", got.Description)
	assert.Equal(t, model.StatusOpen, got.Status)
	require.NotNil(t, got.Latitude)
	assert.InDelta(t, 38.25, *got.Latitude, 0.0001)
	assert.Nil(t, got.Analysis)
}

func TestSQLite_CreateAndGetRequest_Media(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	req := seedRequest(t, st, model.ServiceRequest{
		Description: "flooded curb",
		Category:    "flooding",
		Address:     "12 River Rd",
		Media: []model.MediaRef{
			{Name: "curb.jpg", ContentType: "image/jpeg", Data: []byte{0xFF, 0xD8}},
			{Name: "street.jpg", ContentType: "image/png", Data: []byte{0x89, 0x50}},
		},
	})

	got, err := st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, got.Media, 2)
	assert.Equal(t, "curb.jpg", got.Media[0].Name)
	assert.Equal(t, []byte{0xFF, 0xD8}, got.Media[0].Data)
	assert.Equal(t, "image/png", got.Media[1].ContentType)

	// Deleting the request removes its photos with it.
	require.NoError(t, st.DeleteRequest(ctx, req.ID))
	media, err := st.requestMedia(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, media)
}

func TestSQLite_GetRequest_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRequest(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ApplyTriage(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	req := seedRequest(t, st, model.ServiceRequest{Description: "d", Category: "pothole"})

	analysis := &model.TriageResult{
		PriorityScore: 7,
		Justification: "keyword match",
		SafetyFlags:   []string{"road_hazard"},
		Source:        model.SourceHeuristic,
	}
	ok, err := st.ApplyTriage(ctx, req.ID, 7, true, "road_hazard", analysis)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Priority)
	assert.True(t, got.Flagged)
	assert.Equal(t, "road_hazard", got.FlagReason)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, model.SourceHeuristic, got.Analysis.Source)
}

func TestSQLite_ApplyTriage_DeletedRequestNoOps(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	req := seedRequest(t, st, model.ServiceRequest{Description: "d", Category: "pothole"})
	require.NoError(t, st.DeleteRequest(ctx, req.ID))

	ok, err := st.ApplyTriage(ctx, req.ID, 5, false, "", &model.TriageResult{PriorityScore: 5})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_RecurrenceAtAddress(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	current := seedRequest(t, st, model.ServiceRequest{Description: "new", Category: "pothole", Address: "100 Main St"})
	for i := 0; i < 4; i++ {
		seedRequest(t, st, model.ServiceRequest{Description: "old", Category: "pothole", Address: "100 Main St"})
	}
	// Different category and different address do not count.
	seedRequest(t, st, model.ServiceRequest{Description: "x", Category: "graffiti", Address: "100 Main St"})
	seedRequest(t, st, model.ServiceRequest{Description: "x", Category: "pothole", Address: "200 Oak Ave"})

	since := time.Now().UTC().Add(-90 * 24 * time.Hour)
	count, recent, err := st.RecurrenceAtAddress(ctx, "100 Main St", "pothole", since, current.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.Len(t, recent, 3)
}

func TestSQLite_LatestClosedAtAddress(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	none, err := st.LatestClosedAtAddress(ctx, "100 Main St")
	require.NoError(t, err)
	assert.Nil(t, none)

	seedRequest(t, st, model.ServiceRequest{
		Description: "patched before", Category: "pothole", Address: "100 Main St",
		Status: model.StatusClosed, Substatus: "resolved", CompletionNote: "Cold patch applied",
	})

	got, err := st.LatestClosedAtAddress(ctx, "100 Main St")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "resolved", got.Substatus)
	assert.Equal(t, "Cold patch applied", got.Message)
}

func TestSQLite_RequestsNear(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// ~111m per 0.001 degree of latitude.
	center := seedRequest(t, st, model.ServiceRequest{Description: "center", Category: "pothole", Latitude: ptr(38.2500), Longitude: ptr(-85.7600)})
	near := seedRequest(t, st, model.ServiceRequest{Description: "near", Category: "pothole", Latitude: ptr(38.2510), Longitude: ptr(-85.7600)})
	seedRequest(t, st, model.ServiceRequest{Description: "far", Category: "pothole", Latitude: ptr(38.2700), Longitude: ptr(-85.7600)})
	seedRequest(t, st, model.ServiceRequest{Description: "wrong category", Category: "graffiti", Latitude: ptr(38.2501), Longitude: ptr(-85.7600)})
	seedRequest(t, st, model.ServiceRequest{Description: "closed", Category: "pothole", Status: model.StatusClosed, Latitude: ptr(38.2502), Longitude: ptr(-85.7600)})

	got, err := st.RequestsNear(ctx, NearQuery{
		Latitude: 38.2500, Longitude: -85.7600, RadiusMeters: 500,
		Category: "pothole", OpenOnly: true, ExcludeID: center.ID, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, near.ID, got[0].ID)
}

func TestSQLite_RequestsNear_OrderedByDistance(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	farther := seedRequest(t, st, model.ServiceRequest{Description: "farther", Category: "pothole", Latitude: ptr(38.2530), Longitude: ptr(-85.7600)})
	closer := seedRequest(t, st, model.ServiceRequest{Description: "closer", Category: "pothole", Latitude: ptr(38.2505), Longitude: ptr(-85.7600)})

	got, err := st.RequestsNear(ctx, NearQuery{Latitude: 38.2500, Longitude: -85.7600, RadiusMeters: 1000, Category: "pothole"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, closer.ID, got[0].ID)
	assert.Equal(t, farther.ID, got[1].ID)
}

func TestSQLite_CountRequestsNear_Monotonic(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	q := NearQuery{Latitude: 38.2500, Longitude: -85.7600, RadiusMeters: 15, Category: "pothole"}

	prev := 0
	for i := 0; i < 4; i++ {
		seedRequest(t, st, model.ServiceRequest{Description: "dup", Category: "pothole", Latitude: ptr(38.2500), Longitude: ptr(-85.7600)})
		count, err := st.CountRequestsNear(ctx, q)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, prev)
		prev = count
	}
	assert.Equal(t, 4, prev)
}

func TestSQLite_Boundaries(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	older := model.Boundary{
		Name: "Old District", Kind: model.BoundaryExclusion,
		Geometry: []byte(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`),
		Active:   true,
	}
	require.NoError(t, st.SaveBoundary(ctx, &older))
	time.Sleep(5 * time.Millisecond)

	newer := model.Boundary{
		Name: "New District", Kind: model.BoundaryExclusion,
		Geometry:        []byte(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`),
		CategoryFilters: []string{"pothole"},
		Active:          true,
	}
	require.NoError(t, st.SaveBoundary(ctx, &newer))

	inactive := model.Boundary{
		Name: "Disabled", Kind: model.BoundaryExclusion,
		Geometry: []byte(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`),
	}
	require.NoError(t, st.SaveBoundary(ctx, &inactive))

	got, err := st.ActiveBoundaries(ctx, model.BoundaryExclusion)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "New District", got[0].Name)
	assert.Equal(t, []string{"pothole"}, got[0].CategoryFilters)
	assert.Equal(t, "Old District", got[1].Name)

	primaries, err := st.ActiveBoundaries(ctx, model.BoundaryPrimary)
	require.NoError(t, err)
	assert.Empty(t, primaries)
}

func TestSQLite_ExclusionRules(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveExclusionRule(ctx, &model.ExclusionRule{
		Kind: model.RuleCategory, MatchKey: "animal-control", RedirectName: "County Animal Services", Active: true,
	}))
	require.NoError(t, st.SaveExclusionRule(ctx, &model.ExclusionRule{
		Kind: model.RuleRoad, MatchKey: "interstate", Active: false,
	}))

	got, err := st.ActiveExclusionRules(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "animal-control", got[0].MatchKey)
}

func TestSQLite_LayersAndFeatures(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	layer := model.AssetLayer{Name: "Hospitals", Active: true}
	require.NoError(t, st.CreateLayer(ctx, &layer))

	n, err := st.InsertLayerFeatures(ctx, layer.ID, []model.LayerFeature{
		{Name: "Mercy General", Latitude: 38.2500, Longitude: -85.7600},
		{Name: "St. Vincent", Latitude: 38.2900, Longitude: -85.7600},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	layers, err := st.ActiveLayers(ctx)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, "Hospitals", layers[0].Name)

	near, err := st.LayerFeaturesNear(ctx, layer.ID, 38.2501, -85.7600, 50, 5)
	require.NoError(t, err)
	require.Len(t, near, 1)
	assert.Equal(t, "Mercy General", near[0].Name)
}
