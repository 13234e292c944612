package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicworks/portal311/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgres_GetRequest_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM requests WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRequest(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateRequest_PersistsMedia(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO requests`).
		WithArgs("req-1", "flooded curb", "flooding", "12 River Rd", pgxmock.AnyArg(), pgxmock.AnyArg(),
			"open", "", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO request_media`).
		WithArgs("req-1", 0, "curb.jpg", "image/jpeg", []byte{0xFF, 0xD8}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO request_media`).
		WithArgs("req-1", 1, "street.jpg", "image/jpeg", []byte{0xFF, 0xD9}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.CreateRequest(context.Background(), &model.ServiceRequest{
		ID: "req-1", Description: "flooded curb", Category: "flooding", Address: "12 River Rd",
		Media: []model.MediaRef{
			{Name: "curb.jpg", ContentType: "image/jpeg", Data: []byte{0xFF, 0xD8}},
			{Name: "street.jpg", ContentType: "image/jpeg", Data: []byte{0xFF, 0xD9}},
		},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetRequest_HydratesMedia(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	request := pgxmock.NewRows([]string{
		"id", "description", "category", "address", "latitude", "longitude",
		"status", "substatus", "completion_note", "priority", "flagged", "flag_reason",
		"analysis", "created_at", "updated_at",
	}).AddRow("req-1", "flooded curb", "flooding", "12 River Rd", nil, nil,
		"open", "", "", 0, false, "", nil, now, now)
	mock.ExpectQuery(`SELECT .+ FROM requests WHERE id = \$1`).
		WithArgs("req-1").
		WillReturnRows(request)

	media := pgxmock.NewRows([]string{"name", "content_type", "data"}).
		AddRow("curb.jpg", "image/jpeg", []byte{0xFF, 0xD8})
	mock.ExpectQuery(`SELECT name, content_type, data FROM request_media WHERE request_id = \$1 ORDER BY position`).
		WithArgs("req-1").
		WillReturnRows(media)

	got, err := s.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, got.Media, 1)
	assert.Equal(t, "curb.jpg", got.Media[0].Name)
	assert.Equal(t, []byte{0xFF, 0xD8}, got.Media[0].Data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ApplyTriage_Updates(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE requests SET priority = \$1, flagged = \$2, flag_reason = \$3, analysis = \$4, updated_at = \$5 WHERE id = \$6`).
		WithArgs(7, true, "road_hazard", pgxmock.AnyArg(), pgxmock.AnyArg(), "req-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.ApplyTriage(context.Background(), "req-1", 7, true, "road_hazard",
		&model.TriageResult{PriorityScore: 7, Source: model.SourceHeuristic})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ApplyTriage_DeletedRequestNoOps(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE requests SET priority`).
		WithArgs(5, false, "", pgxmock.AnyArg(), pgxmock.AnyArg(), "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.ApplyTriage(context.Background(), "gone", 5, false, "", &model.TriageResult{PriorityScore: 5})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CountRequestsNear_UsesGeography(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM requests WHERE .*ST_DWithin.*::geography`).
		WithArgs(-85.76, 38.25, 15.0, "pothole").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	count, err := s.CountRequestsNear(context.Background(), NearQuery{
		Latitude: 38.25, Longitude: -85.76, RadiusMeters: 15, Category: "pothole",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ActiveBoundaries_OrderedNewestFirst(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{
		"id", "name", "kind", "geometry", "category_filters", "road_filters",
		"redirect_url", "redirect_message", "active", "created_at", "updated_at",
	}).
		AddRow("b2", "Newer", "exclusion", []byte(`{"type":"Polygon","coordinates":[]}`),
			[]byte(`["pothole"]`), []byte(`[]`), "", "newer wins", true, now, now).
		AddRow("b1", "Older", "exclusion", []byte(`{"type":"Polygon","coordinates":[]}`),
			[]byte(`[]`), []byte(`["main st"]`), "", "", true, now, now.Add(-time.Hour))

	mock.ExpectQuery(`FROM boundaries WHERE kind = \$1 AND active ORDER BY updated_at DESC`).
		WithArgs("exclusion").
		WillReturnRows(rows)

	got, err := s.ActiveBoundaries(context.Background(), model.BoundaryExclusion)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Newer", got[0].Name)
	assert.Equal(t, []string{"pothole"}, got[0].CategoryFilters)
	assert.Equal(t, []string{"main st"}, got[1].RoadNameFilters)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecurrenceAtAddress(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Now().UTC().Add(-90 * 24 * time.Hour)

	mock.ExpectQuery(`SELECT count\(\*\) FROM requests WHERE address = \$1 AND category = \$2`).
		WithArgs("100 Main St", "pothole", since, "current").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(5))

	recent := pgxmock.NewRows([]string{"id", "created_at"}).
		AddRow("r3", time.Now().UTC()).
		AddRow("r2", time.Now().UTC().Add(-24*time.Hour))
	mock.ExpectQuery(`SELECT id, created_at FROM requests WHERE address = \$1`).
		WithArgs("100 Main St", "pothole", since, "current", 3).
		WillReturnRows(recent)

	count, reports, err := s.RecurrenceAtAddress(context.Background(), "100 Main St", "pothole", since, "current", 3)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	require.Len(t, reports, 2)
	assert.Equal(t, "r3", reports[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertLayerFeatures_UsesCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"public", "layer_features"},
		[]string{"id", "layer_id", "name", "latitude", "longitude", "geometry"}).
		WillReturnResult(2)

	n, err := s.InsertLayerFeatures(context.Background(), "layer-1", []model.LayerFeature{
		{Name: "Mercy General", Latitude: 38.25, Longitude: -85.76},
		{Name: "Station 7", Latitude: 38.26, Longitude: -85.75},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
