package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/civicworks/portal311/internal/geo"
	"github.com/civicworks/portal311/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Radius queries use
// a bounding-box prefilter on lat/lng columns followed by an exact haversine
// check, since SQLite has no geography type.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS requests (
	id              TEXT PRIMARY KEY,
	description     TEXT NOT NULL,
	category        TEXT NOT NULL,
	address         TEXT NOT NULL DEFAULT '',
	latitude        REAL,
	longitude       REAL,
	status          TEXT NOT NULL DEFAULT 'open',
	substatus       TEXT NOT NULL DEFAULT '',
	completion_note TEXT NOT NULL DEFAULT '',
	priority        INTEGER NOT NULL DEFAULT 0,
	flagged         INTEGER NOT NULL DEFAULT 0,
	flag_reason     TEXT NOT NULL DEFAULT '',
	analysis        TEXT,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_requests_category_address ON requests(category, address);
CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
CREATE INDEX IF NOT EXISTS idx_requests_latlng ON requests(latitude, longitude);

CREATE TABLE IF NOT EXISTS request_media (
	request_id   TEXT NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	data         BLOB NOT NULL,
	PRIMARY KEY (request_id, position)
);

CREATE TABLE IF NOT EXISTS boundaries (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	kind             TEXT NOT NULL,
	geometry         TEXT NOT NULL,
	category_filters TEXT NOT NULL DEFAULT '[]',
	road_filters     TEXT NOT NULL DEFAULT '[]',
	redirect_url     TEXT NOT NULL DEFAULT '',
	redirect_message TEXT NOT NULL DEFAULT '',
	active           INTEGER NOT NULL DEFAULT 1,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_boundaries_kind_active ON boundaries(kind, active);

CREATE TABLE IF NOT EXISTS exclusion_rules (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	match_key        TEXT NOT NULL,
	redirect_name    TEXT NOT NULL DEFAULT '',
	redirect_url     TEXT NOT NULL DEFAULT '',
	redirect_message TEXT NOT NULL DEFAULT '',
	active           INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS layers (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	active     INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS layer_features (
	id        TEXT PRIMARY KEY,
	layer_id  TEXT NOT NULL REFERENCES layers(id),
	name      TEXT NOT NULL DEFAULT '',
	latitude  REAL NOT NULL,
	longitude REAL NOT NULL,
	geometry  TEXT
);

CREATE INDEX IF NOT EXISTS idx_layer_features_layer ON layer_features(layer_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRequest(ctx context.Context, req *model.ServiceRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = model.StatusOpen
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests (id, description, category, address, latitude, longitude, status, substatus, completion_note, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.Description, req.Category, req.Address, req.Latitude, req.Longitude,
		string(req.Status), req.Substatus, req.CompletionNote, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert request")
	}

	for i, m := range req.Media {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO request_media (request_id, position, name, content_type, data) VALUES (?, ?, ?, ?, ?)`,
			req.ID, i, m.Name, m.ContentType, m.Data,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert request media %d", i)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRequest(row rowScanner) (*model.ServiceRequest, error) {
	var r model.ServiceRequest
	var analysisJSON sql.NullString
	err := row.Scan(&r.ID, &r.Description, &r.Category, &r.Address, &r.Latitude, &r.Longitude,
		&r.Status, &r.Substatus, &r.CompletionNote, &r.Priority, &r.Flagged, &r.FlagReason,
		&analysisJSON, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if analysisJSON.Valid && analysisJSON.String != "" {
		r.Analysis = &model.TriageResult{}
		if err := json.Unmarshal([]byte(analysisJSON.String), r.Analysis); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal analysis")
		}
	}
	return &r, nil
}

// GetRequest loads a single request with its photos, like the Postgres store.
func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*model.ServiceRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	req, err := scanSQLiteRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get request %s", id)
	}
	if req.Media, err = s.requestMedia(ctx, id); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *SQLiteStore) requestMedia(ctx context.Context, id string) ([]model.MediaRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, content_type, data FROM request_media WHERE request_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: request media")
	}
	defer rows.Close()

	var out []model.MediaRef
	for rows.Next() {
		var m model.MediaRef
		if err := rows.Scan(&m.Name, &m.ContentType, &m.Data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan request media")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate request media")
}

func (s *SQLiteStore) DeleteRequest(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete request %s", id)
}

func (s *SQLiteStore) ApplyTriage(ctx context.Context, id string, priority int, flagged bool, flagReason string, analysis *model.TriageResult) (bool, error) {
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal analysis")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET priority = ?, flagged = ?, flag_reason = ?, analysis = ?, updated_at = ? WHERE id = ?`,
		priority, flagged, flagReason, string(analysisJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: apply triage %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListRequests(ctx context.Context, since time.Time) ([]model.ServiceRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE created_at >= ? ORDER BY created_at DESC`, since)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list requests")
	}
	defer rows.Close()

	var out []model.ServiceRequest
	for rows.Next() {
		req, err := scanSQLiteRequest(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan request")
		}
		out = append(out, *req)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate requests")
}

func (s *SQLiteStore) RecurrenceAtAddress(ctx context.Context, address, category string, since time.Time, excludeID string, limit int) (int, []model.RecentReport, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM requests WHERE address = ? AND category = ? AND created_at >= ? AND id <> ?`,
		address, category, since, excludeID,
	).Scan(&count)
	if err != nil {
		return 0, nil, eris.Wrap(err, "sqlite: count recurrence")
	}

	if limit <= 0 {
		limit = 3
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at FROM requests WHERE address = ? AND category = ? AND created_at >= ? AND id <> ? ORDER BY created_at DESC LIMIT ?`,
		address, category, since, excludeID, limit)
	if err != nil {
		return 0, nil, eris.Wrap(err, "sqlite: recent reports")
	}
	defer rows.Close()

	var recent []model.RecentReport
	for rows.Next() {
		var r model.RecentReport
		if err := rows.Scan(&r.ID, &r.Date); err != nil {
			return 0, nil, eris.Wrap(err, "sqlite: scan recent report")
		}
		recent = append(recent, r)
	}
	return count, recent, eris.Wrap(rows.Err(), "sqlite: iterate recent reports")
}

func (s *SQLiteStore) LatestClosedAtAddress(ctx context.Context, address string) (*model.PastResolution, error) {
	var p model.PastResolution
	err := s.db.QueryRowContext(ctx,
		`SELECT id, substatus, completion_note FROM requests WHERE address = ? AND status = ? ORDER BY updated_at DESC LIMIT 1`,
		address, string(model.StatusClosed),
	).Scan(&p.ID, &p.Substatus, &p.Message)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest closed at address")
	}
	return &p, nil
}

// candidatesNear fetches rows inside the bounding box; callers filter by
// exact haversine distance.
func (s *SQLiteStore) candidatesNear(ctx context.Context, q NearQuery) ([]model.ServiceRequest, error) {
	minLat, minLng, maxLat, maxLng := geo.BBox(q.Latitude, q.Longitude, q.RadiusMeters)

	query := `SELECT ` + requestColumns + ` FROM requests
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL
		AND latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`
	args := []any{minLat, maxLat, minLng, maxLng}

	if q.Category != "" {
		query += ` AND category = ?`
		args = append(args, q.Category)
	}
	if q.OpenOnly {
		query += ` AND status IN (?, ?)`
		args = append(args, string(model.StatusOpen), string(model.StatusInProgress))
	}
	if q.ExcludeID != "" {
		query += ` AND id <> ?`
		args = append(args, q.ExcludeID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: candidates near")
	}
	defer rows.Close()

	var out []model.ServiceRequest
	for rows.Next() {
		req, err := scanSQLiteRequest(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		if req.Latitude == nil || req.Longitude == nil {
			continue
		}
		if geo.Haversine(q.Latitude, q.Longitude, *req.Latitude, *req.Longitude) <= q.RadiusMeters {
			out = append(out, *req)
		}
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate candidates")
}

func (s *SQLiteStore) RequestsNear(ctx context.Context, q NearQuery) ([]model.ServiceRequest, error) {
	matches, err := s.candidatesNear(ctx, q)
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool {
		di := geo.Haversine(q.Latitude, q.Longitude, *matches[i].Latitude, *matches[i].Longitude)
		dj := geo.Haversine(q.Latitude, q.Longitude, *matches[j].Latitude, *matches[j].Longitude)
		return di < dj
	})
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

func (s *SQLiteStore) CountRequestsNear(ctx context.Context, q NearQuery) (int, error) {
	matches, err := s.candidatesNear(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

func (s *SQLiteStore) ActiveBoundaries(ctx context.Context, kind model.BoundaryKind) ([]model.Boundary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, kind, geometry, category_filters, road_filters, redirect_url, redirect_message, active, created_at, updated_at
		 FROM boundaries WHERE kind = ? AND active = 1 ORDER BY updated_at DESC`,
		string(kind))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: active boundaries")
	}
	defer rows.Close()

	var out []model.Boundary
	for rows.Next() {
		var b model.Boundary
		var geomText, catText, roadText string
		if err := rows.Scan(&b.ID, &b.Name, &b.Kind, &geomText, &catText, &roadText,
			&b.RedirectURL, &b.RedirectMessage, &b.Active, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan boundary")
		}
		b.Geometry = json.RawMessage(geomText)
		if err := json.Unmarshal([]byte(catText), &b.CategoryFilters); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal category filters")
		}
		if err := json.Unmarshal([]byte(roadText), &b.RoadNameFilters); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal road filters")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate boundaries")
}

func (s *SQLiteStore) SaveBoundary(ctx context.Context, b *model.Boundary) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	catJSON, err := json.Marshal(filtersOrEmpty(b.CategoryFilters))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal category filters")
	}
	roadJSON, err := json.Marshal(filtersOrEmpty(b.RoadNameFilters))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal road filters")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO boundaries (id, name, kind, geometry, category_filters, road_filters, redirect_url, redirect_message, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, string(b.Kind), string(b.Geometry), string(catJSON), string(roadJSON),
		b.RedirectURL, b.RedirectMessage, b.Active, b.CreatedAt, b.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: save boundary")
}

func (s *SQLiteStore) ActiveExclusionRules(ctx context.Context) ([]model.ExclusionRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, match_key, redirect_name, redirect_url, redirect_message, active FROM exclusion_rules WHERE active = 1`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: active exclusion rules")
	}
	defer rows.Close()

	var out []model.ExclusionRule
	for rows.Next() {
		var r model.ExclusionRule
		if err := rows.Scan(&r.ID, &r.Kind, &r.MatchKey, &r.RedirectName, &r.RedirectURL, &r.RedirectMessage, &r.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan exclusion rule")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate exclusion rules")
}

func (s *SQLiteStore) SaveExclusionRule(ctx context.Context, r *model.ExclusionRule) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO exclusion_rules (id, kind, match_key, redirect_name, redirect_url, redirect_message, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Kind), r.MatchKey, r.RedirectName, r.RedirectURL, r.RedirectMessage, r.Active,
	)
	return eris.Wrap(err, "sqlite: save exclusion rule")
}

func (s *SQLiteStore) ActiveLayers(ctx context.Context) ([]model.AssetLayer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, source, active, created_at FROM layers WHERE active = 1 ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: active layers")
	}
	defer rows.Close()

	var out []model.AssetLayer
	for rows.Next() {
		var l model.AssetLayer
		if err := rows.Scan(&l.ID, &l.Name, &l.Source, &l.Active, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan layer")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate layers")
}

func (s *SQLiteStore) CreateLayer(ctx context.Context, layer *model.AssetLayer) error {
	if layer.ID == "" {
		layer.ID = uuid.New().String()
	}
	if layer.CreatedAt.IsZero() {
		layer.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO layers (id, name, source, active, created_at) VALUES (?, ?, ?, ?, ?)`,
		layer.ID, layer.Name, layer.Source, layer.Active, layer.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert layer")
}

func (s *SQLiteStore) InsertLayerFeatures(ctx context.Context, layerID string, features []model.LayerFeature) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO layer_features (id, layer_id, name, latitude, longitude, geometry) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare feature insert")
	}
	defer stmt.Close()

	var n int64
	for _, f := range features {
		id := f.ID
		if id == "" {
			id = uuid.New().String()
		}
		var geomText any
		if len(f.Geometry) > 0 {
			geomText = string(f.Geometry)
		}
		if _, err := stmt.ExecContext(ctx, id, layerID, f.Name, f.Latitude, f.Longitude, geomText); err != nil {
			return 0, eris.Wrap(err, "sqlite: insert feature")
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit features")
	}
	return n, nil
}

func (s *SQLiteStore) LayerFeaturesNear(ctx context.Context, layerID string, lat, lng, radiusMeters float64, limit int) ([]model.LayerFeature, error) {
	if limit <= 0 {
		limit = 10
	}
	minLat, minLng, maxLat, maxLng := geo.BBox(lat, lng, radiusMeters)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, layer_id, name, latitude, longitude, geometry FROM layer_features
		 WHERE layer_id = ? AND latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`,
		layerID, minLat, maxLat, minLng, maxLng)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: layer features near")
	}
	defer rows.Close()

	var out []model.LayerFeature
	for rows.Next() {
		var f model.LayerFeature
		var geomText sql.NullString
		if err := rows.Scan(&f.ID, &f.LayerID, &f.Name, &f.Latitude, &f.Longitude, &geomText); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan layer feature")
		}
		if geomText.Valid {
			f.Geometry = json.RawMessage(geomText.String)
		}
		if geo.Haversine(lat, lng, f.Latitude, f.Longitude) <= radiusMeters {
			out = append(out, f)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate layer features")
	}

	sort.Slice(out, func(i, j int) bool {
		return geo.Haversine(lat, lng, out[i].Latitude, out[i].Longitude) <
			geo.Haversine(lat, lng, out[j].Latitude, out[j].Longitude)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
