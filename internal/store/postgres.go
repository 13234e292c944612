package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/civicworks/portal311/internal/db"
	"github.com/civicworks/portal311/internal/model"
)

// PostgresStore implements Store on pgxpool with PostGIS geography for
// radius queries.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// geogPoint builds a geography value from the row's lat/lng columns.
const geogPoint = `ST_SetSRID(ST_MakePoint(longitude, latitude), 4326)::geography`

// queryPoint builds a geography value from query parameters $1=lng, $2=lat.
const queryPoint = `ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests and by callers
// that manage the pool themselves.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the underlying pool for subsystems that need direct access,
// such as the layer importer's bulk COPY path.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS requests (
	id              TEXT PRIMARY KEY,
	description     TEXT NOT NULL,
	category        TEXT NOT NULL,
	address         TEXT NOT NULL DEFAULT '',
	latitude        DOUBLE PRECISION,
	longitude       DOUBLE PRECISION,
	status          TEXT NOT NULL DEFAULT 'open',
	substatus       TEXT NOT NULL DEFAULT '',
	completion_note TEXT NOT NULL DEFAULT '',
	priority        INTEGER NOT NULL DEFAULT 0,
	flagged         BOOLEAN NOT NULL DEFAULT FALSE,
	flag_reason     TEXT NOT NULL DEFAULT '',
	analysis        JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_requests_category_address ON requests(category, address);
CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_requests_point ON requests
	USING GIST (ST_SetSRID(ST_MakePoint(longitude, latitude), 4326))
	WHERE latitude IS NOT NULL AND longitude IS NOT NULL;

CREATE TABLE IF NOT EXISTS request_media (
	request_id   TEXT NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	data         BYTEA NOT NULL,
	PRIMARY KEY (request_id, position)
);

CREATE TABLE IF NOT EXISTS boundaries (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	kind             TEXT NOT NULL,
	geometry         JSONB NOT NULL,
	category_filters JSONB NOT NULL DEFAULT '[]',
	road_filters     JSONB NOT NULL DEFAULT '[]',
	redirect_url     TEXT NOT NULL DEFAULT '',
	redirect_message TEXT NOT NULL DEFAULT '',
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_boundaries_kind_active ON boundaries(kind, active);

CREATE TABLE IF NOT EXISTS exclusion_rules (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	match_key        TEXT NOT NULL,
	redirect_name    TEXT NOT NULL DEFAULT '',
	redirect_url     TEXT NOT NULL DEFAULT '',
	redirect_message TEXT NOT NULL DEFAULT '',
	active           BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS layers (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS layer_features (
	id        TEXT PRIMARY KEY,
	layer_id  TEXT NOT NULL REFERENCES layers(id),
	name      TEXT NOT NULL DEFAULT '',
	latitude  DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	geometry  JSONB
);

CREATE INDEX IF NOT EXISTS idx_layer_features_layer ON layer_features(layer_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *model.ServiceRequest) error {
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO requests (id, description, category, address, latitude, longitude, status, substatus, completion_note, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		req.ID, req.Description, req.Category, req.Address, req.Latitude, req.Longitude,
		string(req.Status), req.Substatus, req.CompletionNote, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert request")
	}

	for i, m := range req.Media {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO request_media (request_id, position, name, content_type, data) VALUES ($1, $2, $3, $4, $5)`,
			req.ID, i, m.Name, m.ContentType, m.Data,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert request media %d", i)
		}
	}
	return nil
}

const requestColumns = `id, description, category, address, latitude, longitude, status, substatus, completion_note, priority, flagged, flag_reason, analysis, created_at, updated_at`

func scanRequest(row pgx.Row) (*model.ServiceRequest, error) {
	var r model.ServiceRequest
	var analysisJSON []byte
	err := row.Scan(&r.ID, &r.Description, &r.Category, &r.Address, &r.Latitude, &r.Longitude,
		&r.Status, &r.Substatus, &r.CompletionNote, &r.Priority, &r.Flagged, &r.FlagReason,
		&analysisJSON, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(analysisJSON) > 0 {
		r.Analysis = &model.TriageResult{}
		if err := json.Unmarshal(analysisJSON, r.Analysis); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal analysis")
		}
	}
	return &r, nil
}

// GetRequest loads a single request with its photos. List and radius paths
// skip the media join; only the classifier needs the bytes.
func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*model.ServiceRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get request %s", id)
	}
	if req.Media, err = s.requestMedia(ctx, id); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *PostgresStore) requestMedia(ctx context.Context, id string) ([]model.MediaRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, content_type, data FROM request_media WHERE request_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: request media")
	}
	defer rows.Close()

	var out []model.MediaRef
	for rows.Next() {
		var m model.MediaRef
		if err := rows.Scan(&m.Name, &m.ContentType, &m.Data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan request media")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate request media")
}

func (s *PostgresStore) DeleteRequest(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM requests WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete request %s", id)
}

func (s *PostgresStore) ApplyTriage(ctx context.Context, id string, priority int, flagged bool, flagReason string, analysis *model.TriageResult) (bool, error) {
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal analysis")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE requests SET priority = $1, flagged = $2, flag_reason = $3, analysis = $4, updated_at = $5 WHERE id = $6`,
		priority, flagged, flagReason, analysisJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: apply triage %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListRequests(ctx context.Context, since time.Time) ([]model.ServiceRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE created_at >= $1 ORDER BY created_at DESC`, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list requests")
	}
	defer rows.Close()
	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]model.ServiceRequest, error) {
	var out []model.ServiceRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan request")
		}
		out = append(out, *req)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate requests")
}

func (s *PostgresStore) RecurrenceAtAddress(ctx context.Context, address, category string, since time.Time, excludeID string, limit int) (int, []model.RecentReport, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM requests WHERE address = $1 AND category = $2 AND created_at >= $3 AND id <> $4`,
		address, category, since, excludeID,
	).Scan(&count)
	if err != nil {
		return 0, nil, eris.Wrap(err, "postgres: count recurrence")
	}

	if limit <= 0 {
		limit = 3
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, created_at FROM requests WHERE address = $1 AND category = $2 AND created_at >= $3 AND id <> $4 ORDER BY created_at DESC LIMIT $5`,
		address, category, since, excludeID, limit)
	if err != nil {
		return 0, nil, eris.Wrap(err, "postgres: recent reports")
	}
	defer rows.Close()

	var recent []model.RecentReport
	for rows.Next() {
		var r model.RecentReport
		if err := rows.Scan(&r.ID, &r.Date); err != nil {
			return 0, nil, eris.Wrap(err, "postgres: scan recent report")
		}
		recent = append(recent, r)
	}
	return count, recent, eris.Wrap(rows.Err(), "postgres: iterate recent reports")
}

func (s *PostgresStore) LatestClosedAtAddress(ctx context.Context, address string) (*model.PastResolution, error) {
	var p model.PastResolution
	err := s.pool.QueryRow(ctx,
		`SELECT id, substatus, completion_note FROM requests WHERE address = $1 AND status = $2 ORDER BY updated_at DESC LIMIT 1`,
		address, string(model.StatusClosed),
	).Scan(&p.ID, &p.Substatus, &p.Message)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest closed at address")
	}
	return &p, nil
}

// nearFilter renders the shared WHERE clause for radius queries. $1=lng,
// $2=lat, $3=radius meters; further args follow.
func nearFilter(q NearQuery) (string, []any) {
	cond := fmt.Sprintf(`latitude IS NOT NULL AND longitude IS NOT NULL AND ST_DWithin(%s, %s, $3)`, geogPoint, queryPoint)
	args := []any{q.Longitude, q.Latitude, q.RadiusMeters}
	idx := 4

	if q.Category != "" {
		cond += fmt.Sprintf(` AND category = $%d`, idx)
		args = append(args, q.Category)
		idx++
	}
	if q.OpenOnly {
		cond += fmt.Sprintf(` AND status IN ($%d, $%d)`, idx, idx+1)
		args = append(args, string(model.StatusOpen), string(model.StatusInProgress))
		idx += 2
	}
	if q.ExcludeID != "" {
		cond += fmt.Sprintf(` AND id <> $%d`, idx)
		args = append(args, q.ExcludeID)
		idx++
	}
	return cond, args
}

func (s *PostgresStore) RequestsNear(ctx context.Context, q NearQuery) ([]model.ServiceRequest, error) {
	cond, args := nearFilter(q)
	query := fmt.Sprintf(`SELECT %s FROM requests WHERE %s ORDER BY ST_Distance(%s, %s)`,
		requestColumns, cond, geogPoint, queryPoint)
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, q.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: requests near")
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *PostgresStore) CountRequestsNear(ctx context.Context, q NearQuery) (int, error) {
	cond, args := nearFilter(q)
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM requests WHERE `+cond, args...).Scan(&count)
	return count, eris.Wrap(err, "postgres: count requests near")
}

func (s *PostgresStore) ActiveBoundaries(ctx context.Context, kind model.BoundaryKind) ([]model.Boundary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, kind, geometry, category_filters, road_filters, redirect_url, redirect_message, active, created_at, updated_at
		 FROM boundaries WHERE kind = $1 AND active ORDER BY updated_at DESC`,
		string(kind))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active boundaries")
	}
	defer rows.Close()

	var out []model.Boundary
	for rows.Next() {
		var b model.Boundary
		var catJSON, roadJSON []byte
		if err := rows.Scan(&b.ID, &b.Name, &b.Kind, &b.Geometry, &catJSON, &roadJSON,
			&b.RedirectURL, &b.RedirectMessage, &b.Active, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan boundary")
		}
		if err := json.Unmarshal(catJSON, &b.CategoryFilters); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal category filters")
		}
		if err := json.Unmarshal(roadJSON, &b.RoadNameFilters); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal road filters")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate boundaries")
}

func (s *PostgresStore) SaveBoundary(ctx context.Context, b *model.Boundary) error {
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
		return eris.Wrap(err, "postgres: marshal category filters")
	}
	roadJSON, err := json.Marshal(filtersOrEmpty(b.RoadNameFilters))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal road filters")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO boundaries (id, name, kind, geometry, category_filters, road_filters, redirect_url, redirect_message, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, kind = EXCLUDED.kind, geometry = EXCLUDED.geometry,
			category_filters = EXCLUDED.category_filters, road_filters = EXCLUDED.road_filters,
			redirect_url = EXCLUDED.redirect_url, redirect_message = EXCLUDED.redirect_message,
			active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`,
		b.ID, b.Name, string(b.Kind), []byte(b.Geometry), catJSON, roadJSON,
		b.RedirectURL, b.RedirectMessage, b.Active, b.CreatedAt, b.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: save boundary")
}

func filtersOrEmpty(f []string) []string {
	if f == nil {
		return []string{}
	}
	return f
}

func (s *PostgresStore) ActiveExclusionRules(ctx context.Context) ([]model.ExclusionRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, match_key, redirect_name, redirect_url, redirect_message, active FROM exclusion_rules WHERE active`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active exclusion rules")
	}
	defer rows.Close()

	var out []model.ExclusionRule
	for rows.Next() {
		var r model.ExclusionRule
		if err := rows.Scan(&r.ID, &r.Kind, &r.MatchKey, &r.RedirectName, &r.RedirectURL, &r.RedirectMessage, &r.Active); err != nil {
			return nil, eris.Wrap(err, "postgres: scan exclusion rule")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate exclusion rules")
}

func (s *PostgresStore) SaveExclusionRule(ctx context.Context, r *model.ExclusionRule) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO exclusion_rules (id, kind, match_key, redirect_name, redirect_url, redirect_message, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind, match_key = EXCLUDED.match_key, redirect_name = EXCLUDED.redirect_name,
			redirect_url = EXCLUDED.redirect_url, redirect_message = EXCLUDED.redirect_message, active = EXCLUDED.active`,
		r.ID, string(r.Kind), r.MatchKey, r.RedirectName, r.RedirectURL, r.RedirectMessage, r.Active,
	)
	return eris.Wrap(err, "postgres: save exclusion rule")
}

func (s *PostgresStore) ActiveLayers(ctx context.Context) ([]model.AssetLayer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, source, active, created_at FROM layers WHERE active ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active layers")
	}
	defer rows.Close()

	var out []model.AssetLayer
	for rows.Next() {
		var l model.AssetLayer
		if err := rows.Scan(&l.ID, &l.Name, &l.Source, &l.Active, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan layer")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate layers")
}

func (s *PostgresStore) CreateLayer(ctx context.Context, layer *model.AssetLayer) error {
	if layer.ID == "" {
		layer.ID = uuid.New().String()
	}
	if layer.CreatedAt.IsZero() {
		layer.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO layers (id, name, source, active, created_at) VALUES ($1, $2, $3, $4, $5)`,
		layer.ID, layer.Name, layer.Source, layer.Active, layer.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert layer")
}

func (s *PostgresStore) InsertLayerFeatures(ctx context.Context, layerID string, features []model.LayerFeature) (int64, error) {
	rows := make([][]any, 0, len(features))
	for _, f := range features {
		id := f.ID
		if id == "" {
			id = uuid.New().String()
		}
		var geomJSON []byte
		if len(f.Geometry) > 0 {
			geomJSON = []byte(f.Geometry)
		}
		rows = append(rows, []any{id, layerID, f.Name, f.Latitude, f.Longitude, geomJSON})
	}

	n, err := db.CopyInto(ctx, s.pool, "public", "layer_features",
		[]string{"id", "layer_id", "name", "latitude", "longitude", "geometry"}, rows)
	return n, eris.Wrap(err, "postgres: bulk insert layer features")
}

func (s *PostgresStore) LayerFeaturesNear(ctx context.Context, layerID string, lat, lng, radiusMeters float64, limit int) ([]model.LayerFeature, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, layer_id, name, latitude, longitude, geometry FROM layer_features
		 WHERE layer_id = $4 AND ST_DWithin(`+geogPoint+`, `+queryPoint+`, $3)
		 ORDER BY ST_Distance(`+geogPoint+`, `+queryPoint+`) LIMIT $5`,
		lng, lat, radiusMeters, layerID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: layer features near")
	}
	defer rows.Close()

	var out []model.LayerFeature
	for rows.Next() {
		var f model.LayerFeature
		var geomJSON []byte
		if err := rows.Scan(&f.ID, &f.LayerID, &f.Name, &f.Latitude, &f.Longitude, &geomJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan layer feature")
		}
		f.Geometry = geomJSON
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate layer features")
}
