package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/jurisdiction"
	"github.com/civicworks/portal311/internal/model"
	"github.com/civicworks/portal311/internal/store"
)

var citySquare = json.RawMessage(`{"type":"Polygon","coordinates":[[[-86,38],[-85,38],[-85,39],[-86,39],[-86,38]]]}`)

type fakeStore struct {
	requests map[string]*model.ServiceRequest
	pingErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{requests: map[string]*model.ServiceRequest{}}
}

func (f *fakeStore) CreateRequest(_ context.Context, req *model.ServiceRequest) error {
	req.ID = "req-1"
	f.requests[req.ID] = req
	return nil
}

func (f *fakeStore) GetRequest(_ context.Context, id string) (*model.ServiceRequest, error) {
	req, ok := f.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return req, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeBoundarySource struct {
	primaries  []model.Boundary
	exclusions []model.Boundary
	rules      []model.ExclusionRule
}

func (f *fakeBoundarySource) ActiveBoundaries(_ context.Context, kind model.BoundaryKind) ([]model.Boundary, error) {
	if kind == model.BoundaryPrimary {
		return f.primaries, nil
	}
	return f.exclusions, nil
}

func (f *fakeBoundarySource) ActiveExclusionRules(context.Context) ([]model.ExclusionRule, error) {
	return f.rules, nil
}

type fakeRunner struct {
	enqueued []string
	err      error
}

func (f *fakeRunner) Enqueue(_ context.Context, requestID string) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, requestID)
	return nil
}

func (f *fakeRunner) Shutdown(context.Context) error { return nil }

func newTestServer(st *fakeStore, src *fakeBoundarySource, runner *fakeRunner) http.Handler {
	s := NewServer(st, jurisdiction.NewEvaluator(src, zap.NewNop()), runner, zap.NewNop())
	return s.Router(nil)
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

const insideDraft = `{
	"description": "Deep pothole in the travel lane",
	"category": "pothole",
	"address": "401 Main St",
	"latitude": 38.25,
	"longitude": -85.76
}`

func TestSubmit_Accepted(t *testing.T) {
	st := newFakeStore()
	runner := &fakeRunner{}
	src := &fakeBoundarySource{
		primaries: []model.Boundary{{ID: "city", Kind: model.BoundaryPrimary, Geometry: citySquare}},
	}

	rec := postJSON(t, newTestServer(st, src, runner), "/api/requests", insideDraft)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-1", resp.ID)
	assert.Equal(t, "open", resp.Status)
	assert.Empty(t, resp.Warning)

	assert.Equal(t, []string{"req-1"}, runner.enqueued)
	require.Contains(t, st.requests, "req-1")
	assert.Equal(t, model.StatusOpen, st.requests["req-1"].Status)
}

func TestSubmit_OutsideServiceArea(t *testing.T) {
	st := newFakeStore()
	runner := &fakeRunner{}
	src := &fakeBoundarySource{
		primaries: []model.Boundary{{ID: "city", Kind: model.BoundaryPrimary, Geometry: citySquare}},
	}

	outside := `{"description":"pothole","category":"pothole","address":"1 Far Rd","latitude":40.0,"longitude":-80.0}`
	rec := postJSON(t, newTestServer(st, src, runner), "/api/requests", outside)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, jurisdiction.OutsideBoundaryMessage, resp["error"])

	assert.Empty(t, st.requests)
	assert.Empty(t, runner.enqueued)
}

func TestSubmit_AdvisoryWarningStillAccepted(t *testing.T) {
	st := newFakeStore()
	runner := &fakeRunner{}
	src := &fakeBoundarySource{
		primaries: []model.Boundary{{ID: "city", Kind: model.BoundaryPrimary, Geometry: citySquare}},
		exclusions: []model.Boundary{{
			ID: "parks", Kind: model.BoundaryExclusion, Geometry: citySquare,
			Name: "State Parks District", CategoryFilters: []string{"graffiti"},
		}},
	}

	rec := postJSON(t, newTestServer(st, src, runner), "/api/requests", insideDraft)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Warning)
	assert.Equal(t, []string{"req-1"}, runner.enqueued)
}

func TestSubmit_Validation(t *testing.T) {
	h := newTestServer(newFakeStore(), &fakeBoundarySource{}, &fakeRunner{})

	rec := postJSON(t, h, "/api/requests", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h, "/api/requests", `{"category":"pothole","address":"401 Main St"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "description is required")

	rec = postJSON(t, h, "/api/requests", `{"description":"d","category":"pothole"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h, "/api/requests",
		`{"description":"d","category":"pothole","address":"401 Main St","latitude":38.25}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "together")
}

func TestSubmit_PhotosDecodedAndPersisted(t *testing.T) {
	st := newFakeStore()
	runner := &fakeRunner{}
	src := &fakeBoundarySource{
		primaries: []model.Boundary{{ID: "city", Kind: model.BoundaryPrimary, Geometry: citySquare}},
	}

	// "data" carries standard base64 of the raw bytes.
	withPhoto := `{
		"description": "Deep pothole in the travel lane",
		"category": "pothole",
		"address": "401 Main St",
		"media": [{"name": "hole.jpg", "content_type": "image/jpeg", "data": "/9j/2w=="}]
	}`
	rec := postJSON(t, newTestServer(st, src, runner), "/api/requests", withPhoto)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, st.requests, "req-1")
	media := st.requests["req-1"].Media
	require.Len(t, media, 1)
	assert.Equal(t, "hole.jpg", media[0].Name)
	assert.Equal(t, "image/jpeg", media[0].ContentType)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xDB}, media[0].Data)
}

func TestSubmit_PhotoValidation(t *testing.T) {
	h := newTestServer(newFakeStore(), &fakeBoundarySource{}, &fakeRunner{})

	fourPhotos := `{"description":"d","category":"pothole","address":"401 Main St","media":[
		{"data":"AA=="},{"data":"AA=="},{"data":"AA=="},{"data":"AA=="}]}`
	rec := postJSON(t, h, "/api/requests", fourPhotos)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no more than 3 photos")

	emptyPhoto := `{"description":"d","category":"pothole","address":"401 Main St","media":[{"name":"x.jpg"}]}`
	rec = postJSON(t, h, "/api/requests", emptyPhoto)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "photo data")
}

func TestSubmit_EnqueueFailureStillAccepted(t *testing.T) {
	st := newFakeStore()
	runner := &fakeRunner{err: eris.New("temporal down")}

	rec := postJSON(t, newTestServer(st, &fakeBoundarySource{}, runner), "/api/requests", insideDraft)

	// The row is saved; triage can be rerun from the CLI.
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, st.requests, "req-1")
}

func TestGetRequest(t *testing.T) {
	st := newFakeStore()
	st.requests["req-1"] = &model.ServiceRequest{ID: "req-1", Category: "pothole", Status: model.StatusOpen}
	h := newTestServer(st, &fakeBoundarySource{}, &fakeRunner{})

	rec := get(h, "/api/requests/req-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pothole"`)

	rec = get(h, "/api/requests/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRequest_OmitsPhotoBytes(t *testing.T) {
	st := newFakeStore()
	st.requests["req-1"] = &model.ServiceRequest{
		ID: "req-1", Category: "pothole", Status: model.StatusOpen,
		Media: []model.MediaRef{{Name: "hole.jpg", ContentType: "image/jpeg", Data: []byte{0xFF, 0xD8}}},
	}
	h := newTestServer(st, &fakeBoundarySource{}, &fakeRunner{})

	rec := get(h, "/api/requests/req-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hole.jpg"`)
	assert.NotContains(t, rec.Body.String(), `"data"`)

	// The stored copy keeps its bytes.
	assert.NotEmpty(t, st.requests["req-1"].Media[0].Data)
}

func TestGetTriage(t *testing.T) {
	st := newFakeStore()
	st.requests["req-1"] = &model.ServiceRequest{ID: "req-1", Status: model.StatusOpen}
	st.requests["req-2"] = &model.ServiceRequest{
		ID: "req-2", Status: model.StatusOpen,
		Analysis: &model.TriageResult{PriorityScore: 7, Justification: "Pothole in arterial road.", Source: model.SourceAIGenerated},
	}
	h := newTestServer(st, &fakeBoundarySource{}, &fakeRunner{})

	rec := get(h, "/api/requests/req-1/triage")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pending"`)

	rec = get(h, "/api/requests/req-2/triage")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"priority_score":7`)

	rec = get(h, "/api/requests/missing/triage")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	st := newFakeStore()
	h := newTestServer(st, &fakeBoundarySource{}, &fakeRunner{})

	rec := get(h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	st.pingErr = eris.New("connection refused")
	rec = get(h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
