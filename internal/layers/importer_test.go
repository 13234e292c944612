package layers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/model"
)

type fakeLayerStore struct {
	createdLayer *model.AssetLayer
	inserted     []model.LayerFeature
	insertedInto string
}

func (f *fakeLayerStore) CreateLayer(_ context.Context, layer *model.AssetLayer) error {
	layer.ID = "layer-1"
	f.createdLayer = layer
	return nil
}

func (f *fakeLayerStore) InsertLayerFeatures(_ context.Context, layerID string, features []model.LayerFeature) (int64, error) {
	f.insertedInto = layerID
	f.inserted = features
	return int64(len(features)), nil
}

const hospitalsGeoJSON = `{
	"type": "FeatureCollection",
	"features": [
		{
			"type": "Feature",
			"properties": {"NAME": "Mercy General"},
			"geometry": {"type": "Point", "coordinates": [-85.76, 38.25]}
		},
		{
			"type": "Feature",
			"properties": {"name": "St. Agnes Campus"},
			"geometry": {
				"type": "Polygon",
				"coordinates": [[[-85.8, 38.2], [-85.8, 38.4], [-85.6, 38.4], [-85.6, 38.2], [-85.8, 38.2]]]
			}
		},
		{
			"type": "Feature",
			"properties": {"name": "No Geometry"},
			"geometry": null
		}
	]
}`

func writeGeoJSONFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hospitals.geojson")
	require.NoError(t, os.WriteFile(path, []byte(hospitalsGeoJSON), 0o644))
	return path
}

func writeShapefileFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hospitals.shp")

	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME", 40)}))

	row := w.Write(&shp.Point{X: -85.76, Y: 38.25})
	require.NoError(t, w.WriteAttribute(int(row), 0, "Mercy General"))
	row = w.Write(&shp.Point{X: -85.70, Y: 38.30})
	require.NoError(t, w.WriteAttribute(int(row), 0, "Eastside Clinic"))
	w.Close()

	return path
}

func TestImport_GeoJSON(t *testing.T) {
	st := &fakeLayerStore{}
	imp := NewImporter(st, zap.NewNop())

	layer, n, err := imp.Import(context.Background(), ImportOptions{
		Name:   "hospitals",
		Source: writeGeoJSONFixture(t),
	})

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NotNil(t, layer)
	assert.Equal(t, "hospitals", layer.Name)
	assert.True(t, layer.Active)
	assert.Equal(t, "layer-1", st.insertedInto)

	require.Len(t, st.inserted, 2)
	assert.Equal(t, "Mercy General", st.inserted[0].Name)
	assert.InDelta(t, 38.25, st.inserted[0].Latitude, 1e-9)
	assert.InDelta(t, -85.76, st.inserted[0].Longitude, 1e-9)

	// Polygon centroid from its bounding box.
	assert.Equal(t, "St. Agnes Campus", st.inserted[1].Name)
	assert.InDelta(t, 38.3, st.inserted[1].Latitude, 1e-9)
	assert.InDelta(t, -85.7, st.inserted[1].Longitude, 1e-9)
	assert.Contains(t, string(st.inserted[1].Geometry), `"Polygon"`)
}

func TestImport_Shapefile(t *testing.T) {
	st := &fakeLayerStore{}
	imp := NewImporter(st, zap.NewNop())

	_, n, err := imp.Import(context.Background(), ImportOptions{
		Name:   "hospitals",
		Source: writeShapefileFixture(t),
	})

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.Len(t, st.inserted, 2)
	assert.Equal(t, "Mercy General", st.inserted[0].Name)
	assert.Equal(t, "Eastside Clinic", st.inserted[1].Name)
	assert.InDelta(t, -85.70, st.inserted[1].Longitude, 1e-9)
	assert.Contains(t, string(st.inserted[0].Geometry), `"Point"`)
}

func TestImport_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layer.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n"), 0o644))

	_, _, err := NewImporter(&fakeLayerStore{}, zap.NewNop()).Import(context.Background(), ImportOptions{
		Name:   "hospitals",
		Source: path,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported source format")
}

func TestImport_RequiresNameAndSource(t *testing.T) {
	imp := NewImporter(&fakeLayerStore{}, zap.NewNop())

	_, _, err := imp.Import(context.Background(), ImportOptions{Source: "x.geojson"})
	assert.Error(t, err)

	_, _, err = imp.Import(context.Background(), ImportOptions{Name: "hospitals"})
	assert.Error(t, err)
}

func TestImport_EmptyCollection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"FeatureCollection","features":[]}`), 0o644))

	_, _, err := NewImporter(&fakeLayerStore{}, zap.NewNop()).Import(context.Background(), ImportOptions{
		Name:   "hospitals",
		Source: path,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable features")
}

func TestParseFTPURL(t *testing.T) {
	host, path, err := parseFTPURL("ftp://gis.example.gov/drops/hydrants.zip")
	require.NoError(t, err)
	assert.Equal(t, "gis.example.gov:21", host)
	assert.Equal(t, "/drops/hydrants.zip", path)

	host, _, err = parseFTPURL("ftp://gis.example.gov:2121/drops/hydrants.zip")
	require.NoError(t, err)
	assert.Equal(t, "gis.example.gov:2121", host)

	_, _, err = parseFTPURL("https://gis.example.gov/drops/hydrants.zip")
	assert.Error(t, err)
}
