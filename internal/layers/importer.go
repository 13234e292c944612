package layers

import (
	"archive/zip"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/civicworks/portal311/internal/model"
)

// Store is the subset of the request store the importer writes through.
type Store interface {
	CreateLayer(ctx context.Context, layer *model.AssetLayer) error
	InsertLayerFeatures(ctx context.Context, layerID string, features []model.LayerFeature) (int64, error)
}

// Importer loads asset layers from shapefile or GeoJSON drops into the store.
type Importer struct {
	store  Store
	logger *zap.Logger
}

// ImportOptions names the layer and points at its source: a local .shp,
// .geojson, or .zip path, or an ftp:// URL to one.
type ImportOptions struct {
	Name   string
	Source string
}

func NewImporter(store Store, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.L()
	}
	return &Importer{store: store, logger: logger}
}

// Import fetches, parses, and persists one layer. Returns the created layer
// and the number of features loaded. Features with no usable geometry are
// skipped, not fatal.
func (i *Importer) Import(ctx context.Context, opts ImportOptions) (*model.AssetLayer, int64, error) {
	if opts.Name == "" {
		return nil, 0, eris.New("layers: layer name is required")
	}
	if opts.Source == "" {
		return nil, 0, eris.New("layers: source path or url is required")
	}

	workDir, err := os.MkdirTemp("", "layer-import-*")
	if err != nil {
		return nil, 0, eris.Wrap(err, "layers: create temp dir")
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localPath := opts.Source
	if strings.HasPrefix(opts.Source, "ftp://") {
		localPath, err = fetchFTP(ctx, opts.Source, workDir, i.logger)
		if err != nil {
			return nil, 0, err
		}
	}

	if strings.EqualFold(filepath.Ext(localPath), ".zip") {
		localPath, err = extractLayerArchive(localPath, workDir)
		if err != nil {
			return nil, 0, err
		}
	}

	var features []model.LayerFeature
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".shp":
		features, err = i.parseShapefile(localPath)
	case ".geojson", ".json":
		features, err = i.parseGeoJSON(localPath)
	default:
		return nil, 0, eris.Errorf("layers: unsupported source format %q", filepath.Ext(localPath))
	}
	if err != nil {
		return nil, 0, err
	}
	if len(features) == 0 {
		return nil, 0, eris.Errorf("layers: no usable features in %s", opts.Source)
	}

	layer := &model.AssetLayer{Name: opts.Name, Source: opts.Source, Active: true}
	if err := i.store.CreateLayer(ctx, layer); err != nil {
		return nil, 0, err
	}

	n, err := i.store.InsertLayerFeatures(ctx, layer.ID, features)
	if err != nil {
		return nil, 0, err
	}

	i.logger.Info("layer imported",
		zap.String("layer", layer.Name),
		zap.String("layer_id", layer.ID),
		zap.Int64("features", n),
	)
	return layer, n, nil
}

// nameFields are shapefile attribute names tried, in order, for a feature's
// display name.
var nameFields = []string{"name", "fullname", "label", "facility", "site_name"}

func (i *Importer) parseShapefile(path string) ([]model.LayerFeature, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "layers: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := -1
	for idx, f := range reader.Fields() {
		name := strings.ToLower(strings.TrimRight(f.String(), "\x00"))
		for _, candidate := range nameFields {
			if name == candidate {
				nameIdx = idx
				break
			}
		}
		if nameIdx >= 0 {
			break
		}
	}

	var features []model.LayerFeature
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		lat, lng, ok := representativePoint(shape)
		if !ok {
			skipped++
			continue
		}
		geometry, err := shapeToGeoJSON(shape)
		if err != nil || geometry == nil {
			skipped++
			continue
		}

		var name string
		if nameIdx >= 0 {
			name = strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		}

		features = append(features, model.LayerFeature{
			Name:      name,
			Latitude:  lat,
			Longitude: lng,
			Geometry:  geometry,
		})
	}

	if skipped > 0 {
		i.logger.Warn("skipped shapefile records without usable geometry",
			zap.String("path", path), zap.Int("skipped", skipped))
	}
	return features, nil
}

func (i *Importer) parseGeoJSON(path string) ([]model.LayerFeature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "layers: read geojson %s", path)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrapf(err, "layers: decode geojson %s", path)
	}

	var features []model.LayerFeature
	var skipped int
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			skipped++
			continue
		}
		lat, lng, ok := geomCenter(f.Geometry)
		if !ok {
			skipped++
			continue
		}
		geometry, err := geojson.Marshal(f.Geometry)
		if err != nil {
			skipped++
			continue
		}

		features = append(features, model.LayerFeature{
			Name:      featureName(f.Properties),
			Latitude:  lat,
			Longitude: lng,
			Geometry:  geometry,
		})
	}

	if skipped > 0 {
		i.logger.Warn("skipped geojson features without usable geometry",
			zap.String("path", path), zap.Int("skipped", skipped))
	}
	return features, nil
}

func featureName(props map[string]any) string {
	for _, key := range nameFields {
		for k, v := range props {
			if strings.ToLower(k) != key {
				continue
			}
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// extractLayerArchive unpacks a ZIP drop and returns the path of the first
// .shp or .geojson member.
func extractLayerArchive(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrapf(err, "layers: open archive %s", zipPath)
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		if f.FileInfo().IsDir() || strings.Contains(f.Name, "..") {
			continue
		}
		dest := filepath.Join(destDir, filepath.Base(f.Name))
		if err := extractZIPMember(f, dest); err != nil {
			return "", err
		}
	}

	for _, ext := range []string{".shp", ".geojson", ".json"} {
		if path, err := findFileByExt(destDir, ext); err == nil {
			return path, nil
		}
	}
	return "", eris.Errorf("layers: no shapefile or geojson in %s", zipPath)
}

func extractZIPMember(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "layers: open archive member %s", f.Name)
	}
	defer func() { _ = rc.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrap(err, "layers: create extracted file")
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, rc); err != nil {
		return eris.Wrapf(err, "layers: extract %s", f.Name)
	}
	return nil
}

func findFileByExt(dir, ext string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ext) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", eris.Wrap(err, "layers: scan extracted files")
	}
	if found == "" {
		return "", eris.Errorf("layers: no %s file found in %s", ext, dir)
	}
	return found, nil
}
