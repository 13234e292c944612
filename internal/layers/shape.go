package layers

import (
	"encoding/json"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// shapeToGeoJSON converts a go-shp geometry to a GeoJSON geometry document.
// Returns nil, nil for unsupported or nil shapes.
func shapeToGeoJSON(shape shp.Shape) (json.RawMessage, error) {
	g := shapeToGeom(shape)
	if g == nil {
		return nil, nil
	}

	data, err := geojson.Marshal(g)
	if err != nil {
		return nil, eris.Wrap(err, "layers: encode geojson")
	}
	return data, nil
}

func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})

	case *shp.PolyLine:
		return polyLineToMultiLineString(s)

	case *shp.Polygon:
		return polygonToMultiPolygon(s)

	default:
		return nil
	}
}

// representativePoint returns a point standing in for the whole shape: the
// shape itself for points, the bounding-box center otherwise. The exact
// geometry stays in the GeoJSON column; this point only feeds the radius
// prefilter.
func representativePoint(shape shp.Shape) (lat, lng float64, ok bool) {
	switch s := shape.(type) {
	case *shp.Point:
		return s.Y, s.X, true
	case *shp.PolyLine:
		return boxCenter(s.Box)
	case *shp.Polygon:
		return boxCenter(s.Box)
	default:
		return 0, 0, false
	}
}

func boxCenter(b shp.Box) (lat, lng float64, ok bool) {
	if b.MaxX < b.MinX || b.MaxY < b.MinY {
		return 0, 0, false
	}
	return (b.MinY + b.MaxY) / 2, (b.MinX + b.MaxX) / 2, true
}

// geomCenter returns the bounding-box center of a decoded GeoJSON geometry.
func geomCenter(g geom.T) (lat, lng float64, ok bool) {
	if g == nil || g.Empty() {
		return 0, 0, false
	}
	b := g.Bounds()
	return (b.Min(1) + b.Max(1)) / 2, (b.Min(0) + b.Max(0)) / 2, true
}

func polyLineToMultiLineString(pl *shp.PolyLine) geom.T {
	if pl == nil || pl.NumParts == 0 || len(pl.Points) == 0 {
		return nil
	}

	mls := geom.NewMultiLineString(geom.XY)
	for i := int32(0); i < pl.NumParts; i++ {
		start, end := partRange(pl.Parts, i, pl.NumParts, len(pl.Points))
		ls := geom.NewLineStringFlat(geom.XY, flatPoints(pl.Points[start:end]))
		if err := mls.Push(ls); err != nil {
			zap.L().Debug("layers: skipping malformed linestring part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

func polygonToMultiPolygon(p *shp.Polygon) geom.T {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for i := int32(0); i < p.NumParts; i++ {
		start, end := partRange(p.Parts, i, p.NumParts, len(p.Points))
		ring := geom.NewLinearRingFlat(geom.XY, flatPoints(p.Points[start:end]))
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("layers: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("layers: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

func partRange(parts []int32, i, numParts int32, total int) (start, end int32) {
	start = parts[i]
	if i+1 < numParts {
		return start, parts[i+1]
	}
	return start, int32(total)
}

func flatPoints(points []shp.Point) []float64 {
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}
