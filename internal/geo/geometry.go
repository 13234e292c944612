// Package geo provides in-process geometry helpers for boundary evaluation.
// Geometry is stored as GeoJSON in lon/lat (EPSG:4326); containment runs
// in-process so one corrupt polygon can be skipped without failing a query.
package geo

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/xy"
)

// earthRadiusMeters is the mean Earth radius used for great-circle distance.
const earthRadiusMeters = 6371008.8

// Decode parses a GeoJSON geometry and rejects anything that is not a
// Polygon or MultiPolygon.
func Decode(raw json.RawMessage) (geom.T, error) {
	if len(raw) == 0 {
		return nil, eris.New("geo: empty geometry")
	}

	var g geom.T
	if err := geojson.Unmarshal(raw, &g); err != nil {
		return nil, eris.Wrap(err, "geo: decode geojson")
	}

	switch g.(type) {
	case *geom.Polygon, *geom.MultiPolygon:
		return g, nil
	default:
		return nil, eris.Errorf("geo: unsupported geometry type %T", g)
	}
}

// Contains reports whether the lon/lat point lies inside the polygon or
// multipolygon, honoring interior rings as holes.
func Contains(g geom.T, lng, lat float64) bool {
	c := geom.Coord{lng, lat}
	switch t := g.(type) {
	case *geom.Polygon:
		return polygonContains(t, c)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			if polygonContains(t.Polygon(i), c) {
				return true
			}
		}
	}
	return false
}

func polygonContains(p *geom.Polygon, c geom.Coord) bool {
	if p.NumLinearRings() == 0 {
		return false
	}
	if !xy.IsPointInRing(p.Layout(), c, p.LinearRing(0).FlatCoords()) {
		return false
	}
	// Interior rings are holes.
	for i := 1; i < p.NumLinearRings(); i++ {
		if xy.IsPointInRing(p.Layout(), c, p.LinearRing(i).FlatCoords()) {
			return false
		}
	}
	return true
}

// Haversine returns the great-circle distance in meters between two lon/lat
// points. The Postgres backend uses PostGIS geography for this; the SQLite
// backend and spatial fallbacks compute it here.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// BBox returns a bounding box (minLat, minLng, maxLat, maxLng) covering a
// radius in meters around a point. Used to prefilter rows before an exact
// haversine check. The longitude span widens toward the poles.
func BBox(lat, lng, meters float64) (minLat, minLng, maxLat, maxLng float64) {
	dLat := meters / 111_320.0
	cos := math.Cos(lat * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	dLng := meters / (111_320.0 * cos)
	return lat - dLat, lng - dLng, lat + dLat, lng + dLng
}
