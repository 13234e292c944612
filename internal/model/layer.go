package model

import (
	"encoding/json"
	"time"
)

// AssetLayer is a named collection of GIS features imported from a shapefile
// or GeoJSON drop. The spatial aggregator matches layer names against the
// critical-infrastructure keyword set.
type AssetLayer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// LayerFeature is one geometry in an asset layer. Latitude/Longitude hold a
// representative point (the centroid for polygons) used for cheap radius
// prefilters; Geometry keeps the full shape.
type LayerFeature struct {
	ID        string          `json:"id"`
	LayerID   string          `json:"layer_id"`
	Name      string          `json:"name"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Geometry  json.RawMessage `json:"geometry,omitempty"`
}
