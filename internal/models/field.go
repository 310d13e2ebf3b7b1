// Package models contains the field, imagery and analytics types shared by
// the gateway, the workflow service and the API.
package models

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

const (
	sqMetersPerHectare = 10000.0
	sqMetersPerAcre    = 4046.8564224
)

// FieldPolygon is a delineated field returned for a map click.
type FieldPolygon struct {
	ID        string           `json:"id" doc:"Provider field identifier" example:"F1"`
	AreaM2    float64          `json:"areaM2" doc:"Area in square meters"`
	AreaAcres float64          `json:"areaAcres" doc:"Area in acres"`
	AreaHa    float64          `json:"areaHa" doc:"Area in hectares"`
	Feature   *geojson.Feature `json:"feature" doc:"GeoJSON feature (Polygon or MultiPolygon, WGS84)"`
}

// Bound returns the lon/lat bounding box of the field geometry.
func (p *FieldPolygon) Bound() orb.Bound {
	if p == nil || p.Feature == nil || p.Feature.Geometry == nil {
		return orb.Bound{}
	}
	return p.Feature.Geometry.Bound()
}

// FieldFromFeature builds a FieldPolygon from a delineation feature. Areas the
// provider omits are computed from the geometry.
func FieldFromFeature(f *geojson.Feature) (*FieldPolygon, error) {
	if f == nil || f.Geometry == nil {
		return nil, errors.New("feature has no geometry")
	}
	switch f.Geometry.(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return nil, fmt.Errorf("unsupported geometry type %s", f.Geometry.GeoJSONType())
	}

	p := &FieldPolygon{
		ID:        propString(f.Properties, "id"),
		AreaM2:    propFloat(f.Properties, "area"),
		AreaAcres: propFloat(f.Properties, "area_acres"),
		AreaHa:    propFloat(f.Properties, "area_ha"),
		Feature:   f,
	}
	if p.ID == "" {
		p.ID = idString(f.ID)
	}
	if p.AreaM2 == 0 {
		p.AreaM2 = geo.Area(f.Geometry)
	}
	if p.AreaHa == 0 {
		p.AreaHa = p.AreaM2 / sqMetersPerHectare
	}
	if p.AreaAcres == 0 {
		p.AreaAcres = p.AreaM2 / sqMetersPerAcre
	}
	return p, nil
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

func propString(props geojson.Properties, key string) string {
	if props == nil {
		return ""
	}
	return idString(props[key])
}

// propFloat accepts numbers and numeric strings; the delineation API has sent both.
func propFloat(props geojson.Properties, key string) float64 {
	if props == nil {
		return 0
	}
	switch v := props[key].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}
