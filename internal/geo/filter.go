// Package geo holds the pure geometry helpers used by field selection.
package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// FilterMode selects how bbox results are narrowed.
type FilterMode string

const (
	// Exclusive keeps every feature the provider returned for the box.
	Exclusive FilterMode = "exclusive"
	// Inclusive keeps features whose every vertex lies inside the box.
	Inclusive FilterMode = "inclusive"
)

// ParseFilterMode maps unknown values to Exclusive.
func ParseFilterMode(s string) FilterMode {
	if FilterMode(s) == Inclusive {
		return Inclusive
	}
	return Exclusive
}

// FilterFeatures returns the subset of features visible under mode. The
// input slice is never modified.
func FilterFeatures(features []*geojson.Feature, box orb.Bound, mode FilterMode) []*geojson.Feature {
	out := make([]*geojson.Feature, 0, len(features))
	for _, f := range features {
		if f == nil || f.Geometry == nil {
			continue
		}
		if mode == Inclusive && !AllVerticesInside(f.Geometry, box) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// AllVerticesInside reports whether every vertex of every ring of g lies in
// box, edges included. Geometries other than polygons never qualify.
func AllVerticesInside(g orb.Geometry, box orb.Bound) bool {
	var polys []orb.Polygon
	switch v := g.(type) {
	case orb.Polygon:
		polys = []orb.Polygon{v}
	case orb.MultiPolygon:
		polys = v
	default:
		return false
	}
	if len(polys) == 0 {
		return false
	}
	for _, p := range polys {
		for _, ring := range p {
			for _, pt := range ring {
				if !box.Contains(pt) {
					return false
				}
			}
		}
	}
	return true
}

// Contains reports whether pt falls inside a polygonal geometry.
func Contains(g orb.Geometry, pt orb.Point) bool {
	switch v := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(v, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(v, pt)
	}
	return false
}

// FeatureAt returns the index of the first feature containing pt, or -1.
func FeatureAt(features []*geojson.Feature, pt orb.Point) int {
	for i, f := range features {
		if f != nil && Contains(f.Geometry, pt) {
			return i
		}
	}
	return -1
}
