package models

import (
	"sort"
	"time"
)

// MapRef is one map type offered for an acquisition.
type MapRef struct {
	Type string `json:"type" doc:"Map type" example:"NDVI"`
	ID   string `json:"id,omitempty" doc:"Provider identifier for this map type, when sent"`
}

// CatalogEntry is one imagery acquisition from the sensor catalog.
type CatalogEntry struct {
	Date              string    `json:"date" doc:"Acquisition date (YYYY-MM-DD)" example:"2024-06-01"`
	AcquiredAt        time.Time `json:"acquiredAt" doc:"Acquisition timestamp"`
	Sensor            string    `json:"sensor" doc:"Sensor name" example:"S2"`
	ImageID           string    `json:"imageId" doc:"Image identifier used to request overlays"`
	CoveragePercent   float64   `json:"coveragePercent" doc:"Field coverage of the acquisition"`
	SpatialResolution float64   `json:"spatialResolution,omitempty" doc:"Ground resolution in meters"`
	Maps              []MapRef  `json:"maps" doc:"Available map types"`
}

// HasMap reports whether the acquisition offers mapType. An entry that lists
// no maps is treated as offering everything.
func (e CatalogEntry) HasMap(mapType string) bool {
	if len(e.Maps) == 0 {
		return true
	}
	for _, m := range e.Maps {
		if m.Type == mapType {
			return true
		}
	}
	return false
}

// MapTypes returns the offered map type names in catalog order.
func (e CatalogEntry) MapTypes() []string {
	types := make([]string, 0, len(e.Maps))
	for _, m := range e.Maps {
		types = append(types, m.Type)
	}
	return types
}

// DedupeCatalog drops repeated (date, sensor) pairs, keeping the first one
// seen, and orders the result newest first.
func DedupeCatalog(entries []CatalogEntry) []CatalogEntry {
	seen := make(map[string]bool, len(entries))
	out := make([]CatalogEntry, 0, len(entries))
	for _, e := range entries {
		key := e.Date + "|" + e.Sensor
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].AcquiredAt.IsZero() && !out[j].AcquiredAt.IsZero() {
			return out[i].AcquiredAt.After(out[j].AcquiredAt)
		}
		return out[i].Date > out[j].Date
	})
	return out
}

// OverlayImage is the rendered raster for one (image, season field, map type).
type OverlayImage struct {
	URL           string       `json:"url" doc:"Direct PNG link"`
	MapType       string       `json:"mapType" example:"NDVI"`
	ImageID       string       `json:"imageId"`
	SeasonFieldID string       `json:"seasonFieldId"`
	Histogram     *Histogram   `json:"histogram,omitempty"`
	Legend        *LegendStats `json:"legend,omitempty"`
}

// HasHistogram reports whether bucketed histogram data is present.
func (o *OverlayImage) HasHistogram() bool {
	return o != nil && o.Histogram != nil && len(o.Histogram.Buckets) > 0
}

type Histogram struct {
	Buckets []HistogramBucket `json:"buckets"`
}

// HistogramBucket covers index values in [Min, Max).
type HistogramBucket struct {
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Color      string  `json:"color"`
	PixelCount int     `json:"pixelCount"`
	Area       float64 `json:"area" doc:"Area covered by the bucket in hectares"`
}

// LegendStats are summary statistics sent with a dynamic legend.
type LegendStats struct {
	Min  float64 `json:"min"`
	Mean float64 `json:"mean"`
	Max  float64 `json:"max"`
}
