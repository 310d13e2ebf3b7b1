// Package service owns the field selection and overlay workflow for a map
// view: which field is selected, which imagery is shown, and the immutable
// View snapshots the presentation layer renders.
package service

import (
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-field/internal/geo"
	"github.com/joeblew999/plat-field/internal/models"
)

// Mode is the display mode of the overlay state machine.
type Mode string

const (
	ModeHidden     Mode = "hidden"
	ModeMapOverlay Mode = "map_overlay"
	ModeAnalytics  Mode = "analytics"
)

// Style is the stroke and fill of a vector layer.
type Style struct {
	Color       string  `json:"color" doc:"Stroke and fill color (CSS)" example:"#3388ff"`
	Weight      float64 `json:"weight" doc:"Stroke width in pixels" example:"3"`
	FillOpacity float64 `json:"fillOpacity" minimum:"0" maximum:"1" doc:"Fill opacity (0-1)" example:"0.3"`
}

var (
	PolygonStyle = Style{Color: "#3388ff", Weight: 3, FillOpacity: 0.3}
	BBoxStyle    = Style{Color: "#71a3c1", Weight: 2, FillOpacity: 0.5}
	CreatedStyle = Style{Color: "#22c55e", Weight: 3, FillOpacity: 0.7}
	FailedStyle  = Style{Color: "#ef4444", Weight: 3, FillOpacity: 0.7}
)

const (
	OverlayOpacity = 0.7
	// AnalyticsMapType is always used for the analytics pipeline.
	AnalyticsMapType = "NDVI"
)

// StatusKind classifies a status message.
type StatusKind string

const (
	StatusError   StatusKind = "error"
	StatusInfo    StatusKind = "info"
	StatusSuccess StatusKind = "success"
)

// Status is a transient user message. Clients dismiss it at Expires.
type Status struct {
	Kind    StatusKind `json:"kind" enum:"error,info,success"`
	Message string     `json:"message"`
	Expires time.Time  `json:"expires"`
}

// Creation states of a bbox field.
const (
	CreationNone    = ""
	CreationCreated = "created"
	CreationFailed  = "failed"
)

// View is an immutable snapshot of everything the map view shows. A new View
// is published after every state change; it is never mutated afterwards.
type View struct {
	Generation      uint64              `json:"generation" doc:"Selection generation this view belongs to"`
	Mode            Mode                `json:"mode" enum:"hidden,map_overlay,analytics"`
	Polygon         *PolygonLayer       `json:"polygon,omitempty"`
	Fields          *FieldsLayer        `json:"fields,omitempty"`
	Overlay         *OverlayLayer       `json:"overlay,omitempty"`
	Histogram       *HistogramPanel     `json:"histogram,omitempty"`
	Dashboard       *Dashboard          `json:"dashboard,omitempty"`
	SeasonField     *models.SeasonField `json:"seasonField,omitempty"`
	Controls        Controls            `json:"controls"`
	SelectedMapType string              `json:"selectedMapType" example:"NDVI"`
	MapTypes        []string            `json:"mapTypes"`
	AvailableDates  []DateOption        `json:"availableDates"`
	SelectedDate    string              `json:"selectedDate,omitempty"`
	Status          *Status             `json:"status,omitempty"`
	Loading         bool                `json:"loading"`
}

// PolygonLayer is the single selected field.
type PolygonLayer struct {
	Field *models.FieldPolygon `json:"field"`
	Style Style                `json:"style"`
}

// FieldsLayer is the visible result of a bounding box selection.
type FieldsLayer struct {
	BBox     [4]float64     `json:"bbox" doc:"minLon, minLat, maxLon, maxLat"`
	Mode     geo.FilterMode `json:"mode" enum:"inclusive,exclusive"`
	Total    int            `json:"total" doc:"Fields returned before filtering"`
	Features []FieldFeature `json:"features"`
}

// FieldFeature is one drawn bbox field.
type FieldFeature struct {
	ID       string           `json:"id"`
	Feature  *geojson.Feature `json:"feature"`
	Style    Style            `json:"style"`
	Creation string           `json:"creation,omitempty" enum:"created,failed"`
}

// OverlayLayer is the raster drawn over the selected field.
type OverlayLayer struct {
	URL     string     `json:"url"`
	Bounds  [4]float64 `json:"bounds" doc:"minLon, minLat, maxLon, maxLat"`
	Opacity float64    `json:"opacity"`
	MapType string     `json:"mapType"`
	Date    string     `json:"date,omitempty"`
}

// HistogramPanel shows the bucketed statistics of the active overlay.
type HistogramPanel struct {
	MapType string                   `json:"mapType"`
	Date    string                   `json:"date,omitempty"`
	Buckets []models.HistogramBucket `json:"buckets"`
	Legend  *models.LegendStats      `json:"legend,omitempty"`
}

// Dashboard is the analytics view: status cards and two charts.
type Dashboard struct {
	Loading       bool                    `json:"loading"`
	Cards         []Card                  `json:"cards"`
	MeanChart     ChartSeries             `json:"meanChart" doc:"Mean index over time, oldest first"`
	CategoryChart []ChartSeries           `json:"categoryChart" doc:"Stacked category percentages over time"`
	Series        *models.AnalyticsSeries `json:"series,omitempty"`
}

type Card struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ChartSeries is one labelled line or bar stack.
type ChartSeries struct {
	Label  string       `json:"label"`
	Points []ChartPoint `json:"points"`
}

type ChartPoint struct {
	X string  `json:"x"`
	Y float64 `json:"y"`
}

// Controls are the visibility and enabled flags of the map controls.
type Controls struct {
	MapsVisible      bool `json:"mapsVisible"`
	MapsEnabled      bool `json:"mapsEnabled"`
	MapsActive       bool `json:"mapsActive"`
	AnalyticsVisible bool `json:"analyticsVisible"`
	AnalyticsEnabled bool `json:"analyticsEnabled"`
	AnalyticsActive  bool `json:"analyticsActive"`
	MapTypeVisible   bool `json:"mapTypeVisible"`
	DateVisible      bool `json:"dateVisible"`
	BBoxModeVisible  bool `json:"bboxModeVisible"`
}

// DateOption is one selectable acquisition.
type DateOption struct {
	Date            string  `json:"date" example:"2024-06-01"`
	Sensor          string  `json:"sensor" example:"S2"`
	ImageID         string  `json:"imageId"`
	CoveragePercent float64 `json:"coveragePercent"`
}
