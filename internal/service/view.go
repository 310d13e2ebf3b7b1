package service

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-field/internal/geo"
	"github.com/joeblew999/plat-field/internal/models"
)

// viewLocked builds a snapshot of the current state. Callers hold s.mu.
func (s *Session) viewLocked() *View {
	st := &s.st
	v := &View{
		Generation:      st.generation,
		Mode:            st.mode,
		SeasonField:     st.season,
		SelectedMapType: st.mapType,
		MapTypes:        append([]string{}, st.mapTypes...),
		AvailableDates:  dateOptions(st.catalog),
		SelectedDate:    st.selectedDate,
		Loading:         st.loading > 0,
	}
	if !statusExpired(st.status, s.now()) {
		status := *st.status
		v.Status = &status
	}

	if st.polygon != nil {
		style := PolygonStyle
		if st.mode == ModeMapOverlay && st.overlay != nil && st.overlay.URL != "" {
			style.FillOpacity = 0
		}
		v.Polygon = &PolygonLayer{Field: st.polygon, Style: style}
	}

	if st.mode == ModeMapOverlay && st.overlay != nil {
		if st.overlay.URL != "" && st.polygon != nil {
			v.Overlay = &OverlayLayer{
				URL:     st.overlay.URL,
				Bounds:  boundArray(st.polygon.Bound()),
				Opacity: OverlayOpacity,
				MapType: st.overlay.MapType,
				Date:    st.selectedDate,
			}
		}
		if st.overlay.HasHistogram() {
			v.Histogram = &HistogramPanel{
				MapType: st.overlay.MapType,
				Date:    st.selectedDate,
				Buckets: append([]models.HistogramBucket(nil), st.overlay.Histogram.Buckets...),
				Legend:  st.overlay.Legend,
			}
		}
	}

	if st.mode == ModeAnalytics {
		v.Dashboard = dashboardFor(st.analytics, st.pending == ModeAnalytics)
	}

	if st.bbox != nil {
		v.Fields = fieldsLayer(st.bbox, st.bboxMode)
	}

	ready := st.polygon != nil && st.season != nil
	v.Controls = Controls{
		MapsVisible:      ready,
		MapsEnabled:      ready && st.pending == "" && st.mode != ModeAnalytics,
		MapsActive:       st.mode == ModeMapOverlay,
		AnalyticsVisible: ready,
		AnalyticsEnabled: ready && st.pending != ModeMapOverlay,
		AnalyticsActive:  st.mode == ModeAnalytics,
		MapTypeVisible:   st.mode == ModeMapOverlay,
		DateVisible:      st.mode == ModeMapOverlay && len(st.catalog) > 0,
		BBoxModeVisible:  st.bbox != nil,
	}
	return v
}

func dateOptions(entries []models.CatalogEntry) []DateOption {
	out := make([]DateOption, 0, len(entries))
	for _, e := range entries {
		out = append(out, DateOption{
			Date:            e.Date,
			Sensor:          e.Sensor,
			ImageID:         e.ImageID,
			CoveragePercent: e.CoveragePercent,
		})
	}
	return out
}

func fieldsLayer(b *bboxState, mode geo.FilterMode) *FieldsLayer {
	visible := geo.FilterFeatures(b.features, b.bound, mode)
	layer := &FieldsLayer{
		BBox:     boundArray(b.bound),
		Mode:     mode,
		Total:    len(b.features),
		Features: make([]FieldFeature, 0, len(visible)),
	}
	for _, f := range visible {
		ff := FieldFeature{ID: featureID(f), Feature: f, Style: BBoxStyle, Creation: b.creation[f]}
		switch ff.Creation {
		case CreationCreated:
			ff.Style = CreatedStyle
		case CreationFailed:
			ff.Style = FailedStyle
		}
		layer.Features = append(layer.Features, ff)
	}
	return layer
}

func dashboardFor(series *models.AnalyticsSeries, loading bool) *Dashboard {
	d := &Dashboard{Loading: loading, Cards: []Card{}, CategoryChart: []ChartSeries{}}
	if series == nil {
		return d
	}
	d.Series = series
	c := series.Cultivation
	d.Cards = []Card{
		{Label: "Current status", Value: c.Status},
		{Label: "Cultivation cycles", Value: strconv.Itoa(c.CultivationCycles)},
		{Label: "Harvest cycles", Value: strconv.Itoa(c.HarvestCycles)},
		{Label: "Idle periods", Value: strconv.Itoa(c.IdlePeriods)},
		{Label: "Acquisitions", Value: strconv.Itoa(len(series.Points))},
	}
	if n := len(series.Points); n > 0 {
		d.Cards = append(d.Cards, Card{Label: "Latest mean " + series.MapType, Value: fmt.Sprintf("%.2f", series.Points[n-1].Mean)})
	}

	d.MeanChart = ChartSeries{Label: "Mean " + series.MapType, Points: make([]ChartPoint, 0, len(series.Points))}
	cats := []ChartSeries{{Label: "Poor"}, {Label: "Moderate"}, {Label: "Good"}, {Label: "Excellent"}}
	for _, p := range series.Points {
		d.MeanChart.Points = append(d.MeanChart.Points, ChartPoint{X: p.Date, Y: p.Mean})
		cats[0].Points = append(cats[0].Points, ChartPoint{X: p.Date, Y: p.Categories.Poor})
		cats[1].Points = append(cats[1].Points, ChartPoint{X: p.Date, Y: p.Categories.Moderate})
		cats[2].Points = append(cats[2].Points, ChartPoint{X: p.Date, Y: p.Categories.Good})
		cats[3].Points = append(cats[3].Points, ChartPoint{X: p.Date, Y: p.Categories.Excellent})
	}
	d.CategoryChart = cats
	return d
}

func boundArray(b orb.Bound) [4]float64 {
	return [4]float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()}
}

func featureID(f *geojson.Feature) string {
	if f == nil {
		return ""
	}
	if id, ok := f.Properties["id"]; ok && id != nil {
		return fmt.Sprint(id)
	}
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	return ""
}

// Instruction ops understood by the presentation adapter.
const (
	OpDrawPolygon    = "draw_polygon"
	OpStylePolygon   = "style_polygon"
	OpRemovePolygon  = "remove_polygon"
	OpDrawFields     = "draw_fields"
	OpRemoveFields   = "remove_fields"
	OpDrawOverlay    = "draw_overlay"
	OpRemoveOverlay  = "remove_overlay"
	OpShowHistogram  = "show_histogram"
	OpHideHistogram  = "hide_histogram"
	OpRenderCharts   = "render_dashboard"
	OpHideDashboard  = "hide_dashboard"
	OpUpdateControls = "update_controls"
	OpShowStatus     = "show_status"
	OpSetLoading     = "set_loading"
)

// Instruction is one render step derived from two consecutive views.
type Instruction struct {
	Op   string `json:"op"`
	Data any    `json:"data,omitempty"`
}

// Diff returns the instructions that turn prev into next. A nil prev is an
// empty map. Removals come before additions so layers are replaced, never
// stacked.
func Diff(prev, next *View) []Instruction {
	if prev == nil {
		prev = &View{}
	}
	var out []Instruction

	// removals
	if prev.Overlay != nil && (next.Overlay == nil || *prev.Overlay != *next.Overlay) {
		out = append(out, Instruction{Op: OpRemoveOverlay})
	}
	if prev.Histogram != nil && next.Histogram == nil {
		out = append(out, Instruction{Op: OpHideHistogram})
	}
	if prev.Dashboard != nil && next.Dashboard == nil {
		out = append(out, Instruction{Op: OpHideDashboard})
	}
	if prev.Polygon != nil && (next.Polygon == nil || prev.Polygon.Field != next.Polygon.Field) {
		out = append(out, Instruction{Op: OpRemovePolygon})
	}
	if prev.Fields != nil && !reflect.DeepEqual(prev.Fields, next.Fields) {
		out = append(out, Instruction{Op: OpRemoveFields})
	}

	// additions
	switch {
	case next.Polygon == nil:
	case prev.Polygon == nil || prev.Polygon.Field != next.Polygon.Field:
		out = append(out, Instruction{Op: OpDrawPolygon, Data: next.Polygon})
	case prev.Polygon.Style != next.Polygon.Style:
		out = append(out, Instruction{Op: OpStylePolygon, Data: next.Polygon.Style})
	}
	if next.Fields != nil && !reflect.DeepEqual(prev.Fields, next.Fields) {
		out = append(out, Instruction{Op: OpDrawFields, Data: next.Fields})
	}
	if next.Overlay != nil && (prev.Overlay == nil || *prev.Overlay != *next.Overlay) {
		out = append(out, Instruction{Op: OpDrawOverlay, Data: next.Overlay})
	}
	if next.Histogram != nil && !reflect.DeepEqual(prev.Histogram, next.Histogram) {
		out = append(out, Instruction{Op: OpShowHistogram, Data: next.Histogram})
	}
	if next.Dashboard != nil && !reflect.DeepEqual(prev.Dashboard, next.Dashboard) {
		out = append(out, Instruction{Op: OpRenderCharts, Data: next.Dashboard})
	}

	if prev.Controls != next.Controls {
		out = append(out, Instruction{Op: OpUpdateControls, Data: next.Controls})
	}
	if next.Status != nil && (prev.Status == nil || *prev.Status != *next.Status) {
		out = append(out, Instruction{Op: OpShowStatus, Data: next.Status})
	}
	if prev.Loading != next.Loading {
		out = append(out, Instruction{Op: OpSetLoading, Data: next.Loading})
	}
	return out
}
