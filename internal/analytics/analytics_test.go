package analytics

import (
	"math"
	"testing"

	"github.com/joeblew999/plat-field/internal/models"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCategory(t *testing.T) {
	tests := []struct {
		v    float64
		want string
	}{
		{-0.1, "Poor"},
		{0.19, "Poor"},
		{0.2, "Moderate"},
		{0.4, "Good"},
		{0.59, "Good"},
		{0.6, "Excellent"},
		{0.95, "Excellent"},
	}
	for _, tt := range tests {
		if got := Category(tt.v); got != tt.want {
			t.Errorf("Category(%v) = %s, want %s", tt.v, got, tt.want)
		}
	}
}

func TestPointFromHistogram(t *testing.T) {
	img := &models.OverlayImage{Histogram: &models.Histogram{Buckets: []models.HistogramBucket{
		{Min: 0.0, Max: 0.2, PixelCount: 25},
		{Min: 0.4, Max: 0.6, PixelCount: 25},
		{Min: 0.6, Max: 0.8, PixelCount: 50},
	}}}

	p, ok := PointFrom("2024-06-01", "S2", img)
	if !ok {
		t.Fatal("expected a point")
	}
	// midpoints 0.1, 0.5, 0.7 weighted 1:1:2
	if !approx(p.Mean, 0.5) {
		t.Errorf("Mean = %v, want 0.5", p.Mean)
	}
	if p.Min != 0 || p.Max != 0.8 {
		t.Errorf("Min/Max = %v/%v", p.Min, p.Max)
	}
	wantStd := math.Sqrt(0.25*0.16 + 0.25*0 + 0.5*0.04)
	if !approx(p.StdDev, wantStd) {
		t.Errorf("StdDev = %v, want %v", p.StdDev, wantStd)
	}
	c := p.Categories
	if !approx(c.Poor, 25) || !approx(c.Good, 25) || !approx(c.Excellent, 50) || c.Moderate != 0 {
		t.Errorf("Categories = %+v", c)
	}
}

func TestPointFromLegendFallback(t *testing.T) {
	img := &models.OverlayImage{Legend: &models.LegendStats{Min: 0.1, Mean: 0.45, Max: 0.8}}
	p, ok := PointFrom("2024-06-01", "", img)
	if !ok || p.Mean != 0.45 || p.Categories.Good != 100 {
		t.Fatalf("point = %+v, ok = %v", p, ok)
	}
	if _, ok := PointFrom("2024-06-01", "", &models.OverlayImage{}); ok {
		t.Fatal("image without statistics should be skipped")
	}
	if _, ok := PointFrom("2024-06-01", "", nil); ok {
		t.Fatal("nil image should be skipped")
	}
}

func legendSample(date string, mean float64) Sample {
	return Sample{
		Entry: models.CatalogEntry{Date: date},
		Image: &models.OverlayImage{Legend: &models.LegendStats{Mean: mean, Min: mean, Max: mean}},
	}
}

func TestBuildSortsAscending(t *testing.T) {
	s := Build("SF1", "NDVI", []Sample{
		legendSample("2024-06-01", 0.7),
		legendSample("2024-04-01", 0.2),
		{Entry: models.CatalogEntry{Date: "2024-05-01"}},
		legendSample("2024-05-15", 0.5),
	})
	if len(s.Points) != 3 {
		t.Fatalf("points = %d, want 3", len(s.Points))
	}
	for i, want := range []string{"2024-04-01", "2024-05-15", "2024-06-01"} {
		if s.Points[i].Date != want {
			t.Errorf("point %d = %s, want %s", i, s.Points[i].Date, want)
		}
	}
	if s.SeasonFieldID != "SF1" || s.MapType != "NDVI" {
		t.Errorf("series = %+v", s)
	}
}

func TestSummarize(t *testing.T) {
	points := func(means ...float64) []models.AnalyticsPoint {
		out := make([]models.AnalyticsPoint, len(means))
		for i, m := range means {
			out[i] = models.AnalyticsPoint{Date: string(rune('A' + i)), Mean: m}
		}
		return out
	}

	tests := []struct {
		name        string
		means       []float64
		cultivation int
		harvests    int
		idle        int
		status      string
	}{
		{"empty", nil, 0, 0, 0, "No data"},
		{"one season", []float64{0.1, 0.4, 0.7, 0.8, 0.2}, 1, 1, 2, "Idle"},
		{"two seasons", []float64{0.1, 0.6, 0.1, 0.15, 0.7, 0.75}, 2, 1, 2, "Growing"},
		{"noise in transition", []float64{0.6, 0.45, 0.55, 0.52}, 1, 0, 0, "Mature"},
		{"emerging", []float64{0.1, 0.35}, 0, 0, 1, "Emerging"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(points(tt.means...))
			if got.CultivationCycles != tt.cultivation || got.HarvestCycles != tt.harvests || got.IdlePeriods != tt.idle {
				t.Errorf("cycles = %d/%d/%d, want %d/%d/%d", got.CultivationCycles, got.HarvestCycles, got.IdlePeriods,
					tt.cultivation, tt.harvests, tt.idle)
			}
			if got.Status != tt.status {
				t.Errorf("status = %q, want %q", got.Status, tt.status)
			}
			if got.Timeline == "" {
				t.Error("empty timeline")
			}
		})
	}
}
