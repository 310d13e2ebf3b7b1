// Package analytics derives vegetation time series and cultivation summaries
// from per-acquisition overlay statistics.
package analytics

import (
	"math"
	"sort"
	"strings"

	"github.com/joeblew999/plat-field/internal/models"
)

// Category bounds on the index value.
const (
	ModerateFrom  = 0.2
	GoodFrom      = 0.4
	ExcellentFrom = 0.6
)

// Sample pairs a catalog acquisition with the image statistics fetched for it.
type Sample struct {
	Entry models.CatalogEntry
	Image *models.OverlayImage
}

// Category names the vegetation class of v.
func Category(v float64) string {
	switch {
	case v < ModerateFrom:
		return "Poor"
	case v < GoodFrom:
		return "Moderate"
	case v < ExcellentFrom:
		return "Good"
	default:
		return "Excellent"
	}
}

// PointFrom summarizes one image. Histogram buckets are preferred; legend
// statistics are the fallback. ok is false when the image carries neither.
func PointFrom(date, sensor string, img *models.OverlayImage) (p models.AnalyticsPoint, ok bool) {
	p.Date, p.Sensor = date, sensor
	if img.HasHistogram() {
		return histogramPoint(p, img.Histogram.Buckets)
	}
	if img != nil && img.Legend != nil {
		l := img.Legend
		p.Mean, p.Min, p.Max = l.Mean, l.Min, l.Max
		addCategory(&p.Categories, l.Mean, 100)
		return p, true
	}
	return p, false
}

func histogramPoint(p models.AnalyticsPoint, buckets []models.HistogramBucket) (models.AnalyticsPoint, bool) {
	weights := bucketWeights(buckets)
	var total float64
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		return p, false
	}

	p.Min, p.Max = math.Inf(1), math.Inf(-1)
	var mean float64
	for i, b := range buckets {
		if weights[i] == 0 {
			continue
		}
		mid := (b.Min + b.Max) / 2
		mean += mid * weights[i] / total
		p.Min = math.Min(p.Min, b.Min)
		p.Max = math.Max(p.Max, b.Max)
		addCategory(&p.Categories, mid, 100*weights[i]/total)
	}

	var variance float64
	for i, b := range buckets {
		d := (b.Min+b.Max)/2 - mean
		variance += d * d * weights[i] / total
	}
	p.Mean = mean
	p.StdDev = math.Sqrt(variance)
	return p, true
}

// bucketWeights uses pixel counts, then areas, then equal weights.
func bucketWeights(buckets []models.HistogramBucket) []float64 {
	w := make([]float64, len(buckets))
	var pixels, area float64
	for _, b := range buckets {
		pixels += float64(b.PixelCount)
		area += b.Area
	}
	for i, b := range buckets {
		switch {
		case pixels > 0:
			w[i] = float64(b.PixelCount)
		case area > 0:
			w[i] = b.Area
		default:
			w[i] = 1
		}
	}
	return w
}

func addCategory(c *models.CategoryBreakdown, v, pct float64) {
	switch Category(v) {
	case "Poor":
		c.Poor += pct
	case "Moderate":
		c.Moderate += pct
	case "Good":
		c.Good += pct
	default:
		c.Excellent += pct
	}
}

// Build assembles the series for one season field, oldest acquisition first.
// Samples without usable statistics are skipped.
func Build(seasonFieldID, mapType string, samples []Sample) models.AnalyticsSeries {
	s := models.AnalyticsSeries{SeasonFieldID: seasonFieldID, MapType: mapType, Points: []models.AnalyticsPoint{}}
	for _, smp := range samples {
		if p, ok := PointFrom(smp.Entry.Date, smp.Entry.Sensor, smp.Image); ok {
			s.Points = append(s.Points, p)
		}
	}
	sort.SliceStable(s.Points, func(i, j int) bool { return s.Points[i].Date < s.Points[j].Date })
	s.Cultivation = Summarize(s.Points)
	return s
}

// Thresholds on the mean index that separate vegetated and bare ground.
const (
	VegetatedFrom = 0.5
	BareBelow     = 0.3
)

type phase int

const (
	phaseTransition phase = iota
	phaseBare
	phaseVegetated
)

func phaseOf(v float64) phase {
	switch {
	case v >= VegetatedFrom:
		return phaseVegetated
	case v < BareBelow:
		return phaseBare
	default:
		return phaseTransition
	}
}

// Summarize counts crop cycles in points, which must be sorted by date.
// A cultivation cycle starts when the mean rises to VegetatedFrom, a harvest
// when it then falls below BareBelow. Each run of bare acquisitions is one
// idle period.
func Summarize(points []models.AnalyticsPoint) models.CultivationSummary {
	var sum models.CultivationSummary
	if len(points) == 0 {
		sum.Status = "No data"
		sum.Timeline = "No acquisitions"
		return sum
	}

	var events []string
	last := phaseTransition
	inIdle := false
	for _, p := range points {
		ph := phaseOf(p.Mean)
		switch ph {
		case phaseVegetated:
			inIdle = false
			if last != phaseVegetated {
				sum.CultivationCycles++
				events = append(events, p.Date+" cultivated")
			}
			last = ph
		case phaseBare:
			if !inIdle {
				sum.IdlePeriods++
				inIdle = true
			}
			if last == phaseVegetated {
				sum.HarvestCycles++
				events = append(events, p.Date+" harvested")
			} else if last != phaseBare {
				events = append(events, p.Date+" idle")
			}
			last = ph
		default:
			inIdle = false
		}
	}

	if len(events) == 0 {
		sum.Timeline = "No cultivation activity detected"
	} else {
		sum.Timeline = strings.Join(events, " → ")
	}
	sum.Status = status(points)
	return sum
}

func status(points []models.AnalyticsPoint) string {
	cur := points[len(points)-1].Mean
	rising := len(points) > 1 && cur >= points[len(points)-2].Mean
	switch phaseOf(cur) {
	case phaseVegetated:
		if rising {
			return "Growing"
		}
		return "Mature"
	case phaseBare:
		return "Idle"
	default:
		if rising {
			return "Emerging"
		}
		return "Declining"
	}
}
