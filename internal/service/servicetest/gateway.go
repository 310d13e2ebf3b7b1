// Package servicetest provides an in-memory gateway for exercising the
// workflow without remote services.
package servicetest

import (
	"context"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/joeblew999/plat-field/internal/gateway"
	"github.com/joeblew999/plat-field/internal/models"
)

// Gateway answers every lookup from its maps. Fields are matched by point in
// polygon; images are keyed by image id and map type.
type Gateway struct {
	mu sync.Mutex

	Fields       []*models.FieldPolygon
	SeasonFields map[string]*models.SeasonField
	Catalog      []models.CatalogEntry
	Images       map[string]*models.OverlayImage
	BBox         *geojson.FeatureCollection
	CreateErr    error
	Tokens       int
}

// ImageKey is the Images map key for an acquisition and map type.
func ImageKey(imageID, mapType string) string {
	return imageID + "|" + mapType
}

// Wheat returns a gateway with one wheat field F1 around (11.19, 60.74), two
// acquisitions and their NDVI images.
func Wheat() *Gateway {
	f := geojson.NewFeature(orb.Polygon{{
		{11.18, 60.73}, {11.20, 60.73}, {11.20, 60.75}, {11.18, 60.75}, {11.18, 60.73},
	}})
	f.Properties["id"] = "F1"
	field, err := models.FieldFromFeature(f)
	if err != nil {
		panic(err)
	}
	maps := []models.MapRef{{Type: "NDVI"}, {Type: "EVI"}}
	return &Gateway{
		Fields: []*models.FieldPolygon{field},
		SeasonFields: map[string]*models.SeasonField{
			"F1": {ID: "SF1", Crop: models.NamedRef{ID: "WHEAT", Name: "Wheat"}},
		},
		Catalog: []models.CatalogEntry{
			{Date: "2024-05-01", Sensor: "SENTINEL_2", ImageID: "img-may", Maps: maps},
			{Date: "2024-06-01", Sensor: "SENTINEL_2", ImageID: "img-jun", Maps: maps},
		},
		Images: map[string]*models.OverlayImage{
			ImageKey("img-jun", "NDVI"): {
				URL: "https://imagery.example/jun-ndvi.png",
				Histogram: &models.Histogram{Buckets: []models.HistogramBucket{
					{Min: 0.4, Max: 0.6, PixelCount: 10},
					{Min: 0.6, Max: 0.8, PixelCount: 30},
				}},
			},
			ImageKey("img-may", "NDVI"): {
				URL:    "https://imagery.example/may-ndvi.png",
				Legend: &models.LegendStats{Min: 0.1, Mean: 0.3, Max: 0.5},
			},
		},
	}
}

func (g *Gateway) FetchAuthToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Tokens++
	return "token", nil
}

func (g *Gateway) FetchFieldAt(ctx context.Context, lon, lat float64) (*models.FieldPolygon, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pt := orb.Point{lon, lat}
	for _, f := range g.Fields {
		if p, ok := f.Feature.Geometry.(orb.Polygon); ok && planar.PolygonContains(p, pt) {
			return f, nil
		}
	}
	return nil, gateway.ErrNoFieldFound
}

func (g *Gateway) FetchFieldsInBBox(ctx context.Context, b orb.Bound) (*geojson.FeatureCollection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.BBox == nil || len(g.BBox.Features) == 0 {
		return nil, gateway.ErrEmptyResult
	}
	return g.BBox, nil
}

func (g *Gateway) FetchSeasonField(ctx context.Context, fieldName string) (*models.SeasonField, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.SeasonFields[fieldName], nil
}

func (g *Gateway) FetchSensorCatalog(ctx context.Context, mapType string, start, end time.Time) ([]models.CatalogEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []models.CatalogEntry
	for _, e := range g.Catalog {
		if e.HasMap(mapType) {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, gateway.ErrNoSensorData
	}
	return models.DedupeCatalog(out), nil
}

func (g *Gateway) FetchOverlayImage(ctx context.Context, imageID, seasonFieldID, mapType string) (*models.OverlayImage, error) {
	if imageID == "" {
		return nil, gateway.ErrMissingSensorID
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	img, ok := g.Images[ImageKey(imageID, mapType)]
	if !ok {
		return nil, gateway.ErrNoImageData
	}
	out := *img
	out.ImageID, out.SeasonFieldID, out.MapType = imageID, seasonFieldID, mapType
	return &out, nil
}

func (g *Gateway) CreateField(ctx context.Context, lon, lat float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.CreateErr
}

func (g *Gateway) CatalogWindow() (time.Time, time.Time) {
	end := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	return end.AddDate(0, -3, 0), end
}

// BreakerStates reports every upstream closed.
func (g *Gateway) BreakerStates() map[string]string {
	return map[string]string{"delineation": "closed", "identity": "closed", "geosys": "closed"}
}

// TokenExpiry is always the zero time.
func (g *Gateway) TokenExpiry() time.Time {
	return time.Time{}
}
