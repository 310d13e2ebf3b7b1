package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-field/internal/gateway"
	"github.com/joeblew999/plat-field/internal/models"
)

// fakeGateway is a scriptable Gateway. A call whose key has a gate blocks
// until the gate is closed; its key is sent on entered first.
type fakeGateway struct {
	mu sync.Mutex

	fields       map[string]*models.FieldPolygon
	seasonFields map[string]*models.SeasonField
	seasonErr    error
	// rejectSeason answers that many season lookups with a 401.
	rejectSeason int
	catalogs     map[string][]models.CatalogEntry
	images       map[string]*models.OverlayImage
	bbox         *geojson.FeatureCollection
	createErr    error
	needAuth     bool
	authorized   bool

	gates   map[string]chan struct{}
	entered chan string
	calls   []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		fields:       map[string]*models.FieldPolygon{},
		seasonFields: map[string]*models.SeasonField{},
		catalogs:     map[string][]models.CatalogEntry{},
		images:       map[string]*models.OverlayImage{},
		gates:        map[string]chan struct{}{},
		entered:      make(chan string, 32),
	}
}

func locKey(lon, lat float64) string {
	return fmt.Sprintf("%g,%g", lon, lat)
}

func imageKey(imageID, mapType string) string {
	return imageID + "|" + mapType
}

// gate makes calls with key block until the returned func is called.
func (g *fakeGateway) gate(key string) (release func()) {
	ch := make(chan struct{})
	g.mu.Lock()
	g.gates[key] = ch
	g.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (g *fakeGateway) enter(key string) {
	g.mu.Lock()
	g.calls = append(g.calls, key)
	ch := g.gates[key]
	g.mu.Unlock()
	if ch != nil {
		g.entered <- key
		<-ch
	}
}

func (g *fakeGateway) count(prefix string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (g *fakeGateway) authCheck() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.needAuth && !g.authorized {
		return gateway.ErrAuth
	}
	return nil
}

func (g *fakeGateway) FetchAuthToken(ctx context.Context) (string, error) {
	g.enter("auth")
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authorized = true
	return "token", nil
}

func (g *fakeGateway) FetchFieldAt(ctx context.Context, lon, lat float64) (*models.FieldPolygon, error) {
	key := locKey(lon, lat)
	g.enter("field:" + key)
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.fields[key]
	if !ok {
		return nil, fmt.Errorf("fetch_field_at: %w", gateway.ErrNoFieldFound)
	}
	return f, nil
}

func (g *fakeGateway) FetchFieldsInBBox(ctx context.Context, b orb.Bound) (*geojson.FeatureCollection, error) {
	g.enter("bbox")
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bbox == nil || len(g.bbox.Features) == 0 {
		return nil, gateway.ErrEmptyResult
	}
	return g.bbox, nil
}

func (g *fakeGateway) FetchSeasonField(ctx context.Context, fieldName string) (*models.SeasonField, error) {
	g.enter("season:" + fieldName)
	if err := g.authCheck(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rejectSeason > 0 {
		g.rejectSeason--
		se := &gateway.StatusError{Op: "fetch_season_field", Status: 401, Body: `{"error":"invalid_token"}`}
		return nil, fmt.Errorf("fetch_season_field: %w: %w", gateway.ErrAuth, se)
	}
	if g.seasonErr != nil {
		return nil, g.seasonErr
	}
	return g.seasonFields[fieldName], nil
}

func (g *fakeGateway) FetchSensorCatalog(ctx context.Context, mapType string, start, end time.Time) ([]models.CatalogEntry, error) {
	g.enter("catalog:" + mapType)
	if err := g.authCheck(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	entries := g.catalogs[mapType]
	if len(entries) == 0 {
		return nil, gateway.ErrNoSensorData
	}
	return models.DedupeCatalog(entries), nil
}

func (g *fakeGateway) FetchOverlayImage(ctx context.Context, imageID, seasonFieldID, mapType string) (*models.OverlayImage, error) {
	key := imageKey(imageID, mapType)
	g.enter("image:" + key)
	if err := g.authCheck(); err != nil {
		return nil, err
	}
	if imageID == "" {
		return nil, gateway.ErrMissingSensorID
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	img, ok := g.images[key]
	if !ok {
		return nil, gateway.ErrNoImageData
	}
	out := *img
	out.ImageID, out.SeasonFieldID, out.MapType = imageID, seasonFieldID, mapType
	return &out, nil
}

func (g *fakeGateway) CreateField(ctx context.Context, lon, lat float64) error {
	g.enter("create:" + locKey(lon, lat))
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createErr
}

func (g *fakeGateway) CatalogWindow() (time.Time, time.Time) {
	end := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	return end.AddDate(0, -3, 0), end
}

func square(minX, minY, size float64) orb.Polygon {
	return orb.Polygon{{
		{minX, minY}, {minX + size, minY}, {minX + size, minY + size}, {minX, minY + size}, {minX, minY},
	}}
}

func field(t *testing.T, id string, poly orb.Polygon) *models.FieldPolygon {
	t.Helper()
	f := geojson.NewFeature(poly)
	f.Properties["id"] = id
	p, err := models.FieldFromFeature(f)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// scenario is the standard fixture: field F1 at (11.19, 60.74) with season
// field SF1 growing wheat, two NDVI acquisitions and their images.
func scenario(t *testing.T) *fakeGateway {
	t.Helper()
	g := newFakeGateway()
	g.fields[locKey(11.19, 60.74)] = field(t, "F1", square(11.18, 60.73, 0.02))
	g.seasonFields["F1"] = &models.SeasonField{ID: "SF1", Crop: models.NamedRef{ID: "WHEAT", Name: "Wheat"}}

	ndvi := []models.CatalogEntry{
		{Date: "2024-05-01", Sensor: "S2", ImageID: "img-may", Maps: []models.MapRef{{Type: "NDVI"}, {Type: "EVI"}}},
		{Date: "2024-06-01", Sensor: "S2", ImageID: "img-jun", Maps: []models.MapRef{{Type: "NDVI"}, {Type: "EVI"}}},
	}
	g.catalogs["NDVI"] = ndvi
	g.catalogs["EVI"] = ndvi

	buckets := []models.HistogramBucket{{Min: 0.4, Max: 0.6, PixelCount: 10}, {Min: 0.6, Max: 0.8, PixelCount: 30}}
	g.images[imageKey("img-jun", "NDVI")] = &models.OverlayImage{URL: "https://img/jun-ndvi.png", Histogram: &models.Histogram{Buckets: buckets}}
	g.images[imageKey("img-may", "NDVI")] = &models.OverlayImage{URL: "https://img/may-ndvi.png", Legend: &models.LegendStats{Min: 0.1, Mean: 0.3, Max: 0.5}}
	g.images[imageKey("img-jun", "EVI")] = &models.OverlayImage{URL: "https://img/jun-evi.png"}
	return g
}

// recorder captures archive writes.
type recorder struct {
	mu        sync.Mutex
	fields    []string
	seasons   []string
	creations []string
}

func (r *recorder) RecordField(ctx context.Context, f *models.FieldPolygon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields = append(r.fields, f.ID)
	return nil
}

func (r *recorder) RecordSeasonField(ctx context.Context, fieldID string, sf *models.SeasonField) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seasons = append(r.seasons, fieldID+"/"+sf.ID)
	return nil
}

func (r *recorder) RecordCreation(ctx context.Context, fieldID string, lon, lat float64, created bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creations = append(r.creations, fmt.Sprintf("%s:%v", fieldID, created))
	return nil
}

func newTestSession(t *testing.T, g *fakeGateway, opts ...SessionOption) *Session {
	t.Helper()
	o := DefaultOptions()
	o.AnalyticsConcurrency = 2
	return NewSession(g, NewBus(), o, opts...)
}

func waitEntered(t *testing.T, g *fakeGateway, key string) {
	t.Helper()
	select {
	case got := <-g.entered:
		if got != key {
			t.Fatalf("entered %q, want %q", got, key)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", key)
	}
}
