package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-field/internal/gateway"
	"github.com/joeblew999/plat-field/internal/geo"
	"github.com/joeblew999/plat-field/internal/logging"
	"github.com/joeblew999/plat-field/internal/metrics"
	"github.com/joeblew999/plat-field/internal/models"
)

var (
	// ErrTransitionRejected is returned when an overlay activation conflicts
	// with an active or pending one. The request has no effect.
	ErrTransitionRejected = errors.New("transition rejected")

	// ErrNoSelection is returned when an overlay needs a field with season data.
	ErrNoSelection = errors.New("no field with season data selected")

	ErrInvalidBounds = errors.New("invalid bounding box")
	ErrUnknownDate   = errors.New("no acquisition for that date")
	ErrUnknownType   = errors.New("map type is empty")
)

// Gateway is the remote data access the workflow needs. *gateway.Client
// implements it.
type Gateway interface {
	FetchAuthToken(ctx context.Context) (string, error)
	FetchFieldAt(ctx context.Context, lon, lat float64) (*models.FieldPolygon, error)
	FetchFieldsInBBox(ctx context.Context, b orb.Bound) (*geojson.FeatureCollection, error)
	FetchSeasonField(ctx context.Context, fieldName string) (*models.SeasonField, error)
	FetchSensorCatalog(ctx context.Context, mapType string, start, end time.Time) ([]models.CatalogEntry, error)
	FetchOverlayImage(ctx context.Context, imageID, seasonFieldID, mapType string) (*models.OverlayImage, error)
	CreateField(ctx context.Context, lon, lat float64) error
	CatalogWindow() (start, end time.Time)
}

// Recorder archives resolved selections. Failures are logged, never surfaced.
type Recorder interface {
	RecordField(ctx context.Context, f *models.FieldPolygon) error
	RecordSeasonField(ctx context.Context, fieldID string, sf *models.SeasonField) error
	RecordCreation(ctx context.Context, fieldID string, lon, lat float64, created bool) error
}

// Options tune the workflow.
type Options struct {
	// StatusTTL is how long a status message stays visible.
	StatusTTL time.Duration
	// DefaultMapType is selected before any catalog is loaded.
	DefaultMapType string
	// MapTypes are offered until a catalog lists its own.
	MapTypes []string
	// AnalyticsMonths is the history searched for the analytics series.
	AnalyticsMonths int
	// AnalyticsMaxPoints caps the acquisitions fetched for one series.
	AnalyticsMaxPoints int
	// AnalyticsConcurrency bounds concurrent image fetches for analytics.
	AnalyticsConcurrency int
}

// DefaultOptions returns the stock workflow settings.
func DefaultOptions() Options {
	return Options{
		StatusTTL:            3 * time.Second,
		DefaultMapType:       "NDVI",
		MapTypes:             []string{"NDVI", "EVI", "NDMI", "LAI", "CVIN", "INSEASON_NDVI"},
		AnalyticsMonths:      12,
		AnalyticsMaxPoints:   24,
		AnalyticsConcurrency: 4,
	}
}

// Session is one map view's workflow state. All methods are safe for
// concurrent use; the lock is never held across gateway calls, and every
// result is applied only if its selection generation is still current.
type Session struct {
	gw   Gateway
	bus  *Bus
	rec  Recorder
	opts Options
	now  func() time.Time

	mu sync.Mutex
	st state
}

type state struct {
	generation uint64
	polygon    *models.FieldPolygon
	season     *models.SeasonField

	mode     Mode
	prevMode Mode
	pending  Mode

	// activation changes whenever an overlay mode is entered or left, so a
	// pipeline finishing after the user moved on is dropped.
	activation uint64

	mapType       string
	mapTypes      []string
	catalog       []models.CatalogEntry
	selectedDate  string
	selectedImage string
	overlay       *models.OverlayImage
	overlaySeq    uint64
	analytics     *models.AnalyticsSeries

	bbox     *bboxState
	bboxMode geo.FilterMode
	creating bool

	status  *Status
	loading int
}

type bboxState struct {
	bound    orb.Bound
	features []*geojson.Feature
	creation map[*geojson.Feature]string
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithRecorder archives resolved fields and season fields.
func WithRecorder(r Recorder) SessionOption {
	return func(s *Session) { s.rec = r }
}

// WithClock replaces time.Now for status expiry.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession creates a session publishing to bus.
func NewSession(gw Gateway, bus *Bus, opts Options, sopts ...SessionOption) *Session {
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = 3 * time.Second
	}
	if opts.DefaultMapType == "" {
		opts.DefaultMapType = AnalyticsMapType
	}
	if opts.AnalyticsConcurrency <= 0 {
		opts.AnalyticsConcurrency = 1
	}
	s := &Session{
		gw:   gw,
		bus:  bus,
		opts: opts,
		now:  time.Now,
	}
	for _, o := range sopts {
		o(s)
	}
	s.st = state{
		mode:     ModeHidden,
		mapType:  opts.DefaultMapType,
		mapTypes: append([]string(nil), opts.MapTypes...),
		bboxMode: geo.Exclusive,
	}
	return s
}

// Bus returns the bus snapshots are published to.
func (s *Session) Bus() *Bus {
	return s.bus
}

// View returns the current snapshot.
func (s *Session) View() *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Authenticate fetches a fresh access token for the authorized services.
func (s *Session) Authenticate(ctx context.Context) error {
	s.begin()
	defer s.end()

	_, err := s.gw.FetchAuthToken(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("token fetch failed")
		s.setStatusLocked(StatusError, "Authentication failed")
	} else {
		s.setStatusLocked(StatusSuccess, "Authenticated")
	}
	s.publishLocked()
	return err
}

// begin marks a request in flight; end releases it.
func (s *Session) begin() {
	s.mu.Lock()
	s.st.loading++
	s.publishLocked()
	s.mu.Unlock()
}

func (s *Session) end() {
	s.mu.Lock()
	if s.st.loading > 0 {
		s.st.loading--
	}
	s.publishLocked()
	s.mu.Unlock()
}

// commit applies fn and publishes if gen is still the current generation.
func (s *Session) commit(gen uint64, stage string, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.st.generation {
		metrics.StaleResults.WithLabelValues(stage).Inc()
		logging.Debug().Str("stage", stage).Uint64("generation", gen).Uint64("current", s.st.generation).Msg("discarding stale result")
		return false
	}
	fn()
	s.publishLocked()
	return true
}

// commitActivation is commit plus a check that the overlay activation that
// issued the work is still the latest.
func (s *Session) commitActivation(gen, act uint64, stage string, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.st.generation || act != s.st.activation {
		metrics.StaleResults.WithLabelValues(stage).Inc()
		return false
	}
	fn()
	s.publishLocked()
	return true
}

func (s *Session) setStatusLocked(kind StatusKind, msg string) {
	s.st.status = &Status{Kind: kind, Message: msg, Expires: s.now().Add(s.opts.StatusTTL)}
}

func (s *Session) publishLocked() {
	if s.bus != nil {
		s.bus.Publish(s.viewLocked())
	}
}

// resetSelectionLocked starts a new generation and drops everything derived
// from the previous selection.
func (s *Session) resetSelectionLocked() uint64 {
	s.st.generation++
	s.st.polygon = nil
	s.st.season = nil
	s.st.mode = ModeHidden
	s.st.prevMode = ModeHidden
	s.st.pending = ""
	s.st.activation++
	s.st.catalog = nil
	s.st.selectedDate = ""
	s.st.selectedImage = ""
	s.st.overlay = nil
	s.st.overlaySeq++
	s.st.analytics = nil
	s.st.bbox = nil
	return s.st.generation
}

// withAuth retries fn once after refreshing the token when it fails with
// gateway.ErrAuth.
func withAuth[T any](ctx context.Context, s *Session, fn func() (T, error)) (T, error) {
	v, err := fn()
	if !errors.Is(err, gateway.ErrAuth) {
		return v, err
	}
	if _, terr := s.gw.FetchAuthToken(ctx); terr != nil {
		logging.Ctx(ctx).Warn().Err(terr).Msg("token refresh failed")
		return v, err
	}
	return fn()
}

func (s *Session) record(ctx context.Context, what string, fn func(Recorder) error) {
	if s.rec == nil {
		return
	}
	if err := fn(s.rec); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("record", what).Msg("archive write failed")
	}
}

// statusFor maps a gateway failure to a user message.
func statusFor(err error, fallback string) (StatusKind, string) {
	switch {
	case errors.Is(err, gateway.ErrNoFieldFound):
		return StatusError, "No field data found at this location"
	case errors.Is(err, gateway.ErrEmptyResult):
		return StatusError, "No fields found in selected area"
	case errors.Is(err, gateway.ErrNoSensorData):
		return StatusError, "No sensor data found"
	case errors.Is(err, gateway.ErrNoImageData):
		return StatusError, "No image data found"
	case errors.Is(err, gateway.ErrMissingSensorID):
		return StatusError, "Image sensor ID not available"
	case errors.Is(err, gateway.ErrAuth):
		return StatusError, "Authentication token not available"
	case errors.Is(err, gateway.ErrTimeout):
		return StatusError, fallback + " (timed out)"
	case errors.Is(err, gateway.ErrUnavailable):
		return StatusError, fallback + " (service unavailable)"
	default:
		return StatusError, fallback
	}
}
