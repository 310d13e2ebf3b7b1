package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-field/internal/gateway"
	"github.com/joeblew999/plat-field/internal/geo"
	"github.com/joeblew999/plat-field/internal/logging"
	"github.com/joeblew999/plat-field/internal/models"
)

// SelectLocation selects the field at lon/lat and then loads its season
// field. It returns once both stages have finished or been superseded;
// gateway failures are reported through the view status.
func (s *Session) SelectLocation(ctx context.Context, lon, lat float64) error {
	s.mu.Lock()
	gen := s.resetSelectionLocked()
	s.st.loading++
	s.setStatusLocked(StatusInfo, "Loading field data...")
	s.publishLocked()
	s.mu.Unlock()
	defer s.end()

	log := logging.Ctx(ctx).With().Uint64("generation", gen).Logger()

	field, err := s.gw.FetchFieldAt(ctx, lon, lat)
	if err != nil {
		log.Warn().Err(err).Float64("lon", lon).Float64("lat", lat).Msg("field lookup failed")
		s.commit(gen, "field", func() {
			s.setStatusLocked(statusFor(err, "Error loading field data"))
		})
		return nil
	}
	if !s.commit(gen, "field", func() {
		s.st.polygon = field
		s.setStatusLocked(StatusInfo, "Field loaded, fetching season field...")
	}) {
		return nil
	}
	s.record(ctx, "field", func(r Recorder) error { return r.RecordField(ctx, field) })

	sf, err := withAuth(ctx, s, func() (*models.SeasonField, error) {
		return s.gw.FetchSeasonField(ctx, field.ID)
	})
	if err != nil {
		log.Warn().Err(err).Str("field", field.ID).Msg("season field lookup failed")
		s.commit(gen, "season_field", func() {
			s.setStatusLocked(statusFor(err, "Error fetching season field data"))
		})
		return nil
	}
	applied := s.commit(gen, "season_field", func() {
		s.st.season = sf
		if sf == nil {
			s.setStatusLocked(StatusInfo, fmt.Sprintf("No season field found for field %s", field.ID))
			return
		}
		s.setStatusLocked(StatusSuccess, "Field data loaded successfully")
	})
	if applied && sf != nil {
		s.record(ctx, "season_field", func(r Recorder) error { return r.RecordSeasonField(ctx, field.ID, sf) })
	}
	return nil
}

// SelectFieldsInBBox loads every field intersecting b. The visible subset
// follows the current bbox filter mode.
func (s *Session) SelectFieldsInBBox(ctx context.Context, b orb.Bound) error {
	if !validBound(b) {
		return ErrInvalidBounds
	}

	s.mu.Lock()
	gen := s.resetSelectionLocked()
	s.st.loading++
	s.setStatusLocked(StatusInfo, "Loading fields in selected area...")
	s.publishLocked()
	s.mu.Unlock()
	defer s.end()

	fc, err := s.gw.FetchFieldsInBBox(ctx, b)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Uint64("generation", gen).Msg("bbox lookup failed")
		s.commit(gen, "bbox", func() {
			s.setStatusLocked(statusFor(err, "Error loading fields"))
		})
		return nil
	}

	s.commit(gen, "bbox", func() {
		s.st.bbox = &bboxState{
			bound:    b,
			features: fc.Features,
			creation: make(map[*geojson.Feature]string),
		}
		s.bboxStatusLocked()
	})
	return nil
}

// SetBBoxMode changes the bbox filter. The visible subset is recomputed from
// the fields already loaded; nothing is fetched.
func (s *Session) SetBBoxMode(mode geo.FilterMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.bboxMode = mode
	if s.st.bbox != nil {
		s.bboxStatusLocked()
	}
	s.publishLocked()
}

func (s *Session) bboxStatusLocked() {
	visible := geo.FilterFeatures(s.st.bbox.features, s.st.bbox.bound, s.st.bboxMode)
	if len(visible) == 0 {
		s.setStatusLocked(StatusError, "No fields match the current filter criteria")
		return
	}
	s.setStatusLocked(StatusSuccess, fmt.Sprintf("Showing %d of %d fields", len(visible), len(s.st.bbox.features)))
}

// CreateFieldAt registers the visible bbox field under lon/lat with the
// creation service and marks it created or failed.
func (s *Session) CreateFieldAt(ctx context.Context, lon, lat float64) error {
	pt := orb.Point{lon, lat}

	s.mu.Lock()
	if s.st.creating {
		s.mu.Unlock()
		return ErrTransitionRejected
	}
	var target *geojson.Feature
	if s.st.bbox != nil {
		visible := geo.FilterFeatures(s.st.bbox.features, s.st.bbox.bound, s.st.bboxMode)
		if i := geo.FeatureAt(visible, pt); i >= 0 {
			target = visible[i]
		}
	}
	if target == nil {
		s.setStatusLocked(StatusInfo, "Please click on an existing field polygon")
		s.publishLocked()
		s.mu.Unlock()
		return nil
	}
	gen := s.st.generation
	s.st.creating = true
	s.st.loading++
	s.setStatusLocked(StatusInfo, "Creating field...")
	s.publishLocked()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.st.creating = false
		s.mu.Unlock()
		s.end()
	}()

	err := s.gw.CreateField(ctx, lon, lat)
	created := err == nil
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("field creation failed")
	}
	applied := s.commit(gen, "create_field", func() {
		if created {
			s.st.bbox.creation[target] = CreationCreated
			s.setStatusLocked(StatusSuccess, "Field created successfully!")
			return
		}
		s.st.bbox.creation[target] = CreationFailed
		kind, msg := statusFor(err, "Error creating field")
		if errors.Is(err, gateway.ErrNotConfigured) {
			msg = "Field creation is not configured"
		}
		s.setStatusLocked(kind, msg)
	})
	if applied {
		id := featureID(target)
		s.record(ctx, "creation", func(r Recorder) error { return r.RecordCreation(ctx, id, lon, lat, created) })
	}
	return nil
}

func validBound(b orb.Bound) bool {
	return b.Min.Lon() <= b.Max.Lon() && b.Min.Lat() <= b.Max.Lat() &&
		b.Min.Lon() >= -180 && b.Max.Lon() <= 180 && b.Min.Lat() >= -90 && b.Max.Lat() <= 90
}
