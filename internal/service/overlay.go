package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/plat-field/internal/analytics"
	"github.com/joeblew999/plat-field/internal/logging"
	"github.com/joeblew999/plat-field/internal/metrics"
	"github.com/joeblew999/plat-field/internal/models"
)

// ShowMaps enters MapOverlayActive: catalog for the selected map type, newest
// acquisition, overlay image. It is rejected while analytics is active or any
// activation is pending.
func (s *Session) ShowMaps(ctx context.Context) error {
	s.mu.Lock()
	if s.st.pending != "" || s.st.mode == ModeAnalytics {
		s.mu.Unlock()
		metrics.Transitions.WithLabelValues("show_maps", "rejected").Inc()
		return ErrTransitionRejected
	}
	if s.st.mode == ModeMapOverlay {
		s.mu.Unlock()
		return nil
	}
	if s.st.polygon == nil || s.st.season == nil {
		s.setStatusLocked(StatusError, "Select a field with season data first")
		s.publishLocked()
		s.mu.Unlock()
		metrics.Transitions.WithLabelValues("show_maps", "rejected").Inc()
		return ErrNoSelection
	}
	gen := s.st.generation
	s.st.activation++
	act := s.st.activation
	s.st.pending = ModeMapOverlay
	s.st.loading++
	mapType := s.st.mapType
	sfID := s.st.season.ID
	s.setStatusLocked(StatusInfo, fmt.Sprintf("Fetching %s data...", mapType))
	s.publishLocked()
	s.mu.Unlock()
	defer s.end()
	defer s.clearPending(gen, act, ModeMapOverlay)

	img, ok := s.loadOverlay(ctx, gen, act, mapType, sfID)
	if !ok {
		metrics.Transitions.WithLabelValues("show_maps", "failed").Inc()
		return nil
	}
	s.commitActivation(gen, act, "show_maps", func() {
		s.st.mode = ModeMapOverlay
		s.applyOverlayLocked(img)
	})
	metrics.Transitions.WithLabelValues("show_maps", "ok").Inc()
	return nil
}

// HideMaps leaves MapOverlayActive, dropping the overlay image.
func (s *Session) HideMaps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.mode != ModeMapOverlay {
		return
	}
	s.st.mode = ModeHidden
	s.st.activation++
	s.st.overlay = nil
	s.st.overlaySeq++
	s.setStatusLocked(StatusInfo, fmt.Sprintf("%s overlay removed", s.st.mapType))
	s.publishLocked()
	metrics.Transitions.WithLabelValues("hide_maps", "ok").Inc()
}

// ShowAnalytics enters AnalyticsActive from Hidden or MapOverlayActive. The
// overlay and histogram are hidden but kept. It is rejected while another
// activation is pending.
func (s *Session) ShowAnalytics(ctx context.Context) error {
	s.mu.Lock()
	if s.st.pending != "" {
		s.mu.Unlock()
		metrics.Transitions.WithLabelValues("show_analytics", "rejected").Inc()
		return ErrTransitionRejected
	}
	if s.st.mode == ModeAnalytics {
		s.mu.Unlock()
		return nil
	}
	if s.st.polygon == nil || s.st.season == nil {
		s.setStatusLocked(StatusError, "Select a field with season data first")
		s.publishLocked()
		s.mu.Unlock()
		metrics.Transitions.WithLabelValues("show_analytics", "rejected").Inc()
		return ErrNoSelection
	}
	gen := s.st.generation
	s.st.prevMode = s.st.mode
	s.st.mode = ModeAnalytics
	s.st.activation++
	act := s.st.activation
	s.st.pending = ModeAnalytics
	s.st.analytics = nil
	s.st.loading++
	sfID := s.st.season.ID
	needOverlay := s.st.overlay == nil
	s.setStatusLocked(StatusInfo, "Loading analytics...")
	s.publishLocked()
	s.mu.Unlock()
	defer s.end()
	defer s.clearPending(gen, act, ModeAnalytics)

	if needOverlay {
		img, ok := s.loadOverlay(ctx, gen, act, AnalyticsMapType, sfID)
		if !ok {
			metrics.Transitions.WithLabelValues("show_analytics", "failed").Inc()
			return nil
		}
		if !s.commitActivation(gen, act, "analytics_overlay", func() { s.st.overlay = img }) {
			return nil
		}
	}

	series, err := s.buildAnalytics(ctx, sfID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("season_field", sfID).Msg("analytics failed")
		s.commitActivation(gen, act, "analytics", func() {
			s.setStatusLocked(statusFor(err, "Error loading analytics"))
		})
		metrics.Transitions.WithLabelValues("show_analytics", "failed").Inc()
		return nil
	}
	s.commitActivation(gen, act, "analytics", func() {
		s.st.analytics = series
		if len(series.Points) == 0 {
			s.setStatusLocked(StatusError, "No analytics data available")
			return
		}
		s.setStatusLocked(StatusSuccess, "Analytics loaded")
	})
	metrics.Transitions.WithLabelValues("show_analytics", "ok").Inc()
	return nil
}

// HideAnalytics returns to the mode analytics was entered from. A retained
// overlay is shown again.
func (s *Session) HideAnalytics() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.mode != ModeAnalytics {
		return
	}
	s.st.mode = ModeHidden
	if s.st.prevMode == ModeMapOverlay && s.st.overlay != nil {
		s.st.mode = ModeMapOverlay
	}
	s.st.prevMode = ModeHidden
	s.st.activation++
	s.st.pending = ""
	s.st.analytics = nil
	s.setStatusLocked(StatusInfo, "Analytics closed")
	s.publishLocked()
	metrics.Transitions.WithLabelValues("hide_analytics", "ok").Inc()
}

// SetMapType selects a map type. While an overlay is shown only the image is
// re-fetched. It is rejected while an activation is in flight.
func (s *Session) SetMapType(ctx context.Context, mapType string) error {
	if mapType == "" {
		return ErrUnknownType
	}
	s.mu.Lock()
	if s.st.pending != "" {
		s.mu.Unlock()
		return ErrTransitionRejected
	}
	s.st.mapType = mapType
	return s.refreshOverlayLocked(ctx, "map_type")
}

// SetDate selects the acquisition dated date. While an overlay is shown only
// the image is re-fetched. It is rejected while an activation is in flight.
func (s *Session) SetDate(ctx context.Context, date string) error {
	s.mu.Lock()
	if s.st.pending != "" {
		s.mu.Unlock()
		return ErrTransitionRejected
	}
	var entry *models.CatalogEntry
	for i := range s.st.catalog {
		if s.st.catalog[i].Date == date {
			entry = &s.st.catalog[i]
			break
		}
	}
	if entry == nil {
		s.mu.Unlock()
		return ErrUnknownDate
	}
	s.st.selectedDate = entry.Date
	s.st.selectedImage = entry.ImageID
	return s.refreshOverlayLocked(ctx, "date")
}

// refreshOverlayLocked must be called with s.mu held; it releases it.
// Responses overtaken by a later refresh are dropped.
func (s *Session) refreshOverlayLocked(ctx context.Context, stage string) error {
	if s.st.mode != ModeMapOverlay || s.st.pending != "" || s.st.season == nil {
		s.publishLocked()
		s.mu.Unlock()
		return nil
	}
	gen := s.st.generation
	s.st.overlaySeq++
	seq := s.st.overlaySeq
	imageID, sfID, mapType := s.st.selectedImage, s.st.season.ID, s.st.mapType
	s.st.loading++
	s.setStatusLocked(StatusInfo, "Fetching map data...")
	s.publishLocked()
	s.mu.Unlock()
	defer s.end()

	img, err := withAuth(ctx, s, func() (*models.OverlayImage, error) {
		return s.gw.FetchOverlayImage(ctx, imageID, sfID, mapType)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.st.generation || seq != s.st.overlaySeq || s.st.mode != ModeMapOverlay {
		metrics.StaleResults.WithLabelValues(stage).Inc()
		return nil
	}
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("image", imageID).Msg("overlay refresh failed")
		s.setStatusLocked(statusFor(err, "Error loading map data"))
	} else {
		s.applyOverlayLocked(img)
	}
	s.publishLocked()
	return nil
}

// loadOverlay runs catalog then image for mapType. The catalog is committed
// on the way; ok is false when the chain stopped.
func (s *Session) loadOverlay(ctx context.Context, gen, act uint64, mapType, sfID string) (*models.OverlayImage, bool) {
	start, end := s.gw.CatalogWindow()
	entries, err := withAuth(ctx, s, func() ([]models.CatalogEntry, error) {
		return s.gw.FetchSensorCatalog(ctx, mapType, start, end)
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("map_type", mapType).Msg("catalog lookup failed")
		s.commitActivation(gen, act, "catalog", func() {
			s.setStatusLocked(statusFor(err, fmt.Sprintf("Error loading %s data", mapType)))
		})
		return nil, false
	}

	first := entries[0]
	if !s.commitActivation(gen, act, "catalog", func() {
		s.st.catalog = entries
		s.st.selectedDate = first.Date
		s.st.selectedImage = first.ImageID
		if types := first.MapTypes(); len(types) > 0 {
			s.st.mapTypes = mergeTypes(types, mapType)
		}
		s.setStatusLocked(StatusInfo, "Sensor data loaded, fetching map data...")
	}) {
		return nil, false
	}

	img, err := withAuth(ctx, s, func() (*models.OverlayImage, error) {
		return s.gw.FetchOverlayImage(ctx, first.ImageID, sfID, mapType)
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("image", first.ImageID).Msg("overlay image failed")
		s.commitActivation(gen, act, "overlay_image", func() {
			s.setStatusLocked(statusFor(err, "Error loading map data"))
		})
		return nil, false
	}
	return img, true
}

// applyOverlayLocked installs img as the current overlay. A missing image
// link leaves no drawable layer and reports an error.
func (s *Session) applyOverlayLocked(img *models.OverlayImage) {
	s.st.overlay = img
	if img == nil || img.URL == "" {
		s.setStatusLocked(StatusError, "No image URL available")
		return
	}
	s.setStatusLocked(StatusSuccess, fmt.Sprintf("%s overlay added", img.MapType))
}

// clearPending ends an activation if it is still the latest one.
func (s *Session) clearPending(gen, act uint64, mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.st.generation && act == s.st.activation && s.st.pending == mode {
		s.st.pending = ""
	}
}

// buildAnalytics fetches the analytics window catalog and the statistics of
// each acquisition concurrently. Acquisitions whose image fails are skipped.
func (s *Session) buildAnalytics(ctx context.Context, sfID string) (*models.AnalyticsSeries, error) {
	start, end := s.gw.CatalogWindow()
	if s.opts.AnalyticsMonths > 0 {
		start = end.AddDate(0, -s.opts.AnalyticsMonths, 0)
	}

	entries, err := withAuth(ctx, s, func() ([]models.CatalogEntry, error) {
		return s.gw.FetchSensorCatalog(ctx, AnalyticsMapType, start, end)
	})
	if err != nil {
		return nil, err
	}
	if limit := s.opts.AnalyticsMaxPoints; limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	samples := make([]analytics.Sample, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.AnalyticsConcurrency)
	for i, e := range entries {
		g.Go(func() error {
			img, err := withAuth(gctx, s, func() (*models.OverlayImage, error) {
				return s.gw.FetchOverlayImage(gctx, e.ImageID, sfID, AnalyticsMapType)
			})
			if err != nil {
				logging.Ctx(ctx).Debug().Err(err).Str("image", e.ImageID).Msg("skipping acquisition")
				return nil
			}
			samples[i] = analytics.Sample{Entry: e, Image: img}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	series := analytics.Build(sfID, AnalyticsMapType, samples)
	return &series, nil
}

func mergeTypes(types []string, selected string) []string {
	out := append([]string(nil), types...)
	for _, t := range out {
		if t == selected {
			return out
		}
	}
	return append(out, selected)
}

// statusExpired reports whether st should no longer be shown at now.
func statusExpired(st *Status, now time.Time) bool {
	return st == nil || !now.Before(st.Expires)
}
