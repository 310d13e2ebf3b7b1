package mapview

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-field/internal/geo"
	"github.com/joeblew999/plat-field/internal/humastar"
	"github.com/joeblew999/plat-field/internal/logging"
	"github.com/joeblew999/plat-field/internal/service"
)

func (h *Handler) registerEvents(api huma.API) {
	huma.Post(api, "/api/v1/map/click", h.Click, huma.OperationTags("mapview"))
	huma.Post(api, "/api/v1/map/bbox", h.BBox, huma.OperationTags("mapview"))
	huma.Post(api, "/api/v1/map/bbox-mode", h.BBoxMode, huma.OperationTags("mapview"))
	huma.Post(api, "/api/v1/map/create", h.Create, huma.OperationTags("mapview"))
	huma.Post(api, "/api/v1/map/maps", h.ToggleMaps, huma.OperationTags("mapview"))
	huma.Post(api, "/api/v1/map/analytics", h.ToggleAnalytics, huma.OperationTags("mapview"))
	huma.Post(api, "/api/v1/map/map-type", h.MapType, huma.OperationTags("mapview"))
	huma.Post(api, "/api/v1/map/date", h.Date, huma.OperationTags("mapview"))
}

// Click selects the field under the clicked point.
func (h *Handler) Click(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	lon, lat, err := point(input)
	if err != nil {
		return nil, err
	}
	return h.do(ctx, "click", func(ctx context.Context) error {
		return h.session.SelectLocation(ctx, lon, lat)
	}), nil
}

// BBox loads every field in the drawn rectangle.
func (h *Handler) BBox(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	var c [4]float64
	for i, key := range []string{"minlon", "minlat", "maxlon", "maxlat"} {
		v, ok := signals.Float(key)
		if !ok {
			return nil, huma.Error400BadRequest(key + " is required")
		}
		c[i] = v
	}
	b := orb.Bound{Min: orb.Point{c[0], c[1]}, Max: orb.Point{c[2], c[3]}}
	return h.do(ctx, "bbox", func(ctx context.Context) error {
		return h.session.SelectFieldsInBBox(ctx, b)
	}), nil
}

// BBoxMode switches the bbox filter between inclusive and exclusive.
func (h *Handler) BBoxMode(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	mode := geo.ParseFilterMode(signals.String("bboxmode"))
	return h.do(ctx, "bbox_mode", func(context.Context) error {
		h.session.SetBBoxMode(mode)
		return nil
	}), nil
}

// Create registers the clicked bbox field with the creation service.
func (h *Handler) Create(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	lon, lat, err := point(input)
	if err != nil {
		return nil, err
	}
	return h.do(ctx, "create", func(ctx context.Context) error {
		return h.session.CreateFieldAt(ctx, lon, lat)
	}), nil
}

// ToggleMaps shows the map overlay, or hides it when it is active.
func (h *Handler) ToggleMaps(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.do(ctx, "toggle_maps", func(ctx context.Context) error {
		if h.session.View().Controls.MapsActive {
			h.session.HideMaps()
			return nil
		}
		return h.session.ShowMaps(ctx)
	}), nil
}

// ToggleAnalytics shows the analytics dashboard, or hides it when it is active.
func (h *Handler) ToggleAnalytics(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.do(ctx, "toggle_analytics", func(ctx context.Context) error {
		if h.session.View().Controls.AnalyticsActive {
			h.session.HideAnalytics()
			return nil
		}
		return h.session.ShowAnalytics(ctx)
	}), nil
}

// MapType applies the map type selector.
func (h *Handler) MapType(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	mapType := signals.String("maptype")
	return h.do(ctx, "map_type", func(ctx context.Context) error {
		return h.session.SetMapType(ctx, mapType)
	}), nil
}

// Date applies the acquisition date selector.
func (h *Handler) Date(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	date := signals.String("date")
	return h.do(ctx, "date", func(ctx context.Context) error {
		return h.session.SetDate(ctx, date)
	}), nil
}

// do runs op inside the event response. View changes reach the browser over
// the map stream; only rejections are answered here.
func (h *Handler) do(ctx context.Context, event string, op func(context.Context) error) *huma.StreamResponse {
	return h.Handler.Stream(func(sse humastar.SSE) {
		ctx := logging.ContextWithNewCorrelationID(ctx)
		logging.Ctx(ctx).Debug().Str("event", event).Msg("map event")
		if err := op(ctx); err != nil {
			logging.Ctx(ctx).Info().Err(err).Str("event", event).Msg("map event rejected")
			sse.Error(message(err))
			return
		}
		sse.Signals(map[string]any{"error": ""})
	})
}

func point(input *humastar.SignalsInput) (lon, lat float64, err error) {
	signals, err := input.MustParse()
	if err != nil {
		return 0, 0, err
	}
	lon, okLon := signals.Float("lon")
	lat, okLat := signals.Float("lat")
	if !okLon || !okLat {
		return 0, 0, huma.Error400BadRequest("lon and lat are required")
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return 0, 0, huma.Error400BadRequest("lon/lat out of range")
	}
	return lon, lat, nil
}

func message(err error) string {
	switch {
	case errors.Is(err, service.ErrTransitionRejected):
		return "Please wait for the current request to finish"
	case errors.Is(err, service.ErrNoSelection):
		return "Select a field with season data first"
	case errors.Is(err, service.ErrInvalidBounds):
		return "Invalid selection area"
	case errors.Is(err, service.ErrUnknownDate):
		return "No acquisition for that date"
	case errors.Is(err, service.ErrUnknownType):
		return "Choose a map type"
	}
	return err.Error()
}
