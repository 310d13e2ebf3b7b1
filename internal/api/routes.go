// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-field/internal/db"
	"github.com/joeblew999/plat-field/internal/geo"
	"github.com/joeblew999/plat-field/internal/humastar"
	"github.com/joeblew999/plat-field/internal/logging"
	"github.com/joeblew999/plat-field/internal/service"
)

// GatewayStatus reports the health of the remote services.
type GatewayStatus interface {
	BreakerStates() map[string]string
	TokenExpiry() time.Time
}

// Services holds the dependencies for API handlers. Gateway and Archive may
// be nil.
type Services struct {
	Session *service.Session
	Gateway GatewayStatus
	Archive *db.Archive
}

// Types

type ViewOutput struct {
	Body ViewBody
}

// ViewBody is the current map view. Link headers advertise the overlay
// transitions the controls currently allow.
type ViewBody struct {
	service.View
}

// Actions implements humastar.Actor.
func (b ViewBody) Actions() []humastar.Action {
	c := b.Controls
	var out []humastar.Action
	if c.MapsEnabled && !c.MapsActive {
		out = append(out, humastar.Action{Rel: "show-maps", Href: "/api/v1/overlay/maps", Method: "POST", Title: "Show map overlay"})
	}
	if c.MapsActive {
		out = append(out, humastar.Action{Rel: "hide-maps", Href: "/api/v1/overlay/maps", Method: "DELETE", Title: "Hide map overlay"})
	}
	if c.AnalyticsEnabled && !c.AnalyticsActive {
		out = append(out, humastar.Action{Rel: "show-analytics", Href: "/api/v1/overlay/analytics", Method: "POST", Title: "Show analytics"})
	}
	if c.AnalyticsActive {
		out = append(out, humastar.Action{Rel: "hide-analytics", Href: "/api/v1/overlay/analytics", Method: "DELETE", Title: "Hide analytics"})
	}
	return out
}

type PointInput struct {
	Body struct {
		Lon float64 `json:"lon" minimum:"-180" maximum:"180" doc:"Longitude (WGS84)" example:"11.19"`
		Lat float64 `json:"lat" minimum:"-90" maximum:"90" doc:"Latitude (WGS84)" example:"60.74"`
	}
}

type BBoxInput struct {
	Body struct {
		MinLon float64 `json:"minLon" minimum:"-180" maximum:"180" example:"11.1"`
		MinLat float64 `json:"minLat" minimum:"-90" maximum:"90" example:"60.7"`
		MaxLon float64 `json:"maxLon" minimum:"-180" maximum:"180" example:"11.3"`
		MaxLat float64 `json:"maxLat" minimum:"-90" maximum:"90" example:"60.8"`
	}
}

type BBoxModeInput struct {
	Body struct {
		Mode geo.FilterMode `json:"mode" enum:"inclusive,exclusive" doc:"inclusive keeps fields entirely inside the box"`
	}
}

type MapTypeInput struct {
	Body struct {
		MapType string `json:"mapType" minLength:"1" example:"NDVI"`
	}
}

type DateInput struct {
	Body struct {
		Date string `json:"date" minLength:"1" example:"2024-06-01"`
	}
}

type AuthBody struct {
	Authenticated bool      `json:"authenticated"`
	ExpiresAt     time.Time `json:"expiresAt,omitempty"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterView registers the view snapshot route.
func (h *APIHandler) RegisterView(api huma.API) {
	huma.Get(api, "/api/v1/view", h.GetView, huma.OperationTags("view"))
}

// RegisterAuth registers token routes.
func (h *APIHandler) RegisterAuth(api huma.API) {
	huma.Post(api, "/api/v1/auth/token", h.FetchToken, huma.OperationTags("auth"))
}

// RegisterSelection registers field selection routes.
func (h *APIHandler) RegisterSelection(api huma.API) {
	huma.Post(api, "/api/v1/selection/location", h.SelectLocation, huma.OperationTags("selection"))
	huma.Post(api, "/api/v1/selection/bbox", h.SelectBBox, huma.OperationTags("selection"))
	huma.Put(api, "/api/v1/selection/bbox/mode", h.SetBBoxMode, huma.OperationTags("selection"))
	huma.Post(api, "/api/v1/selection/fields", h.CreateField, huma.OperationTags("selection"))
}

// RegisterOverlay registers overlay state machine routes.
func (h *APIHandler) RegisterOverlay(api huma.API) {
	huma.Post(api, "/api/v1/overlay/maps", h.ShowMaps, huma.OperationTags("overlay"))
	huma.Delete(api, "/api/v1/overlay/maps", h.HideMaps, huma.OperationTags("overlay"))
	huma.Post(api, "/api/v1/overlay/analytics", h.ShowAnalytics, huma.OperationTags("overlay"))
	huma.Delete(api, "/api/v1/overlay/analytics", h.HideAnalytics, huma.OperationTags("overlay"))
	huma.Put(api, "/api/v1/overlay/map-type", h.SetMapType, huma.OperationTags("overlay"))
	huma.Put(api, "/api/v1/overlay/date", h.SetDate, huma.OperationTags("overlay"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetView(ctx context.Context, input *struct{}) (*ViewOutput, error) {
	return h.view(), nil
}

func (h *APIHandler) FetchToken(ctx context.Context, input *struct{}) (*struct{ Body AuthBody }, error) {
	if err := h.svc.Session.Authenticate(ctx); err != nil {
		return nil, huma.Error502BadGateway("token request failed", err)
	}
	body := AuthBody{Authenticated: true}
	if h.svc.Gateway != nil {
		body.ExpiresAt = h.svc.Gateway.TokenExpiry()
	}
	return &struct{ Body AuthBody }{Body: body}, nil
}

func (h *APIHandler) SelectLocation(ctx context.Context, input *PointInput) (*ViewOutput, error) {
	return h.run(ctx, "select_location", func(ctx context.Context) error {
		return h.svc.Session.SelectLocation(ctx, input.Body.Lon, input.Body.Lat)
	})
}

func (h *APIHandler) SelectBBox(ctx context.Context, input *BBoxInput) (*ViewOutput, error) {
	b := orb.Bound{
		Min: orb.Point{input.Body.MinLon, input.Body.MinLat},
		Max: orb.Point{input.Body.MaxLon, input.Body.MaxLat},
	}
	return h.run(ctx, "select_bbox", func(ctx context.Context) error {
		return h.svc.Session.SelectFieldsInBBox(ctx, b)
	})
}

func (h *APIHandler) SetBBoxMode(ctx context.Context, input *BBoxModeInput) (*ViewOutput, error) {
	h.svc.Session.SetBBoxMode(geo.ParseFilterMode(string(input.Body.Mode)))
	return h.view(), nil
}

func (h *APIHandler) CreateField(ctx context.Context, input *PointInput) (*ViewOutput, error) {
	return h.run(ctx, "create_field", func(ctx context.Context) error {
		return h.svc.Session.CreateFieldAt(ctx, input.Body.Lon, input.Body.Lat)
	})
}

func (h *APIHandler) ShowMaps(ctx context.Context, input *struct{}) (*ViewOutput, error) {
	return h.run(ctx, "show_maps", h.svc.Session.ShowMaps)
}

func (h *APIHandler) HideMaps(ctx context.Context, input *struct{}) (*ViewOutput, error) {
	h.svc.Session.HideMaps()
	return h.view(), nil
}

func (h *APIHandler) ShowAnalytics(ctx context.Context, input *struct{}) (*ViewOutput, error) {
	return h.run(ctx, "show_analytics", h.svc.Session.ShowAnalytics)
}

func (h *APIHandler) HideAnalytics(ctx context.Context, input *struct{}) (*ViewOutput, error) {
	h.svc.Session.HideAnalytics()
	return h.view(), nil
}

func (h *APIHandler) SetMapType(ctx context.Context, input *MapTypeInput) (*ViewOutput, error) {
	return h.run(ctx, "set_map_type", func(ctx context.Context) error {
		return h.svc.Session.SetMapType(ctx, input.Body.MapType)
	})
}

func (h *APIHandler) SetDate(ctx context.Context, input *DateInput) (*ViewOutput, error) {
	return h.run(ctx, "set_date", func(ctx context.Context) error {
		return h.svc.Session.SetDate(ctx, input.Body.Date)
	})
}

// run executes a workflow operation under a fresh correlation id and returns
// the resulting view.
func (h *APIHandler) run(ctx context.Context, op string, fn func(context.Context) error) (*ViewOutput, error) {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	logging.Ctx(ctx).Debug().Str("op", op).Msg("api request")
	if err := fn(ctx); err != nil {
		return nil, httpError(err)
	}
	return h.view(), nil
}

func (h *APIHandler) view() *ViewOutput {
	return &ViewOutput{Body: ViewBody{*h.svc.Session.View()}}
}

// httpError maps workflow errors to API errors.
func httpError(err error) error {
	switch {
	case errors.Is(err, service.ErrTransitionRejected), errors.Is(err, service.ErrNoSelection):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, service.ErrInvalidBounds), errors.Is(err, service.ErrUnknownDate), errors.Is(err, service.ErrUnknownType):
		return huma.Error400BadRequest(err.Error())
	default:
		return huma.Error500InternalServerError("operation failed", err)
	}
}
