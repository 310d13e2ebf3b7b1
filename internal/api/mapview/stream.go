// Package mapview is the Datastar presentation adapter: it streams view
// snapshots and render instructions to the browser map and turns map events
// into workflow operations.
package mapview

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-field/internal/humastar"
	"github.com/joeblew999/plat-field/internal/logging"
	"github.com/joeblew999/plat-field/internal/metrics"
	"github.com/joeblew999/plat-field/internal/service"
	"github.com/joeblew999/plat-field/internal/templates"
)

// InstructionsEvent is the CustomEvent name carrying render instructions.
const InstructionsEvent = "map-instructions"

// Fragment targets in the map page.
const (
	fieldPopupSelector  = "#field-popup"
	seasonPopupSelector = "#season-field-popup"
	statusSelector      = "#map-status"
)

// Handler serves the map view stream and its event endpoints.
type Handler struct {
	humastar.Handler
	session *service.Session
}

// NewHandler creates a map view handler.
func NewHandler(session *service.Session, renderer *templates.Renderer) *Handler {
	return &Handler{
		Handler: humastar.Handler{Renderer: renderer},
		session: session,
	}
}

func (h *Handler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/map/stream", h.Stream, huma.OperationTags("mapview"))
	h.registerEvents(api)
}

// Stream sends the current view, then every published view, as signals plus
// the instructions that turn the previous view into the new one.
func (h *Handler) Stream(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	return h.Handler.Stream(func(sse humastar.SSE) {
		metrics.SSEClients.Inc()
		defer metrics.SSEClients.Dec()

		ch := h.session.Bus().Subscribe()
		defer h.session.Bus().Unsubscribe(ch)

		var prev *service.View
		send := func(v *service.View) bool {
			if err := h.render(sse, prev, v); err != nil {
				logging.Ctx(ctx).Debug().Err(err).Msg("map stream closed")
				return false
			}
			prev = v
			return true
		}

		// dismiss fires when the shown status expires; nil while none is shown.
		var dismiss <-chan time.Time
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()
		arm := func(v *service.View) {
			if timer != nil {
				timer.Stop()
				dismiss = nil
			}
			if v.Status != nil && !v.Status.Expires.IsZero() {
				timer = time.NewTimer(time.Until(v.Status.Expires))
				dismiss = timer.C
			}
		}

		if !send(h.session.View()) {
			return
		}
		arm(prev)
		for {
			select {
			case <-ctx.Done():
				return
			case <-dismiss:
				dismiss = nil
				if err := h.dismissStatus(sse); err != nil {
					return
				}
			case v, ok := <-ch:
				if !ok || !send(v) {
					return
				}
				arm(v)
			}
		}
	}), nil
}

// render writes one view update. Popups and the status line are patched
// only when they change.
func (h *Handler) render(sse humastar.SSE, prev, next *service.View) error {
	if err := sse.Signals(signalsFor(next)); err != nil {
		return err
	}
	if ins := service.Diff(prev, next); len(ins) > 0 {
		if err := sse.Event(InstructionsEvent, map[string]any{"generation": next.Generation, "instructions": ins}); err != nil {
			return err
		}
	}

	if prev == nil || polygonChanged(prev, next) {
		html := ""
		if next.Polygon != nil {
			html = h.Fragment("field-popup", next.Polygon.Field)
		}
		if err := sse.Patch(html, fieldPopupSelector); err != nil {
			return err
		}
	}
	if prev == nil || prev.SeasonField != next.SeasonField {
		html := ""
		if next.SeasonField != nil {
			html = h.Fragment("season-field-popup", next.SeasonField)
		}
		if err := sse.Patch(html, seasonPopupSelector); err != nil {
			return err
		}
	}
	if prev == nil || statusChanged(prev.Status, next.Status) {
		if err := sse.Replace(h.Fragment("status", next.Status), statusSelector); err != nil {
			return err
		}
	}
	return nil
}

// dismissStatus clears the status line and its signals.
func (h *Handler) dismissStatus(sse humastar.SSE) error {
	if err := sse.Signals(map[string]any{"statuskind": "", "statusmessage": ""}); err != nil {
		return err
	}
	return sse.Replace(h.Fragment("status", nil), statusSelector)
}

func polygonChanged(prev, next *service.View) bool {
	switch {
	case prev.Polygon == nil || next.Polygon == nil:
		return prev.Polygon != next.Polygon
	default:
		return prev.Polygon.Field != next.Polygon.Field
	}
}

func statusChanged(a, b *service.Status) bool {
	if a == nil || b == nil {
		return a != b
	}
	return *a != *b
}

// signalsFor flattens the parts of a view that Datastar binds to controls.
func signalsFor(v *service.View) map[string]any {
	s := map[string]any{
		"generation":      v.Generation,
		"mode":            string(v.Mode),
		"loading":         v.Loading,
		"controls":        v.Controls,
		"maptypes":        v.MapTypes,
		"maptype":         v.SelectedMapType,
		"dates":           v.AvailableDates,
		"date":            v.SelectedDate,
		"statuskind":      "",
		"statusmessage":   "",
		"fieldid":         "",
		"seasonfieldid":   "",
		"bboxmode":        "",
		"fieldsvisible":   0,
		"fieldstotal":     0,
		"dashboardloaded": v.Dashboard != nil && v.Dashboard.Series != nil,
	}
	if v.Status != nil {
		s["statuskind"] = string(v.Status.Kind)
		s["statusmessage"] = v.Status.Message
	}
	if v.Polygon != nil {
		s["fieldid"] = v.Polygon.Field.ID
	}
	if v.SeasonField != nil {
		s["seasonfieldid"] = v.SeasonField.ID
	}
	if v.Fields != nil {
		s["bboxmode"] = string(v.Fields.Mode)
		s["fieldsvisible"] = len(v.Fields.Features)
		s["fieldstotal"] = v.Fields.Total
	}
	return s
}
