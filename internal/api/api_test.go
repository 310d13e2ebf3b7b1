package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/goccy/go-json"

	"github.com/joeblew999/plat-field/internal/db"
	"github.com/joeblew999/plat-field/internal/humastar"
	"github.com/joeblew999/plat-field/internal/service"
	"github.com/joeblew999/plat-field/internal/service/servicetest"
)

type testAPI struct {
	mux     *http.ServeMux
	gw      *servicetest.Gateway
	session *service.Session
}

func newTestAPI(t *testing.T, archive *db.Archive) *testAPI {
	t.Helper()
	gw := servicetest.Wheat()
	var sopts []service.SessionOption
	if archive != nil {
		sopts = append(sopts, service.WithRecorder(archive))
	}
	session := service.NewSession(gw, service.NewBus(), service.DefaultOptions(), sopts...)
	svc := &Services{Session: session, Gateway: gw, Archive: archive}

	cfg := huma.DefaultConfig("test", "1.0.0")
	cfg.Transformers = append(cfg.Transformers, humastar.LinkTransformer(Links))
	mux := http.NewServeMux()
	api := humago.New(mux, cfg)
	huma.AutoRegister(api, NewAPIHandler(svc))
	NewInfoHandler("/tmp/data", svc, service.DefaultOptions().MapTypes).RegisterRoutes(api)
	NewDBHandler(archive).RegisterRoutes(api)
	return &testAPI{mux: mux, gw: gw, session: session}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func hasLink(rec *httptest.ResponseRecorder, rel string) bool {
	for _, l := range rec.Header().Values("Link") {
		if strings.Contains(l, `rel="`+rel+`"`) {
			return true
		}
	}
	return false
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode[HealthBody](t, rec); body.Status != "ok" {
		t.Fatalf("status=%q, want ok", body.Status)
	}
	if !hasLink(rec, "service-desc") || !hasLink(rec, "view") {
		t.Errorf("links = %v", rec.Header().Values("Link"))
	}
}

func TestInfo(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodGet, "/api/v1/info", "")
	body := decode[InfoBody](t, rec)
	if body.Name != "plat-field" || body.DB {
		t.Fatalf("info = %+v", body)
	}
	if body.Breakers["geosys"] != "closed" || body.TokenExpiry != nil {
		t.Errorf("breakers=%v expiry=%v", body.Breakers, body.TokenExpiry)
	}
	if len(body.MapTypes) == 0 || body.MapTypes[0] != "NDVI" {
		t.Errorf("map types = %v", body.MapTypes)
	}
}

func TestFetchToken(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodPost, "/api/v1/auth/token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !decode[AuthBody](t, rec).Authenticated || a.gw.Tokens != 1 {
		t.Errorf("body=%s tokens=%d", rec.Body.String(), a.gw.Tokens)
	}
}

func TestSelectLocation(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodPost, "/api/v1/selection/location", `{"lon": 11.19, "lat": 60.74}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	v := decode[service.View](t, rec)
	if v.Polygon == nil || v.Polygon.Field.ID != "F1" {
		t.Fatalf("polygon = %+v", v.Polygon)
	}
	if v.SeasonField == nil || v.SeasonField.ID != "SF1" || v.SeasonField.Crop.Name != "Wheat" {
		t.Fatalf("season field = %+v", v.SeasonField)
	}
	if !hasLink(rec, "show-maps") || !hasLink(rec, "show-analytics") || hasLink(rec, "hide-maps") {
		t.Errorf("action links = %v", rec.Header().Values("Link"))
	}

	rec = a.do(t, http.MethodPost, "/api/v1/selection/location", `{"lon": 181, "lat": 0}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("out of range lon: status = %d", rec.Code)
	}
}

func TestOverlayTransitions(t *testing.T) {
	a := newTestAPI(t, nil)

	if rec := a.do(t, http.MethodPost, "/api/v1/overlay/maps", ""); rec.Code != http.StatusConflict {
		t.Fatalf("maps without selection: status = %d", rec.Code)
	}

	a.do(t, http.MethodPost, "/api/v1/selection/location", `{"lon": 11.19, "lat": 60.74}`)
	rec := a.do(t, http.MethodPost, "/api/v1/overlay/maps", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("show maps: status = %d: %s", rec.Code, rec.Body.String())
	}
	v := decode[service.View](t, rec)
	if v.Mode != service.ModeMapOverlay || v.Overlay == nil || v.Overlay.URL != "https://imagery.example/jun-ndvi.png" {
		t.Fatalf("overlay view = %+v", v)
	}
	if v.Polygon.Style.FillOpacity != 0 {
		t.Errorf("polygon fill = %v, want 0", v.Polygon.Style.FillOpacity)
	}
	if !hasLink(rec, "hide-maps") {
		t.Errorf("links = %v", rec.Header().Values("Link"))
	}

	if rec := a.do(t, http.MethodPut, "/api/v1/overlay/date", `{"date": "1999-01-01"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown date: status = %d", rec.Code)
	}
	rec = a.do(t, http.MethodPut, "/api/v1/overlay/date", `{"date": "2024-05-01"}`)
	if v := decode[service.View](t, rec); v.Overlay == nil || v.Overlay.URL != "https://imagery.example/may-ndvi.png" {
		t.Errorf("date change overlay = %+v", v.Overlay)
	}

	if rec := a.do(t, http.MethodPost, "/api/v1/overlay/analytics", ""); rec.Code != http.StatusOK {
		t.Fatalf("show analytics: status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := a.do(t, http.MethodPost, "/api/v1/overlay/maps", ""); rec.Code != http.StatusConflict {
		t.Errorf("maps during analytics: status = %d, want 409", rec.Code)
	}

	rec = a.do(t, http.MethodDelete, "/api/v1/overlay/analytics", "")
	if v := decode[service.View](t, rec); v.Mode != service.ModeMapOverlay || v.Overlay == nil {
		t.Errorf("after hide analytics: mode=%s overlay=%v", v.Mode, v.Overlay)
	}
	rec = a.do(t, http.MethodDelete, "/api/v1/overlay/maps", "")
	v = decode[service.View](t, rec)
	if v.Mode != service.ModeHidden || v.Overlay != nil || v.Polygon.Style.FillOpacity != 0.3 {
		t.Errorf("after hide maps: %+v", v)
	}
}

func TestSelectBBoxInvalid(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodPost, "/api/v1/selection/bbox", `{"minLon": 11.3, "minLat": 60.7, "maxLon": 11.1, "maxLat": 60.8}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestArchive(t *testing.T) {
	archive, err := db.Open(db.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer archive.Close()
	a := newTestAPI(t, archive)

	a.do(t, http.MethodPost, "/api/v1/selection/location", `{"lon": 11.19, "lat": 60.74}`)

	rec := a.do(t, http.MethodGet, "/api/v1/archive/fields?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	page := decode[humastar.PageBody[db.FieldRecord]](t, rec)
	if page.Total != 1 || len(page.Data) != 1 || page.Data[0].FieldID != "F1" || page.Data[0].Crop != "Wheat" {
		t.Fatalf("page = %+v", page)
	}
	if !hasLink(rec, "first") || !hasLink(rec, "last") || hasLink(rec, "next") {
		t.Errorf("links = %v", rec.Header().Values("Link"))
	}

	rec = a.do(t, http.MethodPost, "/api/v1/archive/query", `{"query": "SELECT field_id FROM fields"}`)
	if res := decode[db.Result](t, rec); res.Count != 1 {
		t.Errorf("query result = %+v", res)
	}
	if rec := a.do(t, http.MethodPost, "/api/v1/archive/query", `{"query": "DELETE FROM fields"}`); rec.Code != http.StatusForbidden {
		t.Errorf("write query: status = %d, want 403", rec.Code)
	}
}

func TestArchiveUnavailable(t *testing.T) {
	a := newTestAPI(t, nil)
	if rec := a.do(t, http.MethodGet, "/api/v1/archive/tables", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHTTPError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrTransitionRejected, http.StatusConflict},
		{service.ErrNoSelection, http.StatusConflict},
		{service.ErrInvalidBounds, http.StatusBadRequest},
		{service.ErrUnknownType, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		var se huma.StatusError
		if !errors.As(httpError(tt.err), &se) || se.GetStatus() != tt.want {
			t.Errorf("httpError(%v) = %v, want %d", tt.err, httpError(tt.err), tt.want)
		}
	}
}
