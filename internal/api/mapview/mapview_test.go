package mapview

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/joeblew999/plat-field/internal/metrics"
	"github.com/joeblew999/plat-field/internal/service"
	"github.com/joeblew999/plat-field/internal/service/servicetest"
	"github.com/joeblew999/plat-field/internal/templates"
)

func setup(t *testing.T) (*http.ServeMux, *service.Session) {
	t.Helper()
	session := service.NewSession(servicetest.Wheat(), service.NewBus(), service.DefaultOptions())
	mux := http.NewServeMux()
	api := humago.New(mux, huma.DefaultConfig("test", "1.0.0"))
	NewHandler(session, templates.Default()).RegisterRoutes(api)
	return mux, session
}

func post(t *testing.T, mux *http.ServeMux, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestClickSelectsField(t *testing.T) {
	mux, session := setup(t)

	rec := post(t, mux, "/api/v1/map/click", `{"lon": 11.19, "lat": "60.74"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	v := session.View()
	if v.Polygon == nil || v.Polygon.Field.ID != "F1" || v.SeasonField == nil || v.SeasonField.Crop.Name != "Wheat" {
		t.Fatalf("view = %+v", v)
	}
}

func TestClickValidation(t *testing.T) {
	mux, _ := setup(t)
	for _, body := range []string{`{}`, `{"lon": 200, "lat": 0}`, `{"lon": "x", "lat": 1}`, `{`} {
		if rec := post(t, mux, "/api/v1/map/click", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestToggleMaps(t *testing.T) {
	mux, session := setup(t)

	rec := post(t, mux, "/api/v1/map/maps", ``)
	if !strings.Contains(rec.Body.String(), "Select a field with season data first") {
		t.Errorf("no-selection response = %s", rec.Body.String())
	}

	post(t, mux, "/api/v1/map/click", `{"lon": 11.19, "lat": 60.74}`)
	post(t, mux, "/api/v1/map/maps", ``)
	if v := session.View(); v.Mode != service.ModeMapOverlay || v.Overlay == nil {
		t.Fatalf("after toggle on: mode=%s overlay=%v", v.Mode, v.Overlay)
	}

	post(t, mux, "/api/v1/map/date", `{"date": "2024-05-01"}`)
	if v := session.View(); v.SelectedDate != "2024-05-01" {
		t.Errorf("selected date = %q", v.SelectedDate)
	}

	post(t, mux, "/api/v1/map/analytics", ``)
	if v := session.View(); v.Mode != service.ModeAnalytics || v.Dashboard == nil {
		t.Fatalf("after analytics: mode=%s", v.Mode)
	}
	rec = post(t, mux, "/api/v1/map/maps", ``)
	if !strings.Contains(rec.Body.String(), "Please wait") {
		t.Errorf("maps during analytics = %s", rec.Body.String())
	}
	post(t, mux, "/api/v1/map/analytics", ``)
	post(t, mux, "/api/v1/map/maps", ``)
	if v := session.View(); v.Mode != service.ModeHidden || v.Overlay != nil {
		t.Errorf("after toggle off: mode=%s overlay=%v", v.Mode, v.Overlay)
	}
}

func TestStream(t *testing.T) {
	mux, session := setup(t)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/map/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	var body strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	readUntil := func(marker string) {
		t.Helper()
		for scanner.Scan() {
			body.WriteString(scanner.Text())
			body.WriteByte('\n')
			if strings.Contains(scanner.Text(), marker) {
				return
			}
		}
		t.Fatalf("stream ended before %q: %v", marker, scanner.Err())
	}

	// The initial view arrives after the stream has subscribed.
	readUntil("event: datastar-patch-signals")
	if n := testutil.ToFloat64(metrics.SSEClients); n != 1 {
		t.Errorf("sse clients = %v, want 1", n)
	}
	if err := session.SelectLocation(context.Background(), 11.19, 60.74); err != nil {
		t.Fatal(err)
	}
	readUntil("Wheat")

	for _, want := range []string{InstructionsEvent, "draw_polygon", "Field F1", "#season-field-popup"} {
		if !strings.Contains(body.String(), want) {
			t.Errorf("stream missing %q", want)
		}
	}

	resp.Body.Close()
	deadline := time.Now().Add(2 * time.Second)
	for session.Bus().Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription leaked after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSignalsFor(t *testing.T) {
	s := signalsFor(&service.View{
		Mode:   service.ModeMapOverlay,
		Status: &service.Status{Kind: service.StatusError, Message: "No image URL available"},
		Fields: &service.FieldsLayer{Mode: "inclusive", Total: 5, Features: make([]service.FieldFeature, 2)},
	})
	if s["mode"] != "map_overlay" || s["statusmessage"] != "No image URL available" || s["statuskind"] != "error" {
		t.Errorf("signals = %v", s)
	}
	if s["bboxmode"] != "inclusive" || s["fieldsvisible"] != 2 || s["fieldstotal"] != 5 {
		t.Errorf("fields signals = %v", s)
	}
}
