package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joeblew999/plat-field/internal/api"
	"github.com/joeblew999/plat-field/internal/api/mapview"
	"github.com/joeblew999/plat-field/internal/db"
	"github.com/joeblew999/plat-field/internal/gateway"
	"github.com/joeblew999/plat-field/internal/humastar"
	"github.com/joeblew999/plat-field/internal/logging"
	"github.com/joeblew999/plat-field/internal/service"
	"github.com/joeblew999/plat-field/internal/templates"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string // Selection archive location; empty keeps it in memory
	WebDir  string // Path to web/ directory for static files and templates

	Gateway gateway.Config
	Options service.Options
}

// Gateway is the remote access the server needs: the workflow calls plus
// health reporting. *gateway.Client implements it.
type Gateway interface {
	service.Gateway
	api.GatewayStatus
}

// Option customizes a Server.
type Option func(*Server)

// WithGateway replaces the gateway client built from Config.Gateway.
func WithGateway(gw Gateway) Option {
	return func(s *Server) { s.gateway = gw }
}

// Server is the field map HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	gateway  Gateway
	archive  *db.Archive
	session  *service.Session
	services *api.Services
	renderer *templates.Renderer
}

// New creates a new field server.
func New(cfg Config, opts ...Option) (*Server, error) {
	s := &Server{config: cfg, mux: http.NewServeMux()}
	for _, o := range opts {
		o(s)
	}

	if s.gateway == nil {
		client, err := gateway.New(cfg.Gateway)
		if err != nil {
			return nil, err
		}
		s.gateway = client
	}

	log := logging.WithComponent("server")

	// The archive is optional: a server without one still serves the map.
	archive, err := db.Open(db.Config{DataDir: cfg.DataDir, DBName: "field"})
	if err != nil {
		log.Warn().Err(err).Str("data_dir", cfg.DataDir).Msg("selection archive unavailable")
	} else {
		s.archive = archive
	}

	var sopts []service.SessionOption
	if s.archive != nil {
		sopts = append(sopts, service.WithRecorder(s.archive))
	}
	// One session per process: every browser tab and API client drives the
	// same map view.
	s.session = service.NewSession(s.gateway, service.NewBus(), cfg.Options, sopts...)
	s.services = &api.Services{Session: s.session, Gateway: s.gateway, Archive: s.archive}

	s.renderer = templates.Default()
	if cfg.WebDir != "" {
		templatesDir := filepath.Join(cfg.WebDir, "templates")
		if _, err := os.Stat(filepath.Join(templatesDir, "fragments")); err == nil {
			if err := s.renderer.Reload(os.DirFS(templatesDir)); err != nil {
				log.Warn().Err(err).Str("dir", templatesDir).Msg("fragment templates not loaded, using built-in")
			} else {
				log.Info().Str("dir", templatesDir).Msg("loaded fragment templates")
			}
		}
	}

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("plat-field API", "1.0.0")
	humaConfig.Info.Description = "Field selection and imagery overlay API for the field map."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, humastar.LinkTransformer(api.Links))
	s.humaAPI = humago.New(s.mux, humaConfig)

	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI document.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Session returns the map view workflow.
func (s *Server) Session() *service.Session {
	return s.session
}

// Close closes server resources.
func (s *Server) Close() error {
	if s.archive == nil {
		return nil
	}
	return s.archive.Close()
}

func (s *Server) routes() {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(s.services))
	api.NewInfoHandler(s.config.DataDir, s.services, s.config.Options.MapTypes).RegisterRoutes(s.humaAPI)
	api.NewDBHandler(s.archive).RegisterRoutes(s.humaAPI)

	// Map view SSE stream and Datastar events
	mapview.NewHandler(s.session, s.renderer).RegisterRoutes(s.humaAPI)

	s.mux.Handle("/metrics", promhttp.Handler())

	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}

	// Page routes
	s.mux.HandleFunc("/map", s.handleMap)
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-field",
		"status":  "running",
		"map":     "/map",
	})
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	if s.config.WebDir == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.config.WebDir, "templates", "map.html"))
}
