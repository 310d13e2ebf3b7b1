package api

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	dataDir  string
	svc      *Services
	mapTypes []string
}

func NewInfoHandler(dataDir string, svc *Services, mapTypes []string) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, svc: svc, mapTypes: mapTypes}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name        string            `json:"name" doc:"Service name"`
	Version     string            `json:"version" doc:"Service version"`
	DataDir     string            `json:"data_dir" doc:"Data directory path"`
	DB          bool              `json:"db" doc:"Whether the selection archive is available"`
	MapTypes    []string          `json:"map_types" doc:"Map types offered before a catalog is loaded"`
	Breakers    map[string]string `json:"breakers,omitempty" doc:"Circuit breaker state per upstream"`
	TokenExpiry *time.Time        `json:"token_expiry,omitempty" doc:"Expiry of the cached access token"`
	Features    []string          `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	body := InfoBody{
		Name:     "plat-field",
		Version:  "0.1.0",
		DataDir:  h.dataDir,
		DB:       h.svc.Archive != nil,
		MapTypes: h.mapTypes,
		Features: []string{"delineation", "season-fields", "imagery", "analytics", "field-creation"},
	}
	if h.svc.Archive != nil {
		body.Features = append(body.Features, "duckdb")
	}
	if g := h.svc.Gateway; g != nil {
		body.Breakers = g.BreakerStates()
		if exp := g.TokenExpiry(); !exp.IsZero() {
			body.TokenExpiry = &exp
		}
	}
	return &struct{ Body InfoBody }{Body: body}, nil
}
