package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-field/internal/db"
	"github.com/joeblew999/plat-field/internal/humastar"
)

// DBHandler serves the selection archive.
type DBHandler struct {
	archive *db.Archive
}

// NewDBHandler creates a new archive handler. archive may be nil.
func NewDBHandler(archive *db.Archive) *DBHandler {
	return &DBHandler{archive: archive}
}

// RegisterRoutes registers archive routes with Huma.
func (h *DBHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/archive/fields", h.ListFields, huma.OperationTags("archive"))
	huma.Get(api, "/api/v1/archive/tables", h.ListTables, huma.OperationTags("archive"))
	huma.Post(api, "/api/v1/archive/query", h.Query, huma.OperationTags("archive"))
}

type ListFieldsInput struct {
	Offset int `query:"offset" minimum:"0" default:"0"`
	Limit  int `query:"limit" minimum:"1" maximum:"500" default:"50"`
}

type FieldsOutput struct {
	Body humastar.PageBody[db.FieldRecord]
}

// ListFields returns archived selections, newest first.
func (h *DBHandler) ListFields(ctx context.Context, input *ListFieldsInput) (*FieldsOutput, error) {
	if h.archive == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	recs, total, err := h.archive.Fields(ctx, input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list fields", err)
	}
	return &FieldsOutput{Body: humastar.PageBody[db.FieldRecord]{
		Total:  total,
		Offset: input.Offset,
		Limit:  input.Limit,
		Data:   recs,
	}}, nil
}

// TablesOutput is the response for listing tables.
type TablesOutput struct {
	Body struct {
		Tables []string `json:"tables" doc:"List of table names"`
	}
}

// ListTables returns the archive tables.
func (h *DBHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	if h.archive == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	tables, err := h.archive.Tables(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	out := &TablesOutput{}
	out.Body.Tables = tables
	return out, nil
}

// QueryInput is the input for SQL queries.
type QueryInput struct {
	Body struct {
		Query string `json:"query" required:"true" minLength:"1" doc:"Read-only SQL statement" example:"SELECT * FROM season_fields"`
	}
}

// QueryOutput is the response for SQL queries.
type QueryOutput struct {
	Body *db.Result
}

// Query runs a read-only SQL statement against the archive.
func (h *DBHandler) Query(ctx context.Context, input *QueryInput) (*QueryOutput, error) {
	if h.archive == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	res, err := h.archive.Query(ctx, input.Body.Query)
	if errors.Is(err, db.ErrReadOnly) {
		return nil, huma.Error403Forbidden(err.Error())
	}
	if err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	return &QueryOutput{Body: res}, nil
}
