// Package db archives resolved field selections in DuckDB.
package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/marcboeker/go-duckdb"

	"github.com/joeblew999/plat-field/internal/logging"
	"github.com/joeblew999/plat-field/internal/models"
)

// ErrReadOnly is returned by Query for statements that could modify the archive.
var ErrReadOnly = errors.New("only read-only statements are allowed")

// Config holds database configuration. An empty DataDir opens an in-memory
// database.
type Config struct {
	DataDir string
	DBName  string
}

// Archive records every field, season field and creation attempt the
// workflow resolves.
type Archive struct {
	db  *sql.DB
	now func() time.Time
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS fields (
		field_id    VARCHAR,
		area_ha     DOUBLE,
		min_lon     DOUBLE,
		min_lat     DOUBLE,
		max_lon     DOUBLE,
		max_lat     DOUBLE,
		geojson     VARCHAR,
		selected_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS season_fields (
		field_id        VARCHAR,
		season_field_id VARCHAR,
		name            VARCHAR,
		crop            VARCHAR,
		sowing_date     VARCHAR,
		acreage         DOUBLE,
		resolved_at     TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS creations (
		field_id   VARCHAR,
		lon        DOUBLE,
		lat        DOUBLE,
		created    BOOLEAN,
		created_at TIMESTAMP
	)`,
}

// Open opens (creating if needed) the archive and its tables.
func Open(cfg Config) (*Archive, error) {
	dsn := ""
	if cfg.DataDir != "" {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
		}
		name := cfg.DBName
		if name == "" {
			name = "field"
		}
		dsn = filepath.Join(duckdbDir, name+".duckdb")
	}

	// Every pooled connection starts with file and network access disabled,
	// so ad-hoc queries only see the archive tables.
	connector, err := duckdb.NewConnector(dsn, func(execer driver.ExecerContext) error {
		_, err := execer.ExecContext(context.Background(), "SET enable_external_access = false", nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	conn := sql.OpenDB(connector)
	for _, stmt := range schema {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("create archive schema: %w", err)
		}
	}
	log := logging.WithComponent("archive")
	log.Info().Str("path", dsn).Msg("archive opened")
	return &Archive{db: conn, now: time.Now}, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// RecordField stores a selected field polygon.
func (a *Archive) RecordField(ctx context.Context, f *models.FieldPolygon) error {
	geom, err := json.Marshal(f.Feature)
	if err != nil {
		return fmt.Errorf("encode field %s: %w", f.ID, err)
	}
	b := f.Bound()
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO fields VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.AreaHa, b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat(), string(geom), a.now().UTC())
	return err
}

// RecordSeasonField stores the season field resolved for fieldID.
func (a *Archive) RecordSeasonField(ctx context.Context, fieldID string, sf *models.SeasonField) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO season_fields VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fieldID, sf.ID, sf.Field.Name, sf.Crop.Name, sf.SowingDate, sf.Acreage, a.now().UTC())
	return err
}

// RecordCreation stores the outcome of a field creation request.
func (a *Archive) RecordCreation(ctx context.Context, fieldID string, lon, lat float64, created bool) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO creations VALUES (?, ?, ?, ?, ?)`,
		fieldID, lon, lat, created, a.now().UTC())
	return err
}

// FieldRecord is one archived field selection joined with its latest season
// field, if any.
type FieldRecord struct {
	FieldID       string    `json:"fieldId"`
	AreaHectares  float64   `json:"areaHectares"`
	BBox          []float64 `json:"bbox" doc:"minLon, minLat, maxLon, maxLat"`
	SeasonFieldID string    `json:"seasonFieldId,omitempty"`
	Crop          string    `json:"crop,omitempty"`
	SelectedAt    time.Time `json:"selectedAt"`
}

// Fields lists archived selections, newest first, and the total count.
func (a *Archive) Fields(ctx context.Context, offset, limit int) ([]FieldRecord, int, error) {
	var total int
	if err := a.db.QueryRowContext(ctx, `SELECT count(*) FROM fields`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT f.field_id, f.area_ha, f.min_lon, f.min_lat, f.max_lon, f.max_lat,
		       coalesce(s.season_field_id, ''), coalesce(s.crop, ''), f.selected_at
		FROM fields f
		LEFT JOIN (
			SELECT field_id, season_field_id, crop,
			       row_number() OVER (PARTITION BY field_id ORDER BY resolved_at DESC) AS rn
			FROM season_fields
		) s ON s.field_id = f.field_id AND s.rn = 1
		ORDER BY f.selected_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []FieldRecord{}
	for rows.Next() {
		var r FieldRecord
		var minLon, minLat, maxLon, maxLat float64
		if err := rows.Scan(&r.FieldID, &r.AreaHectares, &minLon, &minLat, &maxLon, &maxLat,
			&r.SeasonFieldID, &r.Crop, &r.SelectedAt); err != nil {
			return nil, 0, err
		}
		r.BBox = []float64{minLon, minLat, maxLon, maxLat}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// Tables lists the archive tables.
func (a *Archive) Tables(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}
	return tables, rows.Err()
}

// Result is a generic query result.
type Result struct {
	Columns []string         `json:"columns" doc:"Column names"`
	Rows    []map[string]any `json:"rows" doc:"Query results"`
	Count   int              `json:"count" doc:"Number of rows returned"`
}

// Query runs a read-only statement against the archive.
func (a *Archive) Query(ctx context.Context, query string) (*Result, error) {
	if !readOnly(query) {
		return nil, ErrReadOnly
	}
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &Result{Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		res.Rows = append(res.Rows, row)
	}
	res.Count = len(res.Rows)
	return res, rows.Err()
}

func readOnly(query string) bool {
	q := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	if q == "" || strings.Contains(q, ";") {
		return false
	}
	first := strings.ToUpper(strings.Fields(q)[0])
	switch first {
	case "SELECT", "WITH", "SHOW", "DESCRIBE", "SUMMARIZE", "FROM":
		return true
	}
	return false
}
