package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-field/internal/models"
)

func openTest(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(Config{DataDir: t.TempDir(), DBName: "test"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })

	clock := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return a
}

func testField(t *testing.T, id string, x float64) *models.FieldPolygon {
	t.Helper()
	f := geojson.NewFeature(orb.Polygon{{{x, 0}, {x + 0.01, 0}, {x + 0.01, 0.01}, {x, 0.01}, {x, 0}}})
	f.Properties["id"] = id
	p, err := models.FieldFromFeature(f)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestArchiveFields(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()

	if err := a.RecordField(ctx, testField(t, "F1", 0)); err != nil {
		t.Fatal(err)
	}
	if err := a.RecordSeasonField(ctx, "F1", &models.SeasonField{ID: "SF1", Crop: models.NamedRef{Name: "Wheat"}}); err != nil {
		t.Fatal(err)
	}
	if err := a.RecordField(ctx, testField(t, "F2", 1)); err != nil {
		t.Fatal(err)
	}

	recs, total, err := a.Fields(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(recs) != 2 {
		t.Fatalf("total=%d len=%d, want 2", total, len(recs))
	}
	if recs[0].FieldID != "F2" || recs[0].SeasonFieldID != "" {
		t.Errorf("newest = %+v, want F2 without season field", recs[0])
	}
	if recs[1].FieldID != "F1" || recs[1].SeasonFieldID != "SF1" || recs[1].Crop != "Wheat" {
		t.Errorf("oldest = %+v, want F1/SF1/Wheat", recs[1])
	}
	if recs[1].BBox[0] != 0 || recs[1].AreaHectares <= 0 {
		t.Errorf("bbox=%v area=%v", recs[1].BBox, recs[1].AreaHectares)
	}

	page, _, err := a.Fields(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].FieldID != "F1" {
		t.Errorf("page = %+v", page)
	}
}

func TestArchiveQuery(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	if err := a.RecordCreation(ctx, "F1", 11.19, 60.74, true); err != nil {
		t.Fatal(err)
	}

	res, err := a.Query(ctx, "SELECT field_id, created FROM creations;")
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 1 || res.Rows[0]["field_id"] != "F1" || res.Rows[0]["created"] != true {
		t.Errorf("result = %+v", res)
	}

	tables, err := a.Tables(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 3 {
		t.Errorf("tables = %v", tables)
	}
}

func TestQueryCannotReadFiles(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	secret := filepath.Join(t.TempDir(), "secret.csv")
	if err := os.WriteFile(secret, []byte("user,password\nroot,hunter2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	// Fresh pool connections get the same restriction.
	a.db.SetMaxIdleConns(0)
	for _, q := range []string{
		"SELECT * FROM read_text('" + secret + "')",
		"SELECT * FROM read_csv('" + secret + "')",
		"FROM '" + secret + "'",
	} {
		if res, err := a.Query(ctx, q); err == nil {
			t.Errorf("%s: read %d rows, want error", q, res.Count)
		}
	}
	if _, err := a.Query(ctx, "SELECT count(*) AS n FROM fields"); err != nil {
		t.Fatalf("archive tables unreadable: %v", err)
	}
}

func TestReadOnly(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT 1", true},
		{"  with x as (select 1) select * from x", true},
		{"SHOW TABLES;", true},
		{"DELETE FROM fields", false},
		{"SELECT 1; DROP TABLE fields", false},
		{"", false},
		{"INSERT INTO fields VALUES (1)", false},
	}
	for _, tt := range tests {
		if got := readOnly(tt.query); got != tt.want {
			t.Errorf("readOnly(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}

	a := openTest(t)
	if _, err := a.Query(context.Background(), "DROP TABLE fields"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("err = %v, want ErrReadOnly", err)
	}
}
