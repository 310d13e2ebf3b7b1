package gateway

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-field/internal/models"
)

type featureProbe struct {
	Geometry json.RawMessage `json:"geometry"`
}

type collectionProbe struct {
	Features []json.RawMessage `json:"features"`
}

// FetchFieldAt returns the delineated field containing lon/lat.
func (c *Client) FetchFieldAt(ctx context.Context, lon, lat float64) (*models.FieldPolygon, error) {
	const op = "fetch_field_at"

	q := url.Values{}
	q.Set("token", c.cfg.DelineationToken)
	q.Set("location", formatCoord(lon)+","+formatCoord(lat))
	q.Set("data_version", "latest")
	q.Set("simplified_geometry", "false")

	body, err := c.do(ctx, request{
		op:       op,
		upstream: upstreamDelineation,
		method:   http.MethodGet,
		url:      c.cfg.DelineationURL + "/location?" + q.Encode(),
		limited:  true,
	})
	if err != nil {
		return nil, err
	}

	var probe featureProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}
	if isNullJSON(probe.Geometry) {
		return nil, fmt.Errorf("%s: %w", op, ErrNoFieldFound)
	}

	var f geojson.Feature
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("%s: decode feature: %w", op, err)
	}
	field, err := models.FieldFromFeature(&f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrNoFieldFound, err)
	}
	return field, nil
}

// FetchFieldsInBBox returns every delineated field intersecting b. The result
// is unfiltered; see geo.FilterFeatures.
func (c *Client) FetchFieldsInBBox(ctx context.Context, b orb.Bound) (*geojson.FeatureCollection, error) {
	const op = "fetch_fields_in_bbox"

	q := url.Values{}
	q.Set("token", c.cfg.DelineationToken)
	q.Set("bbox", formatCoord(b.Min.Lon())+","+formatCoord(b.Min.Lat())+","+formatCoord(b.Max.Lon())+","+formatCoord(b.Max.Lat()))
	q.Set("data_version", "latest")
	q.Set("billing", "by_field")

	body, err := c.do(ctx, request{
		op:       op,
		upstream: upstreamDelineation,
		method:   http.MethodGet,
		url:      c.cfg.DelineationURL + "?" + q.Encode(),
		limited:  true,
	})
	if err != nil {
		return nil, err
	}

	var probe collectionProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}
	if len(probe.Features) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyResult)
	}

	fc := geojson.NewFeatureCollection()
	if err := json.Unmarshal(body, fc); err != nil {
		return nil, fmt.Errorf("%s: decode features: %w", op, err)
	}
	return fc, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func isNullJSON(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
