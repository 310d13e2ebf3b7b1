package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/joeblew999/plat-field/internal/models"
)

const (
	catalogFields = "Image.Date,Image.Id,coveragePercent,Maps.Type,Image.spatialResolution,Image.sensor,mask"
	dateLayout    = "2006-01-02"
	pngLinkRel    = "image:image/png"
)

type catalogItem struct {
	Image struct {
		ID                string  `json:"id"`
		Date              string  `json:"date"`
		Sensor            string  `json:"sensor"`
		SpatialResolution float64 `json:"spatialResolution"`
	} `json:"image"`
	CoveragePercent float64 `json:"coveragePercent"`
	Maps            []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"maps"`
}

// CatalogWindow returns the default acquisition window ending at now.
func (c *Client) CatalogWindow() (start, end time.Time) {
	end = c.now().UTC()
	return end.AddDate(0, -c.cfg.CatalogMonths, 0), end
}

// FetchSensorCatalog lists acquisitions offering mapType between start and
// end, deduplicated by (date, sensor) and newest first.
func (c *Client) FetchSensorCatalog(ctx context.Context, mapType string, start, end time.Time) ([]models.CatalogEntry, error) {
	const op = "fetch_sensor_catalog"

	tok, err := c.bearer(op)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("$fields", catalogFields)
	q.Set("$limit", "none")
	q.Set("$count", "true")
	q.Set("mask", "auto")
	q.Set("Image.Date", "$between:"+start.Format(dateLayout)+"|"+end.Format(dateLayout))
	q.Set("coveragePercent", "$gte:0")
	q.Set("Maps.Type", "$in:"+mapType)

	endpoint := fmt.Sprintf("%s/field-level-maps/v5/season-fields/%s/catalog-imagery?%s",
		c.cfg.GeosysURL, url.PathEscape(c.cfg.CatalogSeasonFieldID), q.Encode())

	body, err := c.do(ctx, request{
		op:       op,
		upstream: upstreamGeosys,
		method:   http.MethodGet,
		url:      endpoint,
		bearer:   tok,
	})
	if err != nil {
		return nil, err
	}

	var items []catalogItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSensorData)
	}

	entries := make([]models.CatalogEntry, 0, len(items))
	for _, it := range items {
		e := models.CatalogEntry{
			ImageID:           it.Image.ID,
			Sensor:            it.Image.Sensor,
			CoveragePercent:   it.CoveragePercent,
			SpatialResolution: it.Image.SpatialResolution,
		}
		e.Date, e.AcquiredAt = parseAcquisitionDate(it.Image.Date)
		for _, m := range it.Maps {
			e.Maps = append(e.Maps, models.MapRef{Type: m.Type, ID: m.ID})
		}
		if !e.HasMap(mapType) {
			continue
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSensorData)
	}
	return models.DedupeCatalog(entries), nil
}

// parseAcquisitionDate accepts RFC 3339 timestamps and bare dates.
func parseAcquisitionDate(s string) (string, time.Time) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(dateLayout), t.UTC()
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return s, t
	}
	if len(s) >= len(dateLayout) {
		return s[:len(dateLayout)], time.Time{}
	}
	return s, time.Time{}
}

type mapParams struct {
	MapParams []mapParam `json:"mapParams"`
}

type mapParam struct {
	Image       idRef `json:"image"`
	SeasonField idRef `json:"seasonField"`
}

type idRef struct {
	ID string `json:"id"`
}

type mapSet struct {
	Maps []mapSetMap `json:"maps"`
}

type mapSetMap struct {
	Type      string                     `json:"type"`
	Links     map[string]json.RawMessage `json:"_links"`
	Legend    *models.LegendStats        `json:"legend"`
	Histogram *struct {
		Items []models.HistogramBucket `json:"items"`
	} `json:"histogram"`
}

// FetchOverlayImage renders mapType for one acquisition over a season field.
// An empty imageID fails with ErrMissingSensorID before any request is made.
// A response without a PNG link yields an OverlayImage with an empty URL.
func (c *Client) FetchOverlayImage(ctx context.Context, imageID, seasonFieldID, mapType string) (*models.OverlayImage, error) {
	const op = "fetch_overlay_image"

	tok, err := c.bearer(op)
	if err != nil {
		return nil, err
	}
	if imageID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingSensorID)
	}

	payload, err := json.Marshal(mapParams{MapParams: []mapParam{{
		Image:       idRef{ID: imageID},
		SeasonField: idRef{ID: seasonFieldID},
	}}})
	if err != nil {
		return nil, fmt.Errorf("%s: encode: %w", op, err)
	}

	q := url.Values{}
	q.Set("directLinks", "true")
	q.Set("legendType", "Dynamic")
	q.Set("$epsg-out", "3857")
	q.Set("histogram", "true")

	endpoint := fmt.Sprintf("%s/field-level-maps/v5/map-sets/base-reference-map/%s?%s",
		c.cfg.GeosysURL, url.PathEscape(mapType), q.Encode())

	body, err := c.do(ctx, request{
		op:          op,
		upstream:    upstreamGeosys,
		method:      http.MethodPost,
		url:         endpoint,
		body:        payload,
		contentType: "application/json",
		bearer:      tok,
	})
	if err != nil {
		return nil, err
	}

	var sets []mapSet
	if err := json.Unmarshal(body, &sets); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoImageData)
	}

	img := &models.OverlayImage{
		MapType:       mapType,
		ImageID:       imageID,
		SeasonFieldID: seasonFieldID,
	}
	if len(sets[0].Maps) == 0 {
		return img, nil
	}
	m := sets[0].Maps[0]
	img.URL = linkHref(m.Links[pngLinkRel])
	img.Legend = m.Legend
	if m.Histogram != nil && len(m.Histogram.Items) > 0 {
		img.Histogram = &models.Histogram{Buckets: m.Histogram.Items}
	}
	return img, nil
}

// linkHref reads a link given either as a bare string or as {"href": "..."}.
func linkHref(raw json.RawMessage) string {
	if isNullJSON(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Href string `json:"href"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.Href)
	}
	return ""
}
