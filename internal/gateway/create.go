package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

type createFieldRequest struct {
	GeoLocation geoLocation `json:"geoLocation"`
	FieldInfo   fieldInfo   `json:"fieldInfo"`
}

type geoLocation struct {
	Type    string  `json:"type"`
	MinLong float64 `json:"minLong"`
	MaxLong float64 `json:"maxLong"`
	MinLat  float64 `json:"minLat"`
	MaxLat  float64 `json:"maxLat"`
	Lat     float64 `json:"lat"`
	Long    float64 `json:"long"`
}

type fieldInfo struct {
	FarmID      string `json:"farmId"`
	CropID      string `json:"cropId"`
	CropVariety string `json:"cropVariety"`
	IsIrrigated bool   `json:"isIrrigated"`
	SowingDate  string `json:"sowingDate"`
}

// CreateField asks the creation service to register the field delineated at
// lon/lat on the configured farm.
func (c *Client) CreateField(ctx context.Context, lon, lat float64) error {
	const op = "create_field"

	if c.cfg.CreationURL == "" {
		return fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	payload, err := json.Marshal(createFieldRequest{
		GeoLocation: geoLocation{Type: "point", Lat: lat, Long: lon},
		FieldInfo: fieldInfo{
			FarmID:      c.cfg.FarmID,
			CropID:      c.cfg.CropID,
			IsIrrigated: true,
			SowingDate:  c.now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("%s: encode: %w", op, err)
	}

	_, err = c.do(ctx, request{
		op:          op,
		upstream:    upstreamCreation,
		method:      http.MethodPost,
		url:         c.cfg.CreationURL,
		body:        payload,
		contentType: "application/json",
	})
	return err
}
