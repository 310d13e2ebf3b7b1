package gateway

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds endpoints, credentials and limits for the remote services.
type Config struct {
	IdentityURL      string `validate:"required,url"`
	DelineationURL   string `validate:"required,url"`
	DelineationToken string `validate:"required"`
	GeosysURL        string `validate:"required,url"`
	// CreationURL is optional; CreateField fails with ErrNotConfigured without it.
	CreationURL string `validate:"omitempty,url"`

	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`
	Username     string `validate:"required"`
	Password     string `validate:"required"`
	Scope        string

	GrowerID             string `validate:"required"`
	FarmID               string `validate:"required"`
	CatalogSeasonFieldID string `validate:"required"`
	CropID               string `validate:"required"`

	Timeout time.Duration `validate:"gt=0"`
	// CatalogMonths is the trailing window searched when no dates are given.
	CatalogMonths int `validate:"gte=1,lte=36"`

	DelineationRPS   float64 `validate:"gt=0"`
	DelineationBurst int     `validate:"gte=1"`

	// BreakerFailures consecutive failures open an upstream's breaker for BreakerCooldown.
	BreakerFailures uint32        `validate:"gte=1"`
	BreakerCooldown time.Duration `validate:"gt=0"`
}

// DefaultConfig returns the production endpoints and limits. Credentials are
// left empty and must come from flags or the environment.
func DefaultConfig() Config {
	return Config{
		IdentityURL:          "https://identity.geosys-na.com/v2.1/connect/token",
		DelineationURL:       "https://api.digifarm.io/v1/delineated-fields",
		GeosysURL:            "https://api.geosys-na.net",
		Scope:                "openid offline_access",
		GrowerID:             "kxmymkd",
		FarmID:               "z62x36",
		CatalogSeasonFieldID: "7exrdrn",
		CropID:               "HAY_GRASS",
		Timeout:              15 * time.Second,
		CatalogMonths:        3,
		DelineationRPS:       5,
		DelineationBurst:     5,
		BreakerFailures:      5,
		BreakerCooldown:      30 * time.Second,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("gateway config: %s failed %q", fe.Field(), fe.Tag())
		}
		return fmt.Errorf("gateway config: %w", err)
	}
	return nil
}
