package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/joeblew999/plat-field/internal/models"
)

const seasonFieldsPath = "/DomainManagement/Geosys.DomainManagement.WebAPI/V6/seasonfields"

var seasonFieldFields = []string{
	"id",
	"field.id",
	"field.name",
	"field.farm.id",
	"field.farm.name",
	"field.farm.grower.id",
	"field.farm.grower.companyname",
	"acreage",
	"crop.id",
	"crop.name",
	"cropVariety.id",
	"sowingDate",
	"estimatedHarvestDate",
	"isIrrigated",
	"cropUsage.id",
	"cropUsage.name",
	"UserYield",
	"externalIds",
	"fsaFarmId",
	"fsaFieldId",
	"fsaTractId",
}

type seasonFieldSearch struct {
	Query  seasonFieldQuery `json:"query"`
	Fields []string         `json:"fields"`
}

type seasonFieldQuery struct {
	Filters []string `json:"filters"`
	Limit   int      `json:"limit"`
}

// FetchSeasonField looks up the season field whose field name equals
// fieldName. It returns nil, nil when nothing matches.
func (c *Client) FetchSeasonField(ctx context.Context, fieldName string) (*models.SeasonField, error) {
	const op = "fetch_season_field"

	tok, err := c.bearer(op)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(seasonFieldSearch{
		Query: seasonFieldQuery{
			Filters: []string{
				fmt.Sprintf("Field.Farm.Grower.Id=='%s'", c.cfg.GrowerID),
				fmt.Sprintf("Field.Farm.Id=='%s'", c.cfg.FarmID),
				fmt.Sprintf("Field.Name=='%s'", quoteFilter(fieldName)),
			},
			Limit: -1,
		},
		Fields: seasonFieldFields,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: encode: %w", op, err)
	}

	body, err := c.do(ctx, request{
		op:          op,
		upstream:    upstreamGeosys,
		method:      "SEARCH",
		url:         c.cfg.GeosysURL + seasonFieldsPath,
		body:        payload,
		contentType: "application/json",
		bearer:      tok,
	})
	if err != nil {
		return nil, err
	}

	var results []models.SeasonField
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	sf := results[0]
	return &sf, nil
}

// quoteFilter escapes single quotes inside a filter literal.
func quoteFilter(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}
