package models

// SeasonField describes one crop-growing cycle on a field. JSON tags follow the
// season-field service payload.
type SeasonField struct {
	ID                   string         `json:"id" doc:"Season field identifier" example:"SF1"`
	Field                SeasonFieldRef `json:"field"`
	Acreage              *float64       `json:"acreage,omitempty" doc:"Declared acreage"`
	Crop                 NamedRef       `json:"crop"`
	CropVariety          NamedRef       `json:"cropVariety"`
	CropUsage            NamedRef       `json:"cropUsage"`
	SowingDate           string         `json:"sowingDate,omitempty" doc:"Sowing date as sent by the provider"`
	EstimatedHarvestDate string         `json:"estimatedHarvestDate,omitempty"`
	IsIrrigated          bool           `json:"isIrrigated"`
	UserYield            any            `json:"userYield,omitempty"`
	ExternalIDs          any            `json:"externalIds,omitempty"`
	FSAFarmID            string         `json:"fsaFarmId,omitempty"`
	FSAFieldID           string         `json:"fsaFieldId,omitempty"`
	FSATractID           string         `json:"fsaTractId,omitempty"`
}

// NamedRef is an id/name pair used throughout the season-field payload.
type NamedRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type SeasonFieldRef struct {
	ID   string  `json:"id,omitempty"`
	Name string  `json:"name,omitempty"`
	Farm FarmRef `json:"farm"`
}

type FarmRef struct {
	ID     string    `json:"id,omitempty"`
	Name   string    `json:"name,omitempty"`
	Grower GrowerRef `json:"grower"`
}

type GrowerRef struct {
	ID          string `json:"id,omitempty"`
	CompanyName string `json:"companyName,omitempty"`
}
