package models

// AnalyticsSeries is the vegetation history of one season field.
type AnalyticsSeries struct {
	SeasonFieldID string             `json:"seasonFieldId"`
	MapType       string             `json:"mapType" example:"NDVI"`
	Points        []AnalyticsPoint   `json:"points" doc:"Per-acquisition summaries, oldest first"`
	Cultivation   CultivationSummary `json:"cultivation"`
}

// AnalyticsPoint summarizes one acquisition.
type AnalyticsPoint struct {
	Date       string            `json:"date" example:"2024-06-01"`
	Sensor     string            `json:"sensor,omitempty"`
	Mean       float64           `json:"mean"`
	Min        float64           `json:"min"`
	Max        float64           `json:"max"`
	StdDev     float64           `json:"stdDev"`
	Categories CategoryBreakdown `json:"categories"`
}

// CategoryBreakdown holds the share of pixels per vegetation class, in percent.
type CategoryBreakdown struct {
	Poor      float64 `json:"poor"`
	Moderate  float64 `json:"moderate"`
	Good      float64 `json:"good"`
	Excellent float64 `json:"excellent"`
}

// CultivationSummary describes crop cycles detected in the series.
type CultivationSummary struct {
	Timeline          string `json:"timeline" doc:"Human readable cycle timeline"`
	CultivationCycles int    `json:"cultivationCycles"`
	HarvestCycles     int    `json:"harvestCycles"`
	IdlePeriods       int    `json:"idlePeriods"`
	Status            string `json:"status" example:"Growing"`
}
