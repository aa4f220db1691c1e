package domain

// LandAssessment is the yearly land valuation of one property.
type LandAssessment struct {
	ParcelID         string  `json:"parcel_id,omitempty" validate:"max=64"`
	Acreage          float64 `json:"acreage" validate:"gte=0"`
	Zone             string  `json:"zone,omitempty" validate:"max=32"`
	NeighborhoodCode string  `json:"neighborhood_code,omitempty" validate:"max=32"`
	SiteFactor       float64 `json:"site_factor" validate:"gte=0,lte=10"`
	CurrentUse       bool    `json:"current_use"`
	MarketValue      float64 `json:"market_value" validate:"gte=0"`
	AssessedValue    float64 `json:"assessed_value" validate:"gte=0"`
	Notes            string  `json:"notes,omitempty" validate:"max=2000"`
}

// BuildingConfig holds the municipality-wide building calculation factors.
type BuildingConfig struct {
	BaseRatePerSqft   float64            `json:"base_rate_per_sqft" validate:"gte=0"`
	QualityFactors    map[string]float64 `json:"quality_factors,omitempty" validate:"dive,gte=0"`
	DepreciationTable map[string]float64 `json:"depreciation_table,omitempty" validate:"dive,gte=0,lte=1"`
	StoryHeightFactor float64            `json:"story_height_factor" validate:"gte=0"`
}

// Waterfront describes water frontage for a property view attribute.
type Waterfront struct {
	WaterBody    string  `json:"water_body" validate:"required,max=128"`
	FrontageFeet float64 `json:"frontage_feet" validate:"gte=0"`
}

// PropertyView is the view/waterfront attribute of a property for a year.
type PropertyView struct {
	ViewType   string      `json:"view_type" validate:"omitempty,oneof=none mountain water city other"`
	Quality    string      `json:"quality,omitempty" validate:"omitempty,oneof=poor fair average good excellent"`
	Factor     float64     `json:"factor" validate:"gte=0,lte=5"`
	Waterfront *Waterfront `json:"waterfront,omitempty"`
}

// LandRateConfig is the municipality's reference data for land valuation.
type LandRateConfig struct {
	RatesPerAcre        map[string]float64 `json:"rates_per_acre" validate:"dive,gte=0"`
	NeighborhoodFactors map[string]float64 `json:"neighborhood_factors,omitempty" validate:"dive,gte=0"`
	AssessmentRatio     float64            `json:"assessment_ratio" validate:"gte=0,lte=1"`
	CurrentUseRate      float64            `json:"current_use_rate" validate:"gte=0"`
	MinimumValue        float64            `json:"minimum_value" validate:"gte=0"`
}
