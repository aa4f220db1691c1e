package assessment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/assessor/internal/domain"
)

func TestLandValue(t *testing.T) {
	rates := domain.LandRateConfig{
		RatesPerAcre:        map[string]float64{"R1": 20000, "C1": 55000.5},
		NeighborhoodFactors: map[string]float64{"LAKE": 1.25},
		AssessmentRatio:     0.7,
		CurrentUseRate:      800,
		MinimumValue:        5000,
	}

	tests := []struct {
		name     string
		land     domain.LandAssessment
		rates    domain.LandRateConfig
		market   string
		assessed string
	}{
		{
			name:     "zone rate with neighborhood and site factor",
			land:     domain.LandAssessment{Acreage: 2.5, Zone: "R1", NeighborhoodCode: "LAKE", SiteFactor: 0.9},
			rates:    rates,
			market:   "56250",
			assessed: "39375",
		},
		{
			name:     "zero site factor and unknown neighborhood count as one",
			land:     domain.LandAssessment{Acreage: 1, Zone: "C1", NeighborhoodCode: "NOWHERE"},
			rates:    rates,
			market:   "55000.5",
			assessed: "38500.35",
		},
		{
			name:     "current use rate replaces zone rate",
			land:     domain.LandAssessment{Acreage: 40, Zone: "R1", CurrentUse: true},
			rates:    rates,
			market:   "32000",
			assessed: "22400",
		},
		{
			name:     "minimum value floors small parcels",
			land:     domain.LandAssessment{Acreage: 0.1, Zone: "R1"},
			rates:    rates,
			market:   "5000",
			assessed: "3500",
		},
		{
			name:     "zero ratio assesses at full market value",
			land:     domain.LandAssessment{Acreage: 1.333, Zone: "R1"},
			rates:    domain.LandRateConfig{RatesPerAcre: map[string]float64{"R1": 10000}},
			market:   "13330",
			assessed: "13330",
		},
		{
			name:     "rounds to cents",
			land:     domain.LandAssessment{Acreage: 0.3333, Zone: "R1"},
			rates:    domain.LandRateConfig{RatesPerAcre: map[string]float64{"R1": 1000}, AssessmentRatio: 0.333},
			market:   "333.3",
			assessed: "110.99",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			market, assessed, err := LandValue(tt.land, tt.rates)
			require.NoError(t, err)
			assert.Equal(t, tt.market, market.String())
			assert.Equal(t, tt.assessed, assessed.String())
		})
	}
}

func TestLandValueUnknownZone(t *testing.T) {
	_, _, err := LandValue(domain.LandAssessment{Acreage: 1, Zone: "X9"}, domain.LandRateConfig{RatesPerAcre: map[string]float64{"R1": 1}})
	assert.ErrorContains(t, err, `no land rate for zone "X9"`)
}

func TestPayloadValidator(t *testing.T) {
	check := PayloadValidator[domain.PropertyView]()
	require.NoError(t, check(domain.PropertyView{ViewType: "water", Quality: "good", Factor: 1.2}))

	err := check(domain.PropertyView{ViewType: "ocean", Factor: 9})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "PropertyView.ViewType failed oneof")
	assert.Contains(t, err.Error(), "PropertyView.Factor failed lte=5")

	err = check(domain.PropertyView{Waterfront: &domain.Waterfront{FrontageFeet: 10}})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "WaterBody failed required")
}
