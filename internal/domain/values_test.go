package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPatchLeavesBaseUntouched(t *testing.T) {
	base := BuildingConfig{
		BaseRatePerSqft: 120,
		QualityFactors:  map[string]float64{"average": 1, "good": 1.15},
	}

	patched, err := ApplyPatch(base, Values{
		"base_rate_per_sqft": 125.5,
		"quality_factors":    map[string]any{"good": 1.2, "average": nil},
	})
	require.NoError(t, err)

	assert.Equal(t, 125.5, patched.BaseRatePerSqft)
	assert.Equal(t, map[string]float64{"good": 1.2}, patched.QualityFactors)

	assert.Equal(t, 120.0, base.BaseRatePerSqft)
	assert.Equal(t, map[string]float64{"average": 1, "good": 1.15}, base.QualityFactors)
}

func TestClonePayloadIsDeep(t *testing.T) {
	base := LandRateConfig{RatesPerAcre: map[string]float64{"R1": 10000}}

	clone, err := ClonePayload(base)
	require.NoError(t, err)
	clone.RatesPerAcre["R1"] = 1

	assert.Equal(t, 10000.0, base.RatesPerAcre["R1"])
}

func TestApplyPatchRejectsIncompatibleTypes(t *testing.T) {
	_, err := ApplyPatch(LandAssessment{}, Values{"acreage": "two"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEncodeValuesKeepsNumbers(t *testing.T) {
	values, err := EncodeValues(LandAssessment{Acreage: 2.5, MarketValue: 50000})
	require.NoError(t, err)

	assert.Equal(t, json.Number("50000"), values["market_value"])
	assert.Equal(t, json.Number("2.5"), values["acreage"])
}

func TestDecodeValuesEmpty(t *testing.T) {
	values, err := DecodeValues([]byte("null"))
	require.NoError(t, err)
	assert.Empty(t, values)
}
