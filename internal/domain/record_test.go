package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func landRecord(year int, end *int) Record[LandAssessment] {
	return Record[LandAssessment]{
		ID:               uuid.New(),
		Identity:         Identity{Kind: KindLandAssessment, MunicipalityID: uuid.New(), Key: "P-1"},
		EffectiveYear:    year,
		EffectiveYearEnd: end,
		IsActive:         true,
	}
}

func TestPickEffectiveReturnsGreatestYearAtOrBefore(t *testing.T) {
	records := []Record[LandAssessment]{landRecord(2024, nil), landRecord(2022, nil)}

	got, ok := PickEffective(records, 2023)
	require.True(t, ok)
	assert.Equal(t, 2022, got.EffectiveYear)

	got, ok = PickEffective(records, 2024)
	require.True(t, ok)
	assert.Equal(t, 2024, got.EffectiveYear)

	got, ok = PickEffective(records, 2030)
	require.True(t, ok)
	assert.Equal(t, 2024, got.EffectiveYear)

	_, ok = PickEffective(records, 2021)
	assert.False(t, ok)
}

func TestPickEffectiveTreatsEndYearAsExclusive(t *testing.T) {
	records := []Record[LandAssessment]{landRecord(2020, IntPtr(2023))}

	_, ok := PickEffective(records, 2022)
	assert.True(t, ok)

	_, ok = PickEffective(records, 2023)
	assert.False(t, ok, "record must stop applying at its end year")
}

func TestPickEffectiveFallsBackPastClosedRecord(t *testing.T) {
	records := []Record[LandAssessment]{landRecord(2018, nil), landRecord(2020, IntPtr(2022))}

	got, ok := PickEffective(records, 2023)
	require.True(t, ok)
	assert.Equal(t, 2018, got.EffectiveYear)
}

func TestIdentityValidate(t *testing.T) {
	valid := Identity{Kind: KindPropertyView, MunicipalityID: uuid.New(), Key: "P-9"}
	require.NoError(t, valid.Validate())

	err := Identity{Kind: "parcel", MunicipalityID: uuid.New(), Key: "x"}.Validate()
	assert.ErrorIs(t, err, ErrValidation)

	err = Identity{Kind: KindPropertyView, Key: "x"}.Validate()
	assert.ErrorIs(t, err, ErrValidation)

	err = Identity{Kind: KindPropertyView, MunicipalityID: uuid.New(), Key: "  "}.Validate()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPolicyFor(t *testing.T) {
	assert.True(t, PolicyFor(KindBuildingConfig).Chained)
	assert.True(t, PolicyFor(KindLandRateConfig).ImmutableSuperseded)
	assert.False(t, PolicyFor(KindLandAssessment).Chained)
	assert.Equal(t, Policy{}, PolicyFor("unknown"))
}
