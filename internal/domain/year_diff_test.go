package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYearSnapshotCanonicalText(t *testing.T) {
	id := Identity{Kind: KindPropertyView, MunicipalityID: uuid.MustParse("123e4567-e89b-12d3-a456-426614174000"), Key: "P-7"}
	snapshot, err := NewYearSnapshot(Record[PropertyView]{
		Identity:            id,
		EffectiveYear:       2025,
		SourceEffectiveYear: IntPtr(2023),
		Payload: PropertyView{
			ViewType:   "water",
			Factor:     1.25,
			Waterfront: &Waterfront{WaterBody: "Lake Sunapee", FrontageFeet: 120},
		},
	})
	require.NoError(t, err)

	lines, err := snapshot.CanonicalText()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Identity: property_view/123e4567-e89b-12d3-a456-426614174000/P-7",
		"EffectiveYear: 2025",
		"SourceEffectiveYear: 2023",
		"Recalculated: false",
		"Payload:",
		"  factor: 1.25",
		"  view_type: \"water\"",
		"  waterfront.frontage_feet: 120",
		"  waterfront.water_body: \"Lake Sunapee\"",
	}, lines)
}

func TestDiffYearSnapshots(t *testing.T) {
	id := Identity{Kind: KindLandAssessment, MunicipalityID: uuid.New(), Key: "P-1"}
	base, err := NewYearSnapshot(Record[LandAssessment]{Identity: id, EffectiveYear: 2024, Payload: LandAssessment{MarketValue: 50000}})
	require.NoError(t, err)
	target, err := NewYearSnapshot(Record[LandAssessment]{Identity: id, EffectiveYear: 2025, Payload: LandAssessment{MarketValue: 52000}})
	require.NoError(t, err)

	diff, err := DiffYearSnapshots("2024", &base, "2025", &target)
	require.NoError(t, err)

	assert.Contains(t, diff, "--- 2024\n+++ 2025\n")
	assert.Contains(t, diff, "-  market_value: 50000")
	assert.Contains(t, diff, "+  market_value: 52000")
	assert.Contains(t, diff, "   acreage: 0")
}

func TestDiffAgainstMissingYear(t *testing.T) {
	id := Identity{Kind: KindLandAssessment, MunicipalityID: uuid.New(), Key: "P-1"}
	target, err := NewYearSnapshot(Record[LandAssessment]{Identity: id, EffectiveYear: 2025})
	require.NoError(t, err)

	diff, err := DiffYearSnapshots("none", nil, "2025", &target)
	require.NoError(t, err)
	assert.Contains(t, diff, "+EffectiveYear: 2025")
	assert.NotContains(t, diff, "\n-")
}
