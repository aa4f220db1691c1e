package change

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rpattn/assessor/internal/domain"
)

func TestHasChangedNumericTolerance(t *testing.T) {
	assert.False(t, HasChanged(map[string]any{"value": 100.004}, map[string]any{"value": 100.006}, []string{"value"}, 0.01))
	assert.True(t, HasChanged(map[string]any{"value": 100.0}, map[string]any{"value": 100.02}, []string{"value"}, 0.01))
}

func TestHasChangedMixedNumericTypes(t *testing.T) {
	existing := map[string]any{"market_value": json.Number("50000"), "acreage": 2}
	candidate := map[string]any{"market_value": decimal.RequireFromString("50000.00"), "acreage": 2.0}

	assert.False(t, HasChanged(existing, candidate, []string{"market_value", "acreage"}, DefaultTolerance))

	candidate["market_value"] = decimal.NewFromInt(52000)
	assert.True(t, HasChanged(existing, candidate, []string{"market_value"}, DefaultTolerance))
}

func TestHasChangedPresenceAsymmetry(t *testing.T) {
	paths := []string{"assessed_value"}

	assert.True(t, HasChanged(map[string]any{}, map[string]any{"assessed_value": 10}, paths, DefaultTolerance))
	assert.True(t, HasChanged(map[string]any{"assessed_value": 10}, map[string]any{}, paths, DefaultTolerance))
	assert.True(t, HasChanged(map[string]any{"assessed_value": nil}, map[string]any{"assessed_value": 0}, paths, DefaultTolerance))
	assert.False(t, HasChanged(map[string]any{"assessed_value": nil}, map[string]any{}, paths, DefaultTolerance))
	assert.False(t, HasChanged(nil, nil, paths, DefaultTolerance))
}

func TestHasChangedIgnoresFieldsOutsidePaths(t *testing.T) {
	existing := map[string]any{"market_value": 100, "notes": "old"}
	candidate := map[string]any{"market_value": 100, "notes": "new"}

	assert.False(t, HasChanged(existing, candidate, []string{"market_value"}, DefaultTolerance))
	assert.True(t, HasChanged(existing, candidate, []string{"market_value", "notes"}, DefaultTolerance))
}

func TestHasChangedNestedPaths(t *testing.T) {
	existing := map[string]any{"land": map[string]any{"values": map[string]any{"market": 50000.0}}}
	candidate := map[string]any{"land": map[string]any{"values": map[string]any{"market": 50000.001}}}
	assert.False(t, HasChanged(existing, candidate, []string{"land.values.market"}, DefaultTolerance))

	candidate = map[string]any{"land": "flattened"}
	assert.True(t, HasChanged(existing, candidate, []string{"land.values.market"}, DefaultTolerance))
}

func TestHasChangedStrictForNonNumeric(t *testing.T) {
	assert.True(t, HasChanged(map[string]any{"zone": "R1"}, map[string]any{"zone": "R2"}, []string{"zone"}, DefaultTolerance))
	assert.True(t, HasChanged(map[string]any{"zone": "1"}, map[string]any{"zone": 1}, []string{"zone"}, DefaultTolerance))
	assert.False(t, HasChanged(map[string]any{"current_use": true}, map[string]any{"current_use": true}, []string{"current_use"}, DefaultTolerance))
	assert.False(t, HasChanged(
		map[string]any{"tags": []any{"a", "b"}},
		map[string]any{"tags": []any{"a", "b"}},
		[]string{"tags"}, DefaultTolerance,
	))
}

func TestNegativeToleranceUsesDefault(t *testing.T) {
	assert.False(t, HasChanged(map[string]any{"v": 1.0}, map[string]any{"v": 1.005}, []string{"v"}, -1))
}

func TestChangedFields(t *testing.T) {
	existing := map[string]any{"a": 1, "b": "x", "c": 3.0}
	candidate := map[string]any{"a": 2, "b": "x", "c": 3.001}

	assert.Equal(t, []string{"a"}, ChangedFields(existing, candidate, []string{"a", "b", "c"}, DefaultTolerance))
	assert.Empty(t, ChangedFields(existing, existing, []string{"a", "b", "c"}, DefaultTolerance))
}

func TestValidatePaths(t *testing.T) {
	assert.NoError(t, ValidatePaths([]string{"market_value", "factors.site"}))
	assert.NoError(t, ValidatePaths(nil))
	for _, bad := range []string{"", "  ", "a..b", ".a", "a."} {
		assert.ErrorIs(t, ValidatePaths([]string{"market_value", bad}), domain.ErrValidation, "%q", bad)
	}
}
