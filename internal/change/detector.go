// Package change decides whether freshly computed values differ materially
// from what a year record already holds.
package change

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/shopspring/decimal"

	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/pkg/fieldpath"
)

// DefaultTolerance absorbs floating point noise in numeric comparisons.
const DefaultTolerance = 0.01

// HasChanged reports whether any of fieldPaths differs between existing and
// candidate. Only the listed paths are material. Numbers within tolerance are
// equal; a value present on one side only is a change; absent on both is not.
// A negative tolerance falls back to DefaultTolerance.
func HasChanged(existing, candidate map[string]any, fieldPaths []string, tolerance float64) bool {
	tolerance = normalizeTolerance(tolerance)
	for _, raw := range fieldPaths {
		path, err := fieldpath.Parse(raw)
		if err != nil {
			continue
		}
		if fieldChanged(existing, candidate, path, tolerance) {
			return true
		}
	}
	return false
}

// ValidatePaths rejects field paths that cannot be parsed, since HasChanged
// would otherwise never see a difference on them.
func ValidatePaths(fieldPaths []string) error {
	for _, raw := range fieldPaths {
		if _, err := fieldpath.Parse(raw); err != nil {
			return fmt.Errorf("%w: field path: %v", domain.ErrValidation, err)
		}
	}
	return nil
}

// ChangedFields lists every material path that differs, in input order.
func ChangedFields(existing, candidate map[string]any, fieldPaths []string, tolerance float64) []string {
	tolerance = normalizeTolerance(tolerance)
	var changed []string
	for _, raw := range fieldPaths {
		path, err := fieldpath.Parse(raw)
		if err != nil {
			continue
		}
		if fieldChanged(existing, candidate, path, tolerance) {
			changed = append(changed, raw)
		}
	}
	return changed
}

func normalizeTolerance(tolerance float64) float64 {
	if tolerance < 0 || math.IsNaN(tolerance) {
		return DefaultTolerance
	}
	return tolerance
}

func fieldChanged(existing, candidate map[string]any, path fieldpath.Path, tolerance float64) bool {
	before, hadBefore := fieldpath.Lookup(existing, path)
	after, hasAfter := fieldpath.Lookup(candidate, path)
	if !hadBefore && !hasAfter {
		return false
	}
	if hadBefore != hasAfter {
		return true
	}
	return !Equal(before, after, tolerance)
}

// Equal compares two present values. Numbers compare by absolute difference
// within tolerance; everything else compares strictly.
func Equal(a, b any, tolerance float64) bool {
	na, aNumeric := toFloat(a)
	nb, bNumeric := toFloat(b)
	if aNumeric && bNumeric {
		return math.Abs(na-nb) <= tolerance+1e-9
	}
	if aNumeric != bNumeric {
		return false
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if reflect.TypeOf(a).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case decimal.Decimal:
		return n.InexactFloat64(), true
	case *decimal.Decimal:
		if n == nil {
			return 0, false
		}
		return n.InexactFloat64(), true
	}
	return 0, false
}
