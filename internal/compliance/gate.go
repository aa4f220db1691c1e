// Package compliance decides whether an assessment year is still open for
// edits.
package compliance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrYearLocked marks a write rejected because its year is locked.
var ErrYearLocked = errors.New("year is locked")

// YearLockGate answers whether a municipality's year is locked.
type YearLockGate interface {
	IsYearLocked(ctx context.Context, municipalityID uuid.UUID, year int) (bool, error)
}

// LockedError carries the locked scope. It matches ErrYearLocked with errors.Is.
type LockedError struct {
	MunicipalityID uuid.UUID
	Year           int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("year %d is locked for municipality %s", e.Year, e.MunicipalityID)
}

func (e *LockedError) Is(target error) bool { return target == ErrYearLocked }

// Guard returns a *LockedError when the year is locked. It performs no writes,
// so callers run it before any engine call.
func Guard(ctx context.Context, gate YearLockGate, municipalityID uuid.UUID, year int) error {
	if gate == nil {
		return nil
	}
	locked, err := gate.IsYearLocked(ctx, municipalityID, year)
	if err != nil {
		return fmt.Errorf("check year lock: %w", err)
	}
	if locked {
		return &LockedError{MunicipalityID: municipalityID, Year: year}
	}
	return nil
}

// GateFunc adapts a function to YearLockGate.
type GateFunc func(ctx context.Context, municipalityID uuid.UUID, year int) (bool, error)

func (f GateFunc) IsYearLocked(ctx context.Context, municipalityID uuid.UUID, year int) (bool, error) {
	return f(ctx, municipalityID, year)
}
