package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a payload or argument that failed domain constraints.
	ErrValidation = errors.New("validation failed")
	// ErrConcurrentModification marks a save whose record changed since it was read.
	ErrConcurrentModification = errors.New("record was modified concurrently")
	// ErrDuplicateYear marks a create that collided with an existing active record
	// for the same identity and effective year.
	ErrDuplicateYear = errors.New("record already exists for identity and year")
	// ErrRecordSuperseded marks an in-place edit of a record that a later chained
	// version already replaced.
	ErrRecordSuperseded = errors.New("record is superseded")
	// ErrRecordNotFound is only returned by lookups that require a record to exist.
	ErrRecordNotFound = errors.New("record not found")
)

// CalculationError wraps a failure of an externally supplied calculation.
type CalculationError struct {
	Identity Identity
	Year     int
	Err      error
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("calculate %s for %d: %v", e.Identity, e.Year, e.Err)
}

func (e *CalculationError) Unwrap() error { return e.Err }
