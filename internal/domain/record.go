package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityKind names a record type that is versioned by assessment year.
type EntityKind string

const (
	KindLandAssessment EntityKind = "land_assessment"
	KindBuildingConfig EntityKind = "building_config"
	KindPropertyView   EntityKind = "property_view"
	KindLandRateConfig EntityKind = "land_rate_config"
)

// Valid reports whether the kind is one of the registered entity kinds.
func (k EntityKind) Valid() bool {
	switch k {
	case KindLandAssessment, KindBuildingConfig, KindPropertyView, KindLandRateConfig:
		return true
	}
	return false
}

// Identity selects "what" a record is about independent of the year.
type Identity struct {
	Kind           EntityKind `json:"kind"`
	MunicipalityID uuid.UUID  `json:"municipality_id"`
	Key            string     `json:"key"`
}

func (i Identity) String() string {
	return fmt.Sprintf("%s/%s/%s", i.Kind, i.MunicipalityID, i.Key)
}

// Validate checks that every identity component is present.
func (i Identity) Validate() error {
	if !i.Kind.Valid() {
		return fmt.Errorf("%w: unknown entity kind %q", ErrValidation, i.Kind)
	}
	if i.MunicipalityID == uuid.Nil {
		return fmt.Errorf("%w: municipality id is required", ErrValidation)
	}
	if strings.TrimSpace(i.Key) == "" {
		return fmt.Errorf("%w: identity key is required", ErrValidation)
	}
	return nil
}

// Scope selects every identity of a kind inside a municipality. When Keys is
// non-empty the scope is narrowed to those identity keys.
type Scope struct {
	Kind           EntityKind `json:"kind"`
	MunicipalityID uuid.UUID  `json:"municipality_id"`
	Keys           []string   `json:"keys,omitempty"`
}

// Identity builds the identity for key inside the scope.
func (s Scope) Identity(key string) Identity {
	return Identity{Kind: s.Kind, MunicipalityID: s.MunicipalityID, Key: key}
}

// Versioned is the shape shared by every year-versioned record.
type Versioned interface {
	IdentityKey() Identity
	Effective() int
	EffectiveEnd() *int
}

// Record is one physical year record. Payload is opaque to the temporal engine.
type Record[P any] struct {
	ID                       uuid.UUID  `json:"id"`
	Identity                 Identity   `json:"identity"`
	EffectiveYear            int        `json:"effective_year"`
	EffectiveYearEnd         *int       `json:"effective_year_end,omitempty"`
	SourceEffectiveYear      *int       `json:"source_effective_year,omitempty"`
	CreatedFromRecalculation bool       `json:"created_from_recalculation"`
	IsActive                 bool       `json:"is_active"`
	Version                  int64      `json:"version"`
	PreviousVersionID        *uuid.UUID `json:"previous_version_id,omitempty"`
	NextVersionID            *uuid.UUID `json:"next_version_id,omitempty"`
	CreatedBy                *string    `json:"created_by,omitempty"`
	UpdatedBy                *string    `json:"updated_by,omitempty"`
	RecalculatedAt           *time.Time `json:"recalculated_at,omitempty"`
	RecalculatedBy           *string    `json:"recalculated_by,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
	Payload                  P          `json:"payload"`
}

func (r Record[P]) IdentityKey() Identity { return r.Identity }
func (r Record[P]) Effective() int        { return r.EffectiveYear }
func (r Record[P]) EffectiveEnd() *int    { return r.EffectiveYearEnd }

// Superseded reports whether a later chained version exists.
func (r Record[P]) Superseded() bool {
	return r.NextVersionID != nil
}

// Applies reports whether v covers year. The end year is exclusive.
func Applies(v Versioned, year int) bool {
	if v.Effective() > year {
		return false
	}
	if end := v.EffectiveEnd(); end != nil && year >= *end {
		return false
	}
	return true
}

// PickEffective returns the record with the greatest effective year that
// applies to year. ok is false when nothing applies.
func PickEffective[V Versioned](records []V, year int) (best V, ok bool) {
	for _, candidate := range records {
		if !Applies(candidate, year) {
			continue
		}
		if !ok || candidate.Effective() > best.Effective() {
			best = candidate
			ok = true
		}
	}
	return best, ok
}

// IntPtr returns a pointer to a copy of v.
func IntPtr(v int) *int { return &v }

// StringPtr returns nil for blank strings.
func StringPtr(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}
