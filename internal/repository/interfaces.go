package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/rpattn/assessor/internal/domain"
)

// RecordQuery selects year records. Zero-valued fields do not filter, except
// Kind and MunicipalityID which are always required. Results are ordered by
// identity key ascending, then effective year descending.
type RecordQuery struct {
	Kind           domain.EntityKind
	MunicipalityID uuid.UUID
	Key            string
	ID             *uuid.UUID
	// ExactYear matches effective_year exactly.
	ExactYear *int
	// EffectiveAt keeps records that apply to the year: effective_year <= year
	// and, when an end is set, year < effective_year_end.
	EffectiveAt     *int
	IncludeInactive bool
	Limit           int
}

// ForIdentity starts a query scoped to one identity.
func ForIdentity(id domain.Identity) RecordQuery {
	return RecordQuery{Kind: id.Kind, MunicipalityID: id.MunicipalityID, Key: id.Key}
}

// ExactYearQuery selects the active record that belongs to year itself.
func ExactYearQuery(id domain.Identity, year int) RecordQuery {
	q := ForIdentity(id)
	q.ExactYear = &year
	q.Limit = 1
	return q
}

// EffectiveQuery selects the record that applies to year.
func EffectiveQuery(id domain.Identity, year int) RecordQuery {
	q := ForIdentity(id)
	q.EffectiveAt = &year
	q.Limit = 1
	return q
}

// YearRecordStore persists year records of one payload type.
type YearRecordStore[P any] interface {
	Find(ctx context.Context, q RecordQuery) ([]domain.Record[P], error)
	// FindOne returns nil without error when nothing matches.
	FindOne(ctx context.Context, q RecordQuery) (*domain.Record[P], error)
	// FindEffectiveForScope returns, for every identity in scope, its effective
	// record for year using a single grouped query.
	FindEffectiveForScope(ctx context.Context, scope domain.Scope, year int) ([]domain.Record[P], error)
	// Create inserts a record, returning domain.ErrDuplicateYear when an active
	// record already exists for the identity and effective year.
	Create(ctx context.Context, record domain.Record[P]) (domain.Record[P], error)
	// Save updates a record in place when its Version still matches, returning
	// domain.ErrConcurrentModification otherwise. The stored version is bumped.
	Save(ctx context.Context, record domain.Record[P]) (domain.Record[P], error)
	// Supersede atomically saves previous (version checked), creates next and
	// points next's chain neighbours other than previous at it. next.ID may be
	// preassigned so previous can link to it.
	Supersede(ctx context.Context, next domain.Record[P], previous domain.Record[P]) (domain.Record[P], error)
}

// YearLockStore persists year locks owned by the compliance module.
type YearLockStore interface {
	IsYearLocked(ctx context.Context, municipalityID uuid.UUID, year int) (bool, error)
	Lock(ctx context.Context, lock domain.YearLock) (domain.YearLock, error)
	Unlock(ctx context.Context, municipalityID uuid.UUID, year int) error
	ListLocks(ctx context.Context, municipalityID uuid.UUID) ([]domain.YearLock, error)
}
