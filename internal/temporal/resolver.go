// Package temporal resolves which year record applies to a year and performs
// copy-on-write edits of year-versioned records.
package temporal

import (
	"context"
	"fmt"
	"sort"

	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/repository"
)

// Resolver answers "what applies in year Y" for one payload type.
type Resolver[P any] struct {
	store repository.YearRecordStore[P]
}

func NewResolver[P any](store repository.YearRecordStore[P]) *Resolver[P] {
	return &Resolver[P]{store: store}
}

// GetEffectiveRecord returns the record with the greatest effective year that
// applies to year, or nil when the identity has no data at or before year.
func (r *Resolver[P]) GetEffectiveRecord(ctx context.Context, id domain.Identity, year int) (*domain.Record[P], error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	record, err := r.store.FindOne(ctx, repository.EffectiveQuery(id, year))
	if err != nil {
		return nil, fmt.Errorf("resolve %s for %d: %w", id, year, err)
	}
	return record, nil
}

// GetEffectiveRecordsForScope returns the effective record of every identity
// in scope that has one, using a single grouped store query.
func (r *Resolver[P]) GetEffectiveRecordsForScope(ctx context.Context, scope domain.Scope, year int) ([]domain.Record[P], error) {
	if !scope.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown entity kind %q", domain.ErrValidation, scope.Kind)
	}
	records, err := r.store.FindEffectiveForScope(ctx, scope, year)
	if err != nil {
		return nil, fmt.Errorf("resolve scope %s/%s for %d: %w", scope.Kind, scope.MunicipalityID, year, err)
	}
	return records, nil
}

// GetExactRecord returns the record that belongs to year itself, or nil.
func (r *Resolver[P]) GetExactRecord(ctx context.Context, id domain.Identity, year int) (*domain.Record[P], error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	record, err := r.store.FindOne(ctx, repository.ExactYearQuery(id, year))
	if err != nil {
		return nil, fmt.Errorf("load %s for %d: %w", id, year, err)
	}
	return record, nil
}

// Timeline lists the active records of an identity, oldest year first.
func (r *Resolver[P]) Timeline(ctx context.Context, id domain.Identity) ([]domain.Record[P], error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	records, err := r.store.Find(ctx, repository.ForIdentity(id))
	if err != nil {
		return nil, fmt.Errorf("load timeline of %s: %w", id, err)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].EffectiveYear < records[j].EffectiveYear })
	return records, nil
}
