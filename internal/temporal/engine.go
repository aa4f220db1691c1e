package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/logging"
	"github.com/rpattn/assessor/internal/metrics"
	"github.com/rpattn/assessor/internal/repository"
)

// Config carries the ambient dependencies of an Engine.
type Config struct {
	Now    func() time.Time
	Logger *logrus.Entry
}

// Engine performs copy-on-write edits. An edit of year Y either updates Y's
// own record in place or creates a new Y record branched from the nearest
// ancestor; records of other years are never rewritten except for chain links.
// Year locks are checked by callers before any Engine call.
type Engine[P any] struct {
	store    repository.YearRecordStore[P]
	resolver *Resolver[P]
	validate func(P) error
	now      func() time.Time
	log      *logrus.Entry
}

func NewEngine[P any](store repository.YearRecordStore[P], cfg Config) *Engine[P] {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Component(nil, "temporal")
	}
	return &Engine[P]{
		store:    store,
		resolver: NewResolver(store),
		now:      cfg.Now,
		log:      cfg.Logger,
	}
}

// WithValidator installs a payload check that runs before every write.
func (e *Engine[P]) WithValidator(validate func(P) error) *Engine[P] {
	e.validate = validate
	return e
}

func (e *Engine[P]) Resolver() *Resolver[P] { return e.resolver }

// GetOrCreateOptions controls GetOrCreateForYear.
type GetOrCreateOptions[P any] struct {
	CreateIfMissing bool
	// Defaults seeds a brand new identity that has no ancestor.
	Defaults P
	ActorID  string
}

// UpdateOptions controls UpdateForYear.
type UpdateOptions[P any] struct {
	// CreateNew replaces an existing exact-year record with a new one instead
	// of patching it in place. The replaced record is deactivated, not deleted.
	CreateNew bool
	ActorID   string
	Defaults  P
}

// WriteOptions stamps engine writes.
type WriteOptions struct {
	ActorID       string
	Recalculation bool
}

// GetOrCreateForYear returns the exact-year record when it exists. Otherwise
// it returns the inherited record as a read-only view, or with CreateIfMissing
// clones the inherited record (or Defaults) into a new record for year. The
// result is nil only when nothing applies and CreateIfMissing is false.
func (e *Engine[P]) GetOrCreateForYear(ctx context.Context, id domain.Identity, year int, opts GetOrCreateOptions[P]) (*domain.Record[P], error) {
	exact, err := e.resolver.GetExactRecord(ctx, id, year)
	if err != nil {
		return nil, err
	}
	if exact != nil {
		return exact, nil
	}

	effective, err := e.resolver.GetEffectiveRecord(ctx, id, year)
	if err != nil {
		return nil, err
	}
	if !opts.CreateIfMissing {
		return effective, nil
	}

	created, err := e.Branch(ctx, id, year, effective, opts.Defaults, nil, WriteOptions{ActorID: opts.ActorID})
	if err == nil {
		return &created, nil
	}
	if !errors.Is(err, domain.ErrDuplicateYear) && !errors.Is(err, domain.ErrConcurrentModification) {
		return nil, err
	}

	// another writer created the year first
	winner, lookupErr := e.resolver.GetExactRecord(ctx, id, year)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if winner == nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"identity": id.String(), "year": year}).Debug("create lost race, returning existing record")
	return winner, nil
}

// UpdateForYear applies patch to year's own record when it exists, or to a
// clone of the nearest ancestor stored as a new record for year.
func (e *Engine[P]) UpdateForYear(ctx context.Context, id domain.Identity, year int, patch domain.Values, opts UpdateOptions[P]) (domain.Record[P], error) {
	write := WriteOptions{ActorID: opts.ActorID}

	exact, err := e.resolver.GetExactRecord(ctx, id, year)
	if err != nil {
		return domain.Record[P]{}, err
	}
	if exact != nil {
		if domain.PolicyFor(id.Kind).ImmutableSuperseded && exact.Superseded() {
			return domain.Record[P]{}, fmt.Errorf("update %s for %d: %w", id, year, domain.ErrRecordSuperseded)
		}
		if opts.CreateNew {
			return e.replace(ctx, *exact, patch, write)
		}
		return e.ApplyInPlace(ctx, *exact, patch, write)
	}

	effective, err := e.resolver.GetEffectiveRecord(ctx, id, year)
	if err != nil {
		return domain.Record[P]{}, err
	}
	created, err := e.Branch(ctx, id, year, effective, opts.Defaults, patch, write)
	if errors.Is(err, domain.ErrDuplicateYear) {
		return domain.Record[P]{}, fmt.Errorf("%w: %w", domain.ErrConcurrentModification, err)
	}
	return created, err
}

// ApplyInPlace patches record and saves it under its current version.
func (e *Engine[P]) ApplyInPlace(ctx context.Context, record domain.Record[P], patch domain.Values, opts WriteOptions) (domain.Record[P], error) {
	if domain.PolicyFor(record.Identity.Kind).ImmutableSuperseded && record.Superseded() {
		return domain.Record[P]{}, fmt.Errorf("update %s for %d: %w", record.Identity, record.EffectiveYear, domain.ErrRecordSuperseded)
	}
	payload, err := domain.ApplyPatch(record.Payload, patch)
	if err != nil {
		return domain.Record[P]{}, err
	}
	if err := e.check(payload); err != nil {
		return domain.Record[P]{}, err
	}

	now := e.now().UTC()
	record.Payload = payload
	record.UpdatedAt = now
	if actor := domain.StringPtr(opts.ActorID); actor != nil {
		record.UpdatedBy = actor
	}
	if opts.Recalculation {
		record.RecalculatedAt = &now
		record.RecalculatedBy = domain.StringPtr(opts.ActorID)
	}

	saved, err := e.store.Save(ctx, record)
	if err != nil {
		e.observeConflict(record.Identity.Kind, err)
		return domain.Record[P]{}, err
	}
	metrics.CowWrites.WithLabelValues(string(record.Identity.Kind), metrics.OperationUpdate).Inc()
	e.log.WithFields(logrus.Fields{"identity": record.Identity.String(), "year": record.EffectiveYear, "version": saved.Version}).Debug("updated year record in place")
	return saved, nil
}

// Branch stores a new record for year cloned from ancestor with patch merged
// on top. A nil ancestor starts from defaults. Chained kinds close the
// ancestor at year and link both versions in the same store operation.
func (e *Engine[P]) Branch(ctx context.Context, id domain.Identity, year int, ancestor *domain.Record[P], defaults P, patch domain.Values, opts WriteOptions) (domain.Record[P], error) {
	if err := id.Validate(); err != nil {
		return domain.Record[P]{}, err
	}
	base := defaults
	var source *int
	if ancestor != nil {
		if ancestor.EffectiveYear >= year {
			return domain.Record[P]{}, fmt.Errorf("%w: ancestor year %d is not before %d", domain.ErrValidation, ancestor.EffectiveYear, year)
		}
		base = ancestor.Payload
		source = domain.IntPtr(ancestor.EffectiveYear)
	}
	payload, err := domain.ApplyPatch(base, patch)
	if err != nil {
		return domain.Record[P]{}, err
	}
	if err := e.check(payload); err != nil {
		return domain.Record[P]{}, err
	}

	now := e.now().UTC()
	actor := domain.StringPtr(opts.ActorID)
	next := domain.Record[P]{
		ID:                  uuid.New(),
		Identity:            id,
		EffectiveYear:       year,
		SourceEffectiveYear: source,
		IsActive:            true,
		CreatedBy:           actor,
		UpdatedBy:           actor,
		CreatedAt:           now,
		UpdatedAt:           now,
		Payload:             payload,
	}
	if opts.Recalculation {
		next.CreatedFromRecalculation = true
		next.RecalculatedAt = &now
		next.RecalculatedBy = actor
	}

	operation := metrics.OperationCreate
	var created domain.Record[P]
	switch {
	case ancestor == nil:
		created, err = e.store.Create(ctx, next)
	case domain.PolicyFor(id.Kind).Chained:
		operation = metrics.OperationBranch
		next.EffectiveYearEnd = ancestor.EffectiveYearEnd
		next.PreviousVersionID = &ancestor.ID
		next.NextVersionID = ancestor.NextVersionID
		closed := *ancestor
		closed.EffectiveYearEnd = domain.IntPtr(year)
		closed.NextVersionID = &next.ID
		closed.UpdatedAt = now
		created, err = e.store.Supersede(ctx, next, closed)
	default:
		operation = metrics.OperationBranch
		next.EffectiveYearEnd = ancestor.EffectiveYearEnd
		created, err = e.store.Create(ctx, next)
	}
	if err != nil {
		e.observeConflict(id.Kind, err)
		return domain.Record[P]{}, err
	}

	metrics.CowWrites.WithLabelValues(string(id.Kind), operation).Inc()
	e.log.WithFields(logrus.Fields{"identity": id.String(), "year": year, "source_year": source}).Debug("created year record")
	return created, nil
}

// replace deactivates record and stores a patched copy for the same year.
func (e *Engine[P]) replace(ctx context.Context, record domain.Record[P], patch domain.Values, opts WriteOptions) (domain.Record[P], error) {
	payload, err := domain.ApplyPatch(record.Payload, patch)
	if err != nil {
		return domain.Record[P]{}, err
	}
	if err := e.check(payload); err != nil {
		return domain.Record[P]{}, err
	}

	now := e.now().UTC()
	actor := domain.StringPtr(opts.ActorID)
	next := domain.Record[P]{
		ID:                  uuid.New(),
		Identity:            record.Identity,
		EffectiveYear:       record.EffectiveYear,
		EffectiveYearEnd:    record.EffectiveYearEnd,
		SourceEffectiveYear: domain.IntPtr(record.EffectiveYear),
		IsActive:            true,
		CreatedBy:           actor,
		UpdatedBy:           actor,
		CreatedAt:           now,
		UpdatedAt:           now,
		Payload:             payload,
	}
	if domain.PolicyFor(record.Identity.Kind).Chained {
		next.PreviousVersionID = record.PreviousVersionID
		next.NextVersionID = record.NextVersionID
	}

	retired := record
	retired.IsActive = false
	retired.UpdatedAt = now
	if actor != nil {
		retired.UpdatedBy = actor
	}

	created, err := e.store.Supersede(ctx, next, retired)
	if err != nil {
		e.observeConflict(record.Identity.Kind, err)
		return domain.Record[P]{}, err
	}
	metrics.CowWrites.WithLabelValues(string(record.Identity.Kind), metrics.OperationCreate).Inc()
	metrics.CowWrites.WithLabelValues(string(record.Identity.Kind), metrics.OperationDeactivate).Inc()
	return created, nil
}

// Deactivate soft-deletes year's own record. Chained kinds keep their history
// and must publish a new year instead.
func (e *Engine[P]) Deactivate(ctx context.Context, id domain.Identity, year int, actorID string) (domain.Record[P], error) {
	if domain.PolicyFor(id.Kind).Chained {
		return domain.Record[P]{}, fmt.Errorf("%w: %s records are chained and cannot be deactivated", domain.ErrValidation, id.Kind)
	}
	exact, err := e.resolver.GetExactRecord(ctx, id, year)
	if err != nil {
		return domain.Record[P]{}, err
	}
	if exact == nil {
		return domain.Record[P]{}, fmt.Errorf("deactivate %s for %d: %w", id, year, domain.ErrRecordNotFound)
	}

	exact.IsActive = false
	exact.UpdatedAt = e.now().UTC()
	if actor := domain.StringPtr(actorID); actor != nil {
		exact.UpdatedBy = actor
	}
	saved, err := e.store.Save(ctx, *exact)
	if err != nil {
		e.observeConflict(id.Kind, err)
		return domain.Record[P]{}, err
	}
	metrics.CowWrites.WithLabelValues(string(id.Kind), metrics.OperationDeactivate).Inc()
	e.log.WithFields(logrus.Fields{"identity": id.String(), "year": year}).Info("deactivated year record")
	return saved, nil
}

// Diff renders a unified diff between the records effective in two years.
func (e *Engine[P]) Diff(ctx context.Context, id domain.Identity, fromYear, toYear int) (string, error) {
	from, err := e.snapshot(ctx, id, fromYear)
	if err != nil {
		return "", err
	}
	to, err := e.snapshot(ctx, id, toYear)
	if err != nil {
		return "", err
	}
	return domain.DiffYearSnapshots(diffLabel(fromYear, from), from, diffLabel(toYear, to), to)
}

func (e *Engine[P]) snapshot(ctx context.Context, id domain.Identity, year int) (*domain.YearSnapshot, error) {
	record, err := e.resolver.GetEffectiveRecord(ctx, id, year)
	if err != nil || record == nil {
		return nil, err
	}
	snapshot, err := domain.NewYearSnapshot(*record)
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func diffLabel(year int, snapshot *domain.YearSnapshot) string {
	if snapshot == nil {
		return fmt.Sprintf("year %d (no record)", year)
	}
	return fmt.Sprintf("year %d (record %d)", year, snapshot.EffectiveYear)
}

func (e *Engine[P]) check(payload P) error {
	if e.validate == nil {
		return nil
	}
	if err := e.validate(payload); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func (e *Engine[P]) observeConflict(kind domain.EntityKind, err error) {
	switch {
	case errors.Is(err, domain.ErrConcurrentModification):
		metrics.StoreConflicts.WithLabelValues(string(kind), "version").Inc()
	case errors.Is(err, domain.ErrDuplicateYear):
		metrics.StoreConflicts.WithLabelValues(string(kind), "duplicate_year").Inc()
	}
}
