// Package memory provides in-process stores used by tests and single-node
// deployments without a database.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/repository"
)

// Store is an in-memory YearRecordStore. Payloads are deep-copied on every
// read and write so callers never share state with the store.
type Store[P any] struct {
	mu      sync.RWMutex
	records map[uuid.UUID]domain.Record[P]
	now     func() time.Time
}

var _ repository.YearRecordStore[domain.LandAssessment] = (*Store[domain.LandAssessment])(nil)

// NewStore creates an empty store.
func NewStore[P any]() *Store[P] {
	return &Store[P]{records: make(map[uuid.UUID]domain.Record[P]), now: time.Now}
}

// WithClock overrides the timestamp source.
func (s *Store[P]) WithClock(now func() time.Time) *Store[P] {
	s.now = now
	return s
}

// Len returns the number of physical records, including inactive ones.
func (s *Store[P]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store[P]) Find(ctx context.Context, q repository.RecordQuery) ([]domain.Record[P], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := []domain.Record[P]{}
	for _, record := range s.records {
		if matches(record, q) {
			matched = append(matched, record)
		}
	}
	sortRecords(matched)
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return s.cloneAll(matched)
}

func (s *Store[P]) FindOne(ctx context.Context, q repository.RecordQuery) (*domain.Record[P], error) {
	q.Limit = 1
	records, err := s.Find(ctx, q)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

func (s *Store[P]) FindEffectiveForScope(ctx context.Context, scope domain.Scope, year int) ([]domain.Record[P], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	grouped := map[string][]domain.Record[P]{}
	for _, record := range s.records {
		if !record.IsActive || record.Identity.Kind != scope.Kind || record.Identity.MunicipalityID != scope.MunicipalityID {
			continue
		}
		if len(scope.Keys) > 0 && !slices.Contains(scope.Keys, record.Identity.Key) {
			continue
		}
		grouped[record.Identity.Key] = append(grouped[record.Identity.Key], record)
	}

	effective := make([]domain.Record[P], 0, len(grouped))
	for _, candidates := range grouped {
		if record, ok := domain.PickEffective(candidates, year); ok {
			effective = append(effective, record)
		}
	}
	sortRecords(effective)
	return s.cloneAll(effective)
}

func (s *Store[P]) Create(ctx context.Context, record domain.Record[P]) (domain.Record[P], error) {
	if err := ctx.Err(); err != nil {
		return domain.Record[P]{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(record)
}

func (s *Store[P]) createLocked(record domain.Record[P]) (domain.Record[P], error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if _, exists := s.records[record.ID]; exists {
		return domain.Record[P]{}, fmt.Errorf("create year record: id %s: %w", record.ID, domain.ErrDuplicateYear)
	}
	if err := checkBounds(record); err != nil {
		return domain.Record[P]{}, err
	}
	if record.IsActive && s.activeConflictLocked(record) {
		return domain.Record[P]{}, fmt.Errorf("create year record %s %d: %w", record.Identity, record.EffectiveYear, domain.ErrDuplicateYear)
	}
	now := s.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	record.Version = 1

	stored, err := cloneRecord(record)
	if err != nil {
		return domain.Record[P]{}, err
	}
	s.records[stored.ID] = stored
	return cloneRecord(stored)
}

func (s *Store[P]) Save(ctx context.Context, record domain.Record[P]) (domain.Record[P], error) {
	if err := ctx.Err(); err != nil {
		return domain.Record[P]{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(record)
}

func (s *Store[P]) saveLocked(record domain.Record[P]) (domain.Record[P], error) {
	current, ok := s.records[record.ID]
	if !ok {
		return domain.Record[P]{}, fmt.Errorf("save year record %s: %w", record.ID, domain.ErrRecordNotFound)
	}
	if current.Version != record.Version {
		return domain.Record[P]{}, fmt.Errorf("save year record %s at version %d: %w", record.ID, record.Version, domain.ErrConcurrentModification)
	}
	if err := checkBounds(record); err != nil {
		return domain.Record[P]{}, err
	}
	if record.IsActive && !current.IsActive && s.activeConflictLocked(current) {
		return domain.Record[P]{}, fmt.Errorf("reactivate year record %s: %w", record.ID, domain.ErrDuplicateYear)
	}

	// identity, year and creation stamps are immutable
	record.Identity = current.Identity
	record.EffectiveYear = current.EffectiveYear
	record.CreatedAt = current.CreatedAt
	record.CreatedBy = current.CreatedBy
	record.Version = current.Version + 1
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = s.now().UTC()
	}

	stored, err := cloneRecord(record)
	if err != nil {
		return domain.Record[P]{}, err
	}
	s.records[stored.ID] = stored
	return cloneRecord(stored)
}

func (s *Store[P]) Supersede(ctx context.Context, next domain.Record[P], previous domain.Record[P]) (domain.Record[P], error) {
	if err := ctx.Err(); err != nil {
		return domain.Record[P]{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}
	original, ok := s.records[previous.ID]
	if !ok {
		return domain.Record[P]{}, fmt.Errorf("supersede year record %s: %w", previous.ID, domain.ErrRecordNotFound)
	}
	if _, err := s.saveLocked(previous); err != nil {
		return domain.Record[P]{}, err
	}
	created, err := s.createLocked(next)
	if err != nil {
		s.records[original.ID] = original
		return domain.Record[P]{}, err
	}
	if id := created.PreviousVersionID; id != nil && *id != previous.ID {
		s.relinkLocked(*id, func(r *domain.Record[P]) { r.NextVersionID = clonePtr(&created.ID) })
	}
	if id := created.NextVersionID; id != nil && *id != previous.ID {
		s.relinkLocked(*id, func(r *domain.Record[P]) { r.PreviousVersionID = clonePtr(&created.ID) })
	}
	return created, nil
}

func (s *Store[P]) relinkLocked(id uuid.UUID, link func(*domain.Record[P])) {
	record, ok := s.records[id]
	if !ok {
		return
	}
	link(&record)
	record.Version++
	record.UpdatedAt = s.now().UTC()
	s.records[id] = record
}

func (s *Store[P]) activeConflictLocked(record domain.Record[P]) bool {
	for id, existing := range s.records {
		if id == record.ID || !existing.IsActive {
			continue
		}
		if existing.Identity == record.Identity && existing.EffectiveYear == record.EffectiveYear {
			return true
		}
	}
	return false
}

func (s *Store[P]) cloneAll(records []domain.Record[P]) ([]domain.Record[P], error) {
	out := make([]domain.Record[P], 0, len(records))
	for _, record := range records {
		clone, err := cloneRecord(record)
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

func checkBounds[P any](record domain.Record[P]) error {
	if record.EffectiveYearEnd != nil && *record.EffectiveYearEnd <= record.EffectiveYear {
		return fmt.Errorf("%w: effective_year_end %d must be after effective_year %d",
			domain.ErrValidation, *record.EffectiveYearEnd, record.EffectiveYear)
	}
	return nil
}

func matches[P any](record domain.Record[P], q repository.RecordQuery) bool {
	if record.Identity.Kind != q.Kind || record.Identity.MunicipalityID != q.MunicipalityID {
		return false
	}
	if q.Key != "" && record.Identity.Key != q.Key {
		return false
	}
	if q.ID != nil && record.ID != *q.ID {
		return false
	}
	if q.ExactYear != nil && record.EffectiveYear != *q.ExactYear {
		return false
	}
	if q.EffectiveAt != nil && !domain.Applies(record, *q.EffectiveAt) {
		return false
	}
	if !q.IncludeInactive && !record.IsActive {
		return false
	}
	return true
}

func sortRecords[P any](records []domain.Record[P]) {
	sort.SliceStable(records, func(i, j int) bool {
		if c := strings.Compare(records[i].Identity.Key, records[j].Identity.Key); c != 0 {
			return c < 0
		}
		return records[i].EffectiveYear > records[j].EffectiveYear
	})
}

func cloneRecord[P any](record domain.Record[P]) (domain.Record[P], error) {
	payload, err := domain.ClonePayload(record.Payload)
	if err != nil {
		return domain.Record[P]{}, err
	}
	record.Payload = payload
	record.EffectiveYearEnd = clonePtr(record.EffectiveYearEnd)
	record.SourceEffectiveYear = clonePtr(record.SourceEffectiveYear)
	record.PreviousVersionID = clonePtr(record.PreviousVersionID)
	record.NextVersionID = clonePtr(record.NextVersionID)
	record.CreatedBy = clonePtr(record.CreatedBy)
	record.UpdatedBy = clonePtr(record.UpdatedBy)
	record.RecalculatedAt = clonePtr(record.RecalculatedAt)
	record.RecalculatedBy = clonePtr(record.RecalculatedBy)
	return record, nil
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
