package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/repository"
)

type lockKey struct {
	municipalityID uuid.UUID
	year           int
}

// LockStore is an in-memory YearLockStore.
type LockStore struct {
	mu    sync.RWMutex
	locks map[lockKey]domain.YearLock
}

var _ repository.YearLockStore = (*LockStore)(nil)

func NewLockStore() *LockStore {
	return &LockStore{locks: make(map[lockKey]domain.YearLock)}
}

func (s *LockStore) IsYearLocked(_ context.Context, municipalityID uuid.UUID, year int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.locks[lockKey{municipalityID, year}]
	return ok, nil
}

func (s *LockStore) Lock(_ context.Context, lock domain.YearLock) (domain.YearLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := lockKey{lock.MunicipalityID, lock.Year}
	if existing, ok := s.locks[key]; ok {
		return existing, nil
	}
	if lock.LockedAt.IsZero() {
		lock.LockedAt = time.Now().UTC()
	}
	s.locks[key] = lock
	return lock, nil
}

func (s *LockStore) Unlock(_ context.Context, municipalityID uuid.UUID, year int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, lockKey{municipalityID, year})
	return nil
}

func (s *LockStore) ListLocks(_ context.Context, municipalityID uuid.UUID) ([]domain.YearLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	locks := []domain.YearLock{}
	for key, lock := range s.locks {
		if key.municipalityID == municipalityID {
			locks = append(locks, lock)
		}
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].Year < locks[j].Year })
	return locks, nil
}
