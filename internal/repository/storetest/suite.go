// Package storetest holds behaviour tests shared by every YearRecordStore and
// YearLockStore implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/repository"
)

// RecordStoreFactory returns an empty store for one test.
type RecordStoreFactory func(t *testing.T) repository.YearRecordStore[domain.LandAssessment]

// LockStoreFactory returns an empty lock store for one test.
type LockStoreFactory func(t *testing.T) repository.YearLockStore

// NewLandRecord builds an active land assessment record.
func NewLandRecord(id domain.Identity, year int, market float64) domain.Record[domain.LandAssessment] {
	return domain.Record[domain.LandAssessment]{
		Identity:      id,
		EffectiveYear: year,
		IsActive:      true,
		Payload:       domain.LandAssessment{ParcelID: id.Key, Acreage: 1.5, MarketValue: market, AssessedValue: market / 2},
	}
}

// RunYearRecordStore exercises the YearRecordStore contract.
func RunYearRecordStore(t *testing.T, newStore RecordStoreFactory) {
	ctx := context.Background()
	municipality := uuid.New()
	identity := func(key string) domain.Identity {
		return domain.Identity{Kind: domain.KindLandAssessment, MunicipalityID: municipality, Key: key}
	}

	t.Run("create assigns id and version", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, NewLandRecord(identity("P-1"), 2024, 100000))
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, created.ID)
		assert.Equal(t, int64(1), created.Version)
		assert.False(t, created.CreatedAt.IsZero())
		assert.Equal(t, 100000.0, created.Payload.MarketValue)
	})

	t.Run("create rejects second active record for same year", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Create(ctx, NewLandRecord(identity("P-1"), 2024, 1))
		require.NoError(t, err)

		_, err = store.Create(ctx, NewLandRecord(identity("P-1"), 2024, 2))
		assert.ErrorIs(t, err, domain.ErrDuplicateYear)
	})

	t.Run("inactive records do not block a new active record", func(t *testing.T) {
		store := newStore(t)
		first, err := store.Create(ctx, NewLandRecord(identity("P-1"), 2024, 1))
		require.NoError(t, err)
		first.IsActive = false
		_, err = store.Save(ctx, first)
		require.NoError(t, err)

		_, err = store.Create(ctx, NewLandRecord(identity("P-1"), 2024, 2))
		require.NoError(t, err)

		active, err := store.Find(ctx, repository.ForIdentity(identity("P-1")))
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, 2.0, active[0].Payload.MarketValue)

		q := repository.ForIdentity(identity("P-1"))
		q.IncludeInactive = true
		all, err := store.Find(ctx, q)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("create rejects end year not after effective year", func(t *testing.T) {
		store := newStore(t)
		record := NewLandRecord(identity("P-1"), 2024, 1)
		record.EffectiveYearEnd = domain.IntPtr(2024)
		_, err := store.Create(ctx, record)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("save bumps version and detects stale writes", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, NewLandRecord(identity("P-1"), 2024, 1))
		require.NoError(t, err)

		stale := created
		created.Payload.MarketValue = 5
		saved, err := store.Save(ctx, created)
		require.NoError(t, err)
		assert.Equal(t, int64(2), saved.Version)
		assert.Equal(t, 5.0, saved.Payload.MarketValue)

		stale.Payload.MarketValue = 9
		_, err = store.Save(ctx, stale)
		assert.ErrorIs(t, err, domain.ErrConcurrentModification)

		missing := created
		missing.ID = uuid.New()
		_, err = store.Save(ctx, missing)
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	})

	t.Run("queries by exact and effective year", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Create(ctx, NewLandRecord(identity("P-1"), 2022, 1))
		require.NoError(t, err)
		_, err = store.Create(ctx, NewLandRecord(identity("P-1"), 2024, 2))
		require.NoError(t, err)

		exact, err := store.FindOne(ctx, repository.ExactYearQuery(identity("P-1"), 2023))
		require.NoError(t, err)
		assert.Nil(t, exact)

		effective, err := store.FindOne(ctx, repository.EffectiveQuery(identity("P-1"), 2023))
		require.NoError(t, err)
		require.NotNil(t, effective)
		assert.Equal(t, 2022, effective.EffectiveYear)

		effective, err = store.FindOne(ctx, repository.EffectiveQuery(identity("P-1"), 2030))
		require.NoError(t, err)
		require.NotNil(t, effective)
		assert.Equal(t, 2024, effective.EffectiveYear)

		all, err := store.Find(ctx, repository.ForIdentity(identity("P-1")))
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, 2024, all[0].EffectiveYear, "newest year first")
	})

	t.Run("effective end year is exclusive", func(t *testing.T) {
		store := newStore(t)
		closed := NewLandRecord(identity("P-1"), 2020, 1)
		closed.EffectiveYearEnd = domain.IntPtr(2023)
		_, err := store.Create(ctx, closed)
		require.NoError(t, err)

		got, err := store.FindOne(ctx, repository.EffectiveQuery(identity("P-1"), 2022))
		require.NoError(t, err)
		assert.NotNil(t, got)

		got, err = store.FindOne(ctx, repository.EffectiveQuery(identity("P-1"), 2023))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("effective records for scope pick latest per identity", func(t *testing.T) {
		store := newStore(t)
		for _, seed := range []struct {
			key  string
			year int
		}{{"P-1", 2020}, {"P-1", 2023}, {"P-1", 2026}, {"P-2", 2021}, {"P-3", 2025}} {
			_, err := store.Create(ctx, NewLandRecord(identity(seed.key), seed.year, float64(seed.year)))
			require.NoError(t, err)
		}
		other := NewLandRecord(domain.Identity{Kind: domain.KindLandAssessment, MunicipalityID: uuid.New(), Key: "P-1"}, 2020, 1)
		_, err := store.Create(ctx, other)
		require.NoError(t, err)

		scope := domain.Scope{Kind: domain.KindLandAssessment, MunicipalityID: municipality}
		records, err := store.FindEffectiveForScope(ctx, scope, 2024)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "P-1", records[0].Identity.Key)
		assert.Equal(t, 2023, records[0].EffectiveYear)
		assert.Equal(t, "P-2", records[1].Identity.Key)
		assert.Equal(t, 2021, records[1].EffectiveYear)

		scope.Keys = []string{"P-2", "P-3"}
		records, err = store.FindEffectiveForScope(ctx, scope, 2025)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "P-2", records[0].Identity.Key)
		assert.Equal(t, "P-3", records[1].Identity.Key)
	})

	t.Run("supersede links versions and closes ancestor", func(t *testing.T) {
		store := newStore(t)
		ancestor, err := store.Create(ctx, NewLandRecord(identity("P-1"), 2022, 1))
		require.NoError(t, err)

		next := NewLandRecord(identity("P-1"), 2024, 2)
		next.ID = uuid.New()
		next.PreviousVersionID = &ancestor.ID
		next.SourceEffectiveYear = domain.IntPtr(2022)
		ancestor.EffectiveYearEnd = domain.IntPtr(2024)
		ancestor.NextVersionID = &next.ID

		created, err := store.Supersede(ctx, next, ancestor)
		require.NoError(t, err)
		require.NotNil(t, created.PreviousVersionID)
		assert.Equal(t, ancestor.ID, *created.PreviousVersionID)
		assert.Equal(t, next.ID, created.ID)

		closed, err := store.FindOne(ctx, repository.ExactYearQuery(identity("P-1"), 2022))
		require.NoError(t, err)
		require.NotNil(t, closed)
		require.NotNil(t, closed.NextVersionID)
		assert.Equal(t, created.ID, *closed.NextVersionID)
		require.NotNil(t, closed.EffectiveYearEnd)
		assert.Equal(t, 2024, *closed.EffectiveYearEnd)
		assert.Equal(t, int64(2), closed.Version)
	})

	t.Run("supersede is atomic on duplicate", func(t *testing.T) {
		store := newStore(t)
		ancestor, err := store.Create(ctx, NewLandRecord(identity("P-1"), 2022, 1))
		require.NoError(t, err)
		_, err = store.Create(ctx, NewLandRecord(identity("P-1"), 2024, 3))
		require.NoError(t, err)

		ancestor.EffectiveYearEnd = domain.IntPtr(2024)
		_, err = store.Supersede(ctx, NewLandRecord(identity("P-1"), 2024, 2), ancestor)
		require.ErrorIs(t, err, domain.ErrDuplicateYear)

		untouched, err := store.FindOne(ctx, repository.ExactYearQuery(identity("P-1"), 2022))
		require.NoError(t, err)
		require.NotNil(t, untouched)
		assert.Nil(t, untouched.EffectiveYearEnd)
		assert.Nil(t, untouched.NextVersionID)
		assert.Equal(t, int64(1), untouched.Version)
	})

	t.Run("supersede relinks neighbours of an inserted version", func(t *testing.T) {
		store := newStore(t)
		first, err := store.Create(ctx, NewLandRecord(identity("P-1"), 2020, 1))
		require.NoError(t, err)
		third := NewLandRecord(identity("P-1"), 2026, 3)
		third.ID = uuid.New()
		third.PreviousVersionID = &first.ID
		first.EffectiveYearEnd = domain.IntPtr(2026)
		first.NextVersionID = &third.ID
		third, err = store.Supersede(ctx, third, first)
		require.NoError(t, err)

		first, err = mustFind(ctx, store, identity("P-1"), 2020)
		require.NoError(t, err)
		second := NewLandRecord(identity("P-1"), 2023, 2)
		second.ID = uuid.New()
		second.PreviousVersionID = &first.ID
		second.NextVersionID = &third.ID
		second.EffectiveYearEnd = domain.IntPtr(2026)
		first.EffectiveYearEnd = domain.IntPtr(2023)
		first.NextVersionID = &second.ID
		_, err = store.Supersede(ctx, second, first)
		require.NoError(t, err)

		reloaded, err := mustFind(ctx, store, identity("P-1"), 2026)
		require.NoError(t, err)
		require.NotNil(t, reloaded.PreviousVersionID)
		assert.Equal(t, second.ID, *reloaded.PreviousVersionID)
	})

	t.Run("supersede replaces a deactivated record of the same year", func(t *testing.T) {
		store := newStore(t)
		previous, err := store.Create(ctx, NewLandRecord(identity("P-1"), 2024, 1))
		require.NoError(t, err)
		previous.IsActive = false

		replacement, err := store.Supersede(ctx, NewLandRecord(identity("P-1"), 2024, 2), previous)
		require.NoError(t, err)

		active, err := mustFind(ctx, store, identity("P-1"), 2024)
		require.NoError(t, err)
		assert.Equal(t, replacement.ID, active.ID)
		assert.Equal(t, 2.0, active.Payload.MarketValue)
	})

	t.Run("returned records are independent copies", func(t *testing.T) {
		store := newStore(t)
		created, err := store.Create(ctx, NewLandRecord(identity("P-1"), 2024, 1))
		require.NoError(t, err)
		created.Payload.MarketValue = 42

		reread, err := store.FindOne(ctx, repository.ExactYearQuery(identity("P-1"), 2024))
		require.NoError(t, err)
		require.NotNil(t, reread)
		assert.Equal(t, 1.0, reread.Payload.MarketValue)
	})
}

func mustFind(ctx context.Context, store repository.YearRecordStore[domain.LandAssessment], id domain.Identity, year int) (domain.Record[domain.LandAssessment], error) {
	record, err := store.FindOne(ctx, repository.ExactYearQuery(id, year))
	if err != nil {
		return domain.Record[domain.LandAssessment]{}, err
	}
	if record == nil {
		return domain.Record[domain.LandAssessment]{}, domain.ErrRecordNotFound
	}
	return *record, nil
}

// RunYearLockStore exercises the YearLockStore contract.
func RunYearLockStore(t *testing.T, newStore LockStoreFactory) {
	ctx := context.Background()
	municipality := uuid.New()

	store := newStore(t)
	locked, err := store.IsYearLocked(ctx, municipality, 2024)
	require.NoError(t, err)
	assert.False(t, locked)

	lockedAt := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)
	lock, err := store.Lock(ctx, domain.YearLock{MunicipalityID: municipality, Year: 2024, LockedBy: "clerk", Reason: "roll certified", LockedAt: lockedAt})
	require.NoError(t, err)
	assert.Equal(t, "clerk", lock.LockedBy)

	again, err := store.Lock(ctx, domain.YearLock{MunicipalityID: municipality, Year: 2024, LockedBy: "other"})
	require.NoError(t, err)
	assert.Equal(t, "clerk", again.LockedBy, "relocking keeps the original lock")
	assert.True(t, again.LockedAt.Equal(lockedAt))

	_, err = store.Lock(ctx, domain.YearLock{MunicipalityID: municipality, Year: 2022, LockedBy: "clerk"})
	require.NoError(t, err)

	locked, err = store.IsYearLocked(ctx, municipality, 2024)
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = store.IsYearLocked(ctx, uuid.New(), 2024)
	require.NoError(t, err)
	assert.False(t, locked)

	locks, err := store.ListLocks(ctx, municipality)
	require.NoError(t, err)
	require.Len(t, locks, 2)
	assert.Equal(t, 2022, locks[0].Year)
	assert.Equal(t, 2024, locks[1].Year)

	require.NoError(t, store.Unlock(ctx, municipality, 2024))
	locked, err = store.IsYearLocked(ctx, municipality, 2024)
	require.NoError(t, err)
	assert.False(t, locked)
}
