package temporal

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/logging"
	"github.com/rpattn/assessor/internal/repository/memory"
)

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newLandEngine(t *testing.T) (*Engine[domain.LandAssessment], *memory.Store[domain.LandAssessment]) {
	t.Helper()
	store := memory.NewStore[domain.LandAssessment]()
	engine := NewEngine[domain.LandAssessment](store, Config{Now: func() time.Time { return fixedNow }, Logger: logging.Discard()})
	return engine, store
}

func landIdentity(municipality uuid.UUID, key string) domain.Identity {
	return domain.Identity{Kind: domain.KindLandAssessment, MunicipalityID: municipality, Key: key}
}

func seedLand(t *testing.T, store *memory.Store[domain.LandAssessment], id domain.Identity, year int, market float64) domain.Record[domain.LandAssessment] {
	t.Helper()
	record, err := store.Create(context.Background(), domain.Record[domain.LandAssessment]{
		Identity:      id,
		EffectiveYear: year,
		IsActive:      true,
		Payload:       domain.LandAssessment{ParcelID: id.Key, Acreage: 2, MarketValue: market, AssessedValue: market / 2},
	})
	require.NoError(t, err)
	return record
}

func TestGetEffectiveRecordPicksLatestYearAtOrBefore(t *testing.T) {
	engine, store := newLandEngine(t)
	ctx := context.Background()
	id := landIdentity(uuid.New(), "P")
	seedLand(t, store, id, 2022, 1)
	seedLand(t, store, id, 2024, 2)

	got, err := engine.Resolver().GetEffectiveRecord(ctx, id, 2023)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2022, got.EffectiveYear)

	got, err = engine.Resolver().GetEffectiveRecord(ctx, id, 2024)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2024, got.EffectiveYear)

	got, err = engine.Resolver().GetEffectiveRecord(ctx, id, 2021)
	require.NoError(t, err)
	assert.Nil(t, got, "no data before the first year is not an error")
}

func TestGetEffectiveRecordRejectsIncompleteIdentity(t *testing.T) {
	engine, _ := newLandEngine(t)
	_, err := engine.Resolver().GetEffectiveRecord(context.Background(), domain.Identity{Kind: domain.KindLandAssessment}, 2024)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTimelineIsOldestFirst(t *testing.T) {
	engine, store := newLandEngine(t)
	id := landIdentity(uuid.New(), "P")
	seedLand(t, store, id, 2024, 2)
	seedLand(t, store, id, 2020, 1)

	timeline, err := engine.Resolver().Timeline(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, 2020, timeline[0].EffectiveYear)
	assert.Equal(t, 2024, timeline[1].EffectiveYear)
}

func TestGetOrCreateReturnsInheritedViewWithoutWriting(t *testing.T) {
	engine, store := newLandEngine(t)
	id := landIdentity(uuid.New(), "P")
	seedLand(t, store, id, 2022, 50000)

	got, err := engine.GetOrCreateForYear(context.Background(), id, 2024, GetOrCreateOptions[domain.LandAssessment]{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2022, got.EffectiveYear)
	assert.NotEqual(t, 2024, got.EffectiveYear, "inherited view belongs to an earlier year")
	assert.Equal(t, 1, store.Len())
}

func TestGetOrCreateReturnsNilWhenNothingApplies(t *testing.T) {
	engine, _ := newLandEngine(t)
	got, err := engine.GetOrCreateForYear(context.Background(), landIdentity(uuid.New(), "P"), 2024, GetOrCreateOptions[domain.LandAssessment]{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetOrCreateClonesAncestorOnce(t *testing.T) {
	engine, store := newLandEngine(t)
	ctx := context.Background()
	id := landIdentity(uuid.New(), "P")
	ancestor := seedLand(t, store, id, 2022, 50000)
	opts := GetOrCreateOptions[domain.LandAssessment]{CreateIfMissing: true, ActorID: "clerk"}

	first, err := engine.GetOrCreateForYear(ctx, id, 2024, opts)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.NotEqual(t, ancestor.ID, first.ID)
	assert.Equal(t, 2024, first.EffectiveYear)
	require.NotNil(t, first.SourceEffectiveYear)
	assert.Equal(t, 2022, *first.SourceEffectiveYear)
	assert.Equal(t, 50000.0, first.Payload.MarketValue)
	require.NotNil(t, first.CreatedBy)
	assert.Equal(t, "clerk", *first.CreatedBy)
	assert.False(t, first.CreatedFromRecalculation)

	second, err := engine.GetOrCreateForYear(ctx, id, 2024, opts)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, store.Len())
}

func TestGetOrCreateUsesDefaultsForNewIdentity(t *testing.T) {
	engine, _ := newLandEngine(t)
	id := landIdentity(uuid.New(), "NEW")

	got, err := engine.GetOrCreateForYear(context.Background(), id, 2024, GetOrCreateOptions[domain.LandAssessment]{
		CreateIfMissing: true,
		Defaults:        domain.LandAssessment{Zone: "R1", SiteFactor: 1},
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.Identity)
	assert.Equal(t, "R1", got.Payload.Zone)
	assert.Nil(t, got.SourceEffectiveYear)
}

func TestUpdateForYearPatchesExactRecordInPlace(t *testing.T) {
	engine, store := newLandEngine(t)
	id := landIdentity(uuid.New(), "P")
	existing := seedLand(t, store, id, 2024, 50000)

	updated, err := engine.UpdateForYear(context.Background(), id, 2024, domain.Values{"market_value": 52000}, UpdateOptions[domain.LandAssessment]{ActorID: "clerk"})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, updated.ID)
	assert.Equal(t, 52000.0, updated.Payload.MarketValue)
	assert.Equal(t, 2.0, updated.Payload.Acreage, "fields outside the patch survive")
	assert.Equal(t, existing.Version+1, updated.Version)
	require.NotNil(t, updated.UpdatedBy)
	assert.Equal(t, "clerk", *updated.UpdatedBy)
	assert.Equal(t, fixedNow, updated.UpdatedAt)
	assert.Equal(t, 1, store.Len())
}

func TestUpdateForYearBranchesFromAncestor(t *testing.T) {
	engine, store := newLandEngine(t)
	ctx := context.Background()
	id := landIdentity(uuid.New(), "P")
	ancestor := seedLand(t, store, id, 2022, 50000)

	branched, err := engine.UpdateForYear(ctx, id, 2024, domain.Values{"market_value": 61000}, UpdateOptions[domain.LandAssessment]{})
	require.NoError(t, err)
	assert.NotEqual(t, ancestor.ID, branched.ID)
	assert.Equal(t, 2024, branched.EffectiveYear)
	require.NotNil(t, branched.SourceEffectiveYear)
	assert.Equal(t, 2022, *branched.SourceEffectiveYear)
	assert.Equal(t, 61000.0, branched.Payload.MarketValue)

	reloaded, err := engine.Resolver().GetExactRecord(ctx, id, 2022)
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	assert.Equal(t, ancestor.Version, reloaded.Version)
	assert.Equal(t, ancestor.Payload, reloaded.Payload)
	assert.Nil(t, reloaded.EffectiveYearEnd, "unchained ancestors stay open")
}

func TestUpdateForYearCreateNewReplacesExactRecord(t *testing.T) {
	engine, store := newLandEngine(t)
	ctx := context.Background()
	id := landIdentity(uuid.New(), "P")
	existing := seedLand(t, store, id, 2024, 50000)

	replacement, err := engine.UpdateForYear(ctx, id, 2024, domain.Values{"notes": "re-measured"}, UpdateOptions[domain.LandAssessment]{CreateNew: true})
	require.NoError(t, err)
	assert.NotEqual(t, existing.ID, replacement.ID)
	assert.Equal(t, "re-measured", replacement.Payload.Notes)
	assert.Equal(t, 2, store.Len(), "the replaced record is kept inactive")

	current, err := engine.Resolver().GetEffectiveRecord(ctx, id, 2024)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, replacement.ID, current.ID)
}

func TestUpdateForYearValidationLeavesNoRecord(t *testing.T) {
	engine, store := newLandEngine(t)
	engine.WithValidator(func(p domain.LandAssessment) error {
		if p.MarketValue < 0 {
			return errors.New("market_value must not be negative")
		}
		return nil
	})
	id := landIdentity(uuid.New(), "P")
	seedLand(t, store, id, 2022, 50000)

	_, err := engine.UpdateForYear(context.Background(), id, 2024, domain.Values{"market_value": -1}, UpdateOptions[domain.LandAssessment]{})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 1, store.Len())
}

func TestUpdateForYearPropagatesStoreErrors(t *testing.T) {
	store := &failingStore{Store: memory.NewStore[domain.LandAssessment](), err: errors.New("connection refused")}
	engine := NewEngine[domain.LandAssessment](store, Config{Logger: logging.Discard()})

	_, err := engine.UpdateForYear(context.Background(), landIdentity(uuid.New(), "P"), 2024, domain.Values{"acreage": 1}, UpdateOptions[domain.LandAssessment]{})
	assert.ErrorContains(t, err, "connection refused")
}

func TestLostCreateRace(t *testing.T) {
	ctx := context.Background()
	id := landIdentity(uuid.New(), "P")

	t.Run("get or create returns the winner", func(t *testing.T) {
		store := &racingStore{Store: memory.NewStore[domain.LandAssessment]()}
		engine := NewEngine[domain.LandAssessment](store, Config{Logger: logging.Discard()})

		got, err := engine.GetOrCreateForYear(ctx, id, 2024, GetOrCreateOptions[domain.LandAssessment]{CreateIfMissing: true})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, store.winner.ID, got.ID)
	})

	t.Run("update reports a concurrent modification", func(t *testing.T) {
		store := &racingStore{Store: memory.NewStore[domain.LandAssessment]()}
		engine := NewEngine[domain.LandAssessment](store, Config{Logger: logging.Discard()})

		_, err := engine.UpdateForYear(ctx, id, 2024, domain.Values{"acreage": 3}, UpdateOptions[domain.LandAssessment]{})
		assert.ErrorIs(t, err, domain.ErrConcurrentModification)
		assert.ErrorIs(t, err, domain.ErrDuplicateYear)
	})
}

func TestStaleInPlaceUpdateIsRejected(t *testing.T) {
	engine, store := newLandEngine(t)
	ctx := context.Background()
	id := landIdentity(uuid.New(), "P")
	stale := seedLand(t, store, id, 2024, 50000)

	_, err := engine.UpdateForYear(ctx, id, 2024, domain.Values{"market_value": 1}, UpdateOptions[domain.LandAssessment]{})
	require.NoError(t, err)

	_, err = engine.ApplyInPlace(ctx, stale, domain.Values{"market_value": 2}, WriteOptions{})
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
}

func TestChainedKindLinksVersions(t *testing.T) {
	store := memory.NewStore[domain.BuildingConfig]()
	engine := NewEngine[domain.BuildingConfig](store, Config{Logger: logging.Discard()})
	ctx := context.Background()
	id := domain.Identity{Kind: domain.KindBuildingConfig, MunicipalityID: uuid.New(), Key: "default"}

	base, err := engine.UpdateForYear(ctx, id, 2020, domain.Values{"base_rate_per_sqft": 100}, UpdateOptions[domain.BuildingConfig]{})
	require.NoError(t, err)
	next, err := engine.UpdateForYear(ctx, id, 2024, domain.Values{"base_rate_per_sqft": 120}, UpdateOptions[domain.BuildingConfig]{})
	require.NoError(t, err)

	require.NotNil(t, next.PreviousVersionID)
	assert.Equal(t, base.ID, *next.PreviousVersionID)
	assert.Nil(t, next.EffectiveYearEnd)

	closed, err := engine.Resolver().GetExactRecord(ctx, id, 2020)
	require.NoError(t, err)
	require.NotNil(t, closed)
	require.NotNil(t, closed.EffectiveYearEnd)
	assert.Equal(t, 2024, *closed.EffectiveYearEnd)
	require.NotNil(t, closed.NextVersionID)
	assert.Equal(t, next.ID, *closed.NextVersionID)
	assert.Equal(t, 100.0, closed.Payload.BaseRatePerSqft)

	_, err = engine.UpdateForYear(ctx, id, 2020, domain.Values{"base_rate_per_sqft": 90}, UpdateOptions[domain.BuildingConfig]{})
	assert.ErrorIs(t, err, domain.ErrRecordSuperseded)

	middle, err := engine.UpdateForYear(ctx, id, 2022, domain.Values{"base_rate_per_sqft": 110}, UpdateOptions[domain.BuildingConfig]{})
	require.NoError(t, err)
	require.NotNil(t, middle.EffectiveYearEnd)
	assert.Equal(t, 2024, *middle.EffectiveYearEnd)

	for year, want := range map[int]float64{2021: 100, 2022: 110, 2023: 110, 2024: 120, 2030: 120} {
		got, err := engine.Resolver().GetEffectiveRecord(ctx, id, year)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want, got.Payload.BaseRatePerSqft, "year %d", year)
	}

	latest, err := engine.Resolver().GetExactRecord(ctx, id, 2024)
	require.NoError(t, err)
	require.NotNil(t, latest.PreviousVersionID)
	assert.Equal(t, middle.ID, *latest.PreviousVersionID)

	_, err = engine.Deactivate(ctx, id, 2024, "clerk")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestReplacingSupersededChainedRecordIsRejected(t *testing.T) {
	store := memory.NewStore[domain.BuildingConfig]()
	engine := NewEngine[domain.BuildingConfig](store, Config{Logger: logging.Discard()})
	ctx := context.Background()
	id := domain.Identity{Kind: domain.KindBuildingConfig, MunicipalityID: uuid.New(), Key: "default"}

	_, err := engine.UpdateForYear(ctx, id, 2020, domain.Values{"base_rate_per_sqft": 100}, UpdateOptions[domain.BuildingConfig]{})
	require.NoError(t, err)
	_, err = engine.UpdateForYear(ctx, id, 2024, domain.Values{"base_rate_per_sqft": 120}, UpdateOptions[domain.BuildingConfig]{})
	require.NoError(t, err)
	before := store.Len()

	_, err = engine.UpdateForYear(ctx, id, 2020, domain.Values{"base_rate_per_sqft": 90}, UpdateOptions[domain.BuildingConfig]{CreateNew: true})
	require.ErrorIs(t, err, domain.ErrRecordSuperseded)
	assert.Equal(t, before, store.Len())

	got, err := engine.Resolver().GetEffectiveRecord(ctx, id, 2021)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 100.0, got.Payload.BaseRatePerSqft)

	// the latest version has no successor and can still be replaced
	replaced, err := engine.UpdateForYear(ctx, id, 2024, domain.Values{"base_rate_per_sqft": 125}, UpdateOptions[domain.BuildingConfig]{CreateNew: true})
	require.NoError(t, err)
	assert.Equal(t, 125.0, replaced.Payload.BaseRatePerSqft)
}

func TestDeactivate(t *testing.T) {
	engine, store := newLandEngine(t)
	ctx := context.Background()
	id := landIdentity(uuid.New(), "P")
	seedLand(t, store, id, 2022, 1)
	seedLand(t, store, id, 2024, 2)

	_, err := engine.Deactivate(ctx, id, 2023, "clerk")
	require.ErrorIs(t, err, domain.ErrRecordNotFound)

	removed, err := engine.Deactivate(ctx, id, 2024, "clerk")
	require.NoError(t, err)
	assert.False(t, removed.IsActive)

	got, err := engine.Resolver().GetEffectiveRecord(ctx, id, 2024)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2022, got.EffectiveYear)
}

func TestDiffBetweenYears(t *testing.T) {
	engine, store := newLandEngine(t)
	ctx := context.Background()
	id := landIdentity(uuid.New(), "P")
	seedLand(t, store, id, 2022, 50000)
	_, err := engine.UpdateForYear(ctx, id, 2024, domain.Values{"market_value": 52000}, UpdateOptions[domain.LandAssessment]{})
	require.NoError(t, err)

	diff, err := engine.Diff(ctx, id, 2023, 2024)
	require.NoError(t, err)
	assert.Contains(t, diff, "--- year 2023 (record 2022)")
	assert.Contains(t, diff, "+++ year 2024 (record 2024)")
	assert.Contains(t, diff, "-  market_value: 50000")
	assert.Contains(t, diff, "+  market_value: 52000")

	diff, err = engine.Diff(ctx, id, 2020, 2022)
	require.NoError(t, err)
	assert.Contains(t, diff, "--- year 2020 (no record)")
}

type failingStore struct {
	*memory.Store[domain.LandAssessment]
	err error
}

func (s *failingStore) Create(context.Context, domain.Record[domain.LandAssessment]) (domain.Record[domain.LandAssessment], error) {
	return domain.Record[domain.LandAssessment]{}, s.err
}

// racingStore lets a competing writer create the same year just before the
// engine's own create.
type racingStore struct {
	*memory.Store[domain.LandAssessment]
	raced  atomic.Bool
	winner domain.Record[domain.LandAssessment]
}

func (s *racingStore) Create(ctx context.Context, record domain.Record[domain.LandAssessment]) (domain.Record[domain.LandAssessment], error) {
	if s.raced.CompareAndSwap(false, true) {
		competitor := record
		competitor.ID = uuid.Nil
		winner, err := s.Store.Create(ctx, competitor)
		if err != nil {
			return domain.Record[domain.LandAssessment]{}, err
		}
		s.winner = winner
	}
	return s.Store.Create(ctx, record)
}
