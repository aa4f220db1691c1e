package temporal

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/repository/memory"
)

type countingStore struct {
	*memory.Store[domain.LandAssessment]
	scopeCalls atomic.Int32
}

func (s *countingStore) FindEffectiveForScope(ctx context.Context, scope domain.Scope, year int) ([]domain.Record[domain.LandAssessment], error) {
	s.scopeCalls.Add(1)
	return s.Store.FindEffectiveForScope(ctx, scope, year)
}

func TestLoaderBatchesLookupsIntoOneScopeQuery(t *testing.T) {
	store := &countingStore{Store: memory.NewStore[domain.LandAssessment]()}
	municipality := uuid.New()
	a := landIdentity(municipality, "A")
	b := landIdentity(municipality, "B")
	missing := landIdentity(municipality, "missing")
	seedLand(t, store.Store, a, 2020, 100)
	seedLand(t, store.Store, b, 2023, 200)
	seedLand(t, store.Store, landIdentity(municipality, "C"), 2021, 300)

	loader := NewLoader(NewResolver[domain.LandAssessment](store), 5*time.Millisecond)
	records, err := loader.LoadMany(context.Background(), []domain.Identity{b, missing, a}, 2024)
	require.NoError(t, err)
	require.Len(t, records, 3)

	require.NotNil(t, records[0])
	assert.Equal(t, 2023, records[0].EffectiveYear)
	assert.Nil(t, records[1])
	require.NotNil(t, records[2])
	assert.Equal(t, 2020, records[2].EffectiveYear)
	assert.EqualValues(t, 1, store.scopeCalls.Load())

	again, err := loader.Load(context.Background(), a, 2024)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.EqualValues(t, 1, store.scopeCalls.Load(), "repeat lookups are served from the loader cache")
}

func TestLoaderSeparatesYears(t *testing.T) {
	store := &countingStore{Store: memory.NewStore[domain.LandAssessment]()}
	id := landIdentity(uuid.New(), "A")
	seedLand(t, store.Store, id, 2020, 100)
	seedLand(t, store.Store, id, 2024, 150)

	loader := NewLoader(NewResolver[domain.LandAssessment](store), 0)
	older, err := loader.Load(context.Background(), id, 2022)
	require.NoError(t, err)
	newer, err := loader.Load(context.Background(), id, 2024)
	require.NoError(t, err)

	require.NotNil(t, older)
	require.NotNil(t, newer)
	assert.Equal(t, 2020, older.EffectiveYear)
	assert.Equal(t, 2024, newer.EffectiveYear)
}

func TestLoaderKeyRoundTrip(t *testing.T) {
	id := landIdentity(uuid.New(), "parcel|with|pipes")
	decoded, year, err := decodeLoaderKey(encodeLoaderKey(id, 2025))
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
	assert.Equal(t, 2025, year)

	_, _, err = decodeLoaderKey("land_assessment|not-a-uuid|2024|x")
	assert.Error(t, err)
}
