package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func TestMemoryTrackerLifecycle(t *testing.T) {
	clock := newFakeClock()
	tracker := NewMemoryTracker(WithClock(clock.Now))
	ctx := context.Background()
	jobID := uuid.New()
	municipality := uuid.New()

	state, err := tracker.Update(ctx, jobID, Update{Status: StatusStarting, Type: "land_assessment", MunicipalityID: municipality, Year: 2025})
	require.NoError(t, err)
	assert.Equal(t, StatusStarting, state.Status)
	assert.Equal(t, municipality, state.MunicipalityID)
	assert.Equal(t, clock.Now(), state.StartedAt)

	clock.Advance(time.Second)
	_, err = tracker.Update(ctx, jobID, Update{Status: StatusRunning, Progress: &Progress{Total: 10, TotalProcessed: 4, Created: 1, Unchanged: 3}})
	require.NoError(t, err)

	got, err := tracker.Get(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 4, got.Progress.TotalProcessed)
	assert.Equal(t, 2025, got.Year, "descriptive fields survive later updates")
	assert.Nil(t, got.FinishedAt)

	clock.Advance(time.Second)
	result := json.RawMessage(`{"created":1}`)
	done, err := tracker.Update(ctx, jobID, Update{Status: StatusCompleted, Result: result})
	require.NoError(t, err)
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, clock.Now(), *done.FinishedAt)
	assert.JSONEq(t, `{"created":1}`, string(done.Result))
	assert.Equal(t, 4, done.Progress.TotalProcessed, "progress is kept when an update omits it")
}

func TestMemoryTrackerRetention(t *testing.T) {
	clock := newFakeClock()
	tracker := NewMemoryTracker(WithClock(clock.Now), WithRetention(time.Hour))
	ctx := context.Background()
	finished := uuid.New()
	running := uuid.New()

	_, err := tracker.Update(ctx, finished, Update{Status: StatusFailed, Error: "boom"})
	require.NoError(t, err)
	_, err = tracker.Update(ctx, running, Update{Status: StatusRunning})
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	got, err := tracker.Get(ctx, finished)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "boom", got.Error)
	assert.Equal(t, 0, tracker.Sweep())

	clock.Advance(time.Minute)
	got, err = tracker.Get(ctx, finished)
	require.NoError(t, err)
	assert.Nil(t, got, "terminal jobs disappear after the retention window")

	assert.Equal(t, 1, tracker.Sweep())
	stillRunning, err := tracker.Get(ctx, running)
	require.NoError(t, err)
	assert.NotNil(t, stillRunning, "running jobs are never swept")
}

func TestMemoryTrackerGetUnknown(t *testing.T) {
	tracker := NewMemoryTracker()
	got, err := tracker.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryTrackerStartStop(t *testing.T) {
	clock := newFakeClock()
	tracker := NewMemoryTracker(WithClock(clock.Now), WithSweepInterval(5*time.Millisecond), WithRetention(time.Minute))
	ctx := context.Background()
	jobID := uuid.New()
	_, err := tracker.Update(ctx, jobID, Update{Status: StatusCompleted})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	tracker.Start(ctx)
	tracker.Start(ctx)
	assert.Eventually(t, func() bool {
		tracker.mu.RLock()
		defer tracker.mu.RUnlock()
		return len(tracker.jobs) == 0
	}, time.Second, 5*time.Millisecond)
	tracker.Stop()
	tracker.Stop()
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusStarting.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}
