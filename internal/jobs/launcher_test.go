package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/assessor/internal/logging"
)

func launch(t *testing.T, timeout time.Duration, run WorkFunc) (*MemoryTracker, *Launcher, uuid.UUID) {
	t.Helper()
	tracker := NewMemoryTracker()
	launcher := NewLauncher(tracker, timeout, logging.Discard())
	jobID := uuid.New()
	_, err := tracker.Update(context.Background(), jobID, Update{Status: StatusStarting})
	require.NoError(t, err)
	launcher.Launch(jobID, run)
	return tracker, launcher, jobID
}

func stateOf(t *testing.T, tracker Tracker, jobID uuid.UUID) JobState {
	t.Helper()
	state, err := tracker.Get(context.Background(), jobID)
	require.NoError(t, err)
	require.NotNil(t, state)
	return *state
}

func TestLauncherLeavesSuccessfulJobsToTheirRunner(t *testing.T) {
	tracker, launcher, jobID := launch(t, time.Minute, func(ctx context.Context) error { return nil })
	launcher.Wait()
	assert.Equal(t, StatusStarting, stateOf(t, tracker, jobID).Status)
}

func TestLauncherMarksErrorsFailed(t *testing.T) {
	tracker, launcher, jobID := launch(t, time.Minute, func(ctx context.Context) error { return errors.New("store unavailable") })
	launcher.Wait()
	state := stateOf(t, tracker, jobID)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, "store unavailable", state.Error)
}

func TestLauncherRecoversPanics(t *testing.T) {
	tracker, launcher, jobID := launch(t, time.Minute, func(ctx context.Context) error { panic("nil map") })
	launcher.Wait()
	state := stateOf(t, tracker, jobID)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Contains(t, state.Error, "panic: nil map")
}

func TestLauncherCancel(t *testing.T) {
	started := make(chan struct{})
	tracker, launcher, jobID := launch(t, time.Minute, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	require.NoError(t, launcher.Cancel(jobID))
	launcher.Wait()
	assert.Equal(t, StatusCancelled, stateOf(t, tracker, jobID).Status)

	assert.ErrorIs(t, launcher.Cancel(jobID), ErrUnknownJob)
}

func TestLauncherTimeout(t *testing.T) {
	tracker, launcher, jobID := launch(t, 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	launcher.Wait()
	state := stateOf(t, tracker, jobID)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Contains(t, state.Error, "deadline exceeded")
}

func TestLauncherCancelAll(t *testing.T) {
	tracker := NewMemoryTracker()
	launcher := NewLauncher(tracker, time.Hour, logging.Discard())
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	started := make(chan struct{}, len(ids))
	for _, id := range ids {
		_, err := tracker.Update(context.Background(), id, Update{Status: StatusStarting})
		require.NoError(t, err)
		launcher.Launch(id, func(ctx context.Context) error {
			started <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		})
	}
	for range ids {
		<-started
	}

	assert.Equal(t, 2, launcher.CancelAll())
	launcher.Wait()
	for _, id := range ids {
		assert.Equal(t, StatusCancelled, stateOf(t, tracker, id).Status)
	}
	assert.Zero(t, launcher.CancelAll())
}
