package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/assessor/internal/logging"
)

// MemoryTracker keeps job state in process. The retention sweep runs only
// between Start and Stop; the host process owns that lifecycle.
type MemoryTracker struct {
	mu            sync.RWMutex
	jobs          map[uuid.UUID]JobState
	now           func() time.Time
	retention     time.Duration
	sweepInterval time.Duration
	log           *logrus.Entry

	lifecycle sync.Mutex
	stop      chan struct{}
	done      chan struct{}
}

var _ Tracker = (*MemoryTracker)(nil)

type MemoryOption func(*MemoryTracker)

func WithClock(now func() time.Time) MemoryOption {
	return func(t *MemoryTracker) {
		if now != nil {
			t.now = now
		}
	}
}

func WithRetention(retention time.Duration) MemoryOption {
	return func(t *MemoryTracker) {
		if retention > 0 {
			t.retention = retention
		}
	}
}

func WithSweepInterval(interval time.Duration) MemoryOption {
	return func(t *MemoryTracker) {
		if interval > 0 {
			t.sweepInterval = interval
		}
	}
}

func WithLogger(entry *logrus.Entry) MemoryOption {
	return func(t *MemoryTracker) {
		if entry != nil {
			t.log = entry
		}
	}
}

func NewMemoryTracker(opts ...MemoryOption) *MemoryTracker {
	tracker := &MemoryTracker{
		jobs:          make(map[uuid.UUID]JobState),
		now:           time.Now,
		retention:     DefaultRetention,
		sweepInterval: 5 * time.Minute,
		log:           logging.Component(nil, "jobs"),
	}
	for _, opt := range opts {
		opt(tracker)
	}
	return tracker
}

func (t *MemoryTracker) Update(_ context.Context, jobID uuid.UUID, update Update) (JobState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.jobs[jobID]
	apply(&state, jobID, update, t.now().UTC())
	t.jobs[jobID] = state
	return state, nil
}

func (t *MemoryTracker) Get(_ context.Context, jobID uuid.UUID) (*JobState, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.jobs[jobID]
	if !ok || expired(state, t.now().UTC(), t.retention) {
		return nil, nil
	}
	return &state, nil
}

// Sweep drops terminal jobs older than the retention window.
func (t *MemoryTracker) Sweep() int {
	now := t.now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, state := range t.jobs {
		if expired(state, now, t.retention) {
			delete(t.jobs, id)
			removed++
		}
	}
	return removed
}

// Start launches the periodic sweep. Calling Start twice is a no-op.
func (t *MemoryTracker) Start(ctx context.Context) {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.sweepLoop(ctx, t.stop, t.done)
}

// Stop halts the sweep and waits for it to exit.
func (t *MemoryTracker) Stop() {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	if t.stop == nil {
		return
	}
	close(t.stop)
	<-t.done
	t.stop, t.done = nil, nil
}

func (t *MemoryTracker) sweepLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if removed := t.Sweep(); removed > 0 {
				t.log.WithField("removed", removed).Debug("swept expired jobs")
			}
		}
	}
}
