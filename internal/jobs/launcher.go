package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// WorkFunc is the body of a background job.
type WorkFunc func(ctx context.Context) error

// ErrUnknownJob is returned when cancelling a job that is not running here.
var ErrUnknownJob = errors.New("job is not running")

// Launcher runs jobs on their own goroutine with a timeout, panic recovery
// and a per-job cancel function. Failures are reported to the tracker.
type Launcher struct {
	tracker Tracker
	timeout time.Duration
	log     *logrus.Entry

	workerCancels sync.Map // map[uuid.UUID]context.CancelFunc
	wg            sync.WaitGroup
}

func NewLauncher(tracker Tracker, timeout time.Duration, log *logrus.Entry) *Launcher {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Launcher{tracker: tracker, timeout: timeout, log: log}
}

// Launch starts run in the background and returns immediately. run owns the
// job's status transitions; the launcher only steps in for errors it returns
// and for panics.
func (l *Launcher) Launch(jobID uuid.UUID, run WorkFunc) {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	ctx, timeoutCancel := context.WithTimeout(baseCtx, l.timeout)
	cancelFunc := func() {
		timeoutCancel()
		baseCancel()
	}
	l.workerCancels.Store(jobID, context.CancelFunc(cancelFunc))
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		defer func() {
			cancelFunc()
			l.workerCancels.Delete(jobID)
		}()
		defer func() {
			if rec := recover(); rec != nil {
				l.log.WithField("job_id", jobID).Errorf("panic while processing job: %v", rec)
				l.finish(jobID, StatusFailed, fmt.Errorf("panic: %v", rec))
			}
		}()

		if err := run(ctx); err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				l.log.WithField("job_id", jobID).Info("job cancelled")
				l.finish(jobID, StatusCancelled, err)
			default:
				l.log.WithField("job_id", jobID).WithError(err).Error("job failed")
				l.finish(jobID, StatusFailed, err)
			}
		}
	}()
}

// Cancel requests cancellation of a running job.
func (l *Launcher) Cancel(jobID uuid.UUID) error {
	cancel, ok := l.workerCancels.LoadAndDelete(jobID)
	if !ok {
		return fmt.Errorf("cancel %s: %w", jobID, ErrUnknownJob)
	}
	if fn, okCast := cancel.(context.CancelFunc); okCast {
		fn()
	}
	return nil
}

// CancelAll requests cancellation of every running job and returns how many
// were signalled.
func (l *Launcher) CancelAll() int {
	cancelled := 0
	l.workerCancels.Range(func(key, _ any) bool {
		if cancel, ok := l.workerCancels.LoadAndDelete(key); ok {
			if fn, okCast := cancel.(context.CancelFunc); okCast {
				fn()
				cancelled++
			}
		}
		return true
	})
	return cancelled
}

// Wait blocks until every launched job has returned.
func (l *Launcher) Wait() {
	l.wg.Wait()
}

func (l *Launcher) finish(jobID uuid.UUID, status Status, err error) {
	if _, updateErr := l.tracker.Update(context.Background(), jobID, Update{Status: status, Error: truncateError(err)}); updateErr != nil {
		l.log.WithField("job_id", jobID).WithError(updateErr).Error("failed to record job outcome")
	}
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	const maxLen = 512
	msg := err.Error()
	if len(msg) > maxLen {
		return msg[:maxLen]
	}
	return msg
}
