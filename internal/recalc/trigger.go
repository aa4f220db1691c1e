package recalc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/assessor/internal/compliance"
	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/jobs"
	"github.com/rpattn/assessor/internal/logging"
	"github.com/rpattn/assessor/internal/metrics"
)

// Request describes one asynchronous bulk recalculation.
type Request struct {
	Scope      domain.Scope
	Year       int
	Calculate  CalculateFunc
	FieldPaths []string
	Options    Options
}

// Trigger starts bulk recalculations as background jobs that callers poll
// through the tracker.
type Trigger[P any] struct {
	orchestrator *Orchestrator[P]
	gate         compliance.YearLockGate
	tracker      jobs.Tracker
	launcher     *jobs.Launcher
	log          *logrus.Entry
}

func NewTrigger[P any](orchestrator *Orchestrator[P], gate compliance.YearLockGate, tracker jobs.Tracker, launcher *jobs.Launcher, log *logrus.Entry) *Trigger[P] {
	if log == nil {
		log = logging.Component(nil, "recalc")
	}
	return &Trigger[P]{orchestrator: orchestrator, gate: gate, tracker: tracker, launcher: launcher, log: log}
}

// Start checks the year lock, registers the job and returns its id without
// waiting for the recalculation.
func (t *Trigger[P]) Start(ctx context.Context, req Request) (uuid.UUID, error) {
	if !req.Scope.Kind.Valid() {
		return uuid.Nil, fmt.Errorf("%w: unknown entity kind %q", domain.ErrValidation, req.Scope.Kind)
	}
	if req.Calculate == nil {
		return uuid.Nil, fmt.Errorf("%w: calculation function is required", domain.ErrValidation)
	}
	if err := compliance.Guard(ctx, t.gate, req.Scope.MunicipalityID, req.Year); err != nil {
		return uuid.Nil, err
	}

	jobID := uuid.New()
	if _, err := t.tracker.Update(ctx, jobID, jobs.Update{
		Status:         jobs.StatusStarting,
		Type:           string(req.Scope.Kind),
		MunicipalityID: req.Scope.MunicipalityID,
		Year:           req.Year,
		Message:        "queued",
	}); err != nil {
		return uuid.Nil, fmt.Errorf("register job: %w", err)
	}

	log := t.log.WithFields(logrus.Fields{"job_id": jobID, "kind": req.Scope.Kind, "year": req.Year})
	t.launcher.Launch(jobID, func(ctx context.Context) error {
		return t.run(logging.WithLogger(ctx, log), jobID, req)
	})
	return jobID, nil
}

func (t *Trigger[P]) run(ctx context.Context, jobID uuid.UUID, req Request) error {
	kind := string(req.Scope.Kind)
	started := time.Now()
	defer func() {
		metrics.RecalcJobDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	}()

	if _, err := t.tracker.Update(ctx, jobID, jobs.Update{Status: jobs.StatusRunning, Message: "recalculating"}); err != nil {
		return err
	}

	opts := req.Options
	opts.JobID = jobID.String()
	downstream := opts.Progress
	opts.Progress = func(ctx context.Context, progress jobs.Progress) {
		if _, err := t.tracker.Update(ctx, jobID, jobs.Update{Progress: &progress}); err != nil {
			logging.FromContext(ctx, t.log).WithError(err).Warn("failed to report progress")
		}
		if downstream != nil {
			downstream(ctx, progress)
		}
	}

	result, err := t.orchestrator.BulkRecalculateForYear(ctx, req.Scope, req.Year, req.Calculate, req.FieldPaths, opts)
	encoded, encodeErr := json.Marshal(result)
	if encodeErr != nil {
		return fmt.Errorf("encode job result: %w", encodeErr)
	}
	if err != nil {
		status := jobs.StatusFailed
		if errors.Is(err, context.Canceled) {
			status = jobs.StatusCancelled
		}
		metrics.RecalcJobs.WithLabelValues(kind, string(status)).Inc()
		// keep the partial result; the launcher records the terminal status
		if _, updateErr := t.tracker.Update(context.WithoutCancel(ctx), jobID, jobs.Update{Result: encoded}); updateErr != nil {
			logging.FromContext(ctx, t.log).WithError(updateErr).Warn("failed to record partial result")
		}
		return err
	}

	progress := result.progress(result.TotalProcessed)
	message := fmt.Sprintf("processed %d entities", result.TotalProcessed)
	if len(result.Errors) > 0 {
		message = fmt.Sprintf("processed %d entities, %d failed", result.TotalProcessed, len(result.Errors))
	}
	if _, err := t.tracker.Update(ctx, jobID, jobs.Update{
		Status:   jobs.StatusCompleted,
		Progress: &progress,
		Message:  message,
		Result:   encoded,
	}); err != nil {
		return err
	}
	metrics.RecalcJobs.WithLabelValues(kind, string(jobs.StatusCompleted)).Inc()
	return nil
}
