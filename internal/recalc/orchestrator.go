// Package recalc re-derives year records for every entity in a scope while
// writing only the records whose material values changed.
package recalc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rpattn/assessor/internal/change"
	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/jobs"
	"github.com/rpattn/assessor/internal/logging"
	"github.com/rpattn/assessor/internal/metrics"
	"github.com/rpattn/assessor/internal/temporal"
)

// DefaultBatchSize is the number of entities between progress reports.
const DefaultBatchSize = 100

// DefaultOptions returns the standard batch size and change tolerance.
func DefaultOptions() Options {
	return Options{BatchSize: DefaultBatchSize, Tolerance: change.DefaultTolerance}
}

var tracer = otel.Tracer("github.com/rpattn/assessor/internal/recalc")

// CalculateFunc derives candidate values for one identity and year. It may
// read other data and may fail; failures are isolated to that identity.
type CalculateFunc func(ctx context.Context, id domain.Identity, year int) (domain.Values, error)

// ProgressFunc receives cumulative counters after every batch.
type ProgressFunc func(ctx context.Context, progress jobs.Progress)

// Options tunes one bulk run. A zero BatchSize takes DefaultBatchSize. A
// negative Tolerance takes change.DefaultTolerance; zero compares exactly.
type Options struct {
	BatchSize int
	Tolerance float64
	ActorID   string
	JobID     string
	Progress  ProgressFunc
}

// EntityError is the failure of one identity inside a bulk run.
type EntityError struct {
	Identity domain.Identity `json:"identity"`
	Error    string          `json:"error"`
	Err      error           `json:"-"`
}

// Result accounts for every processed identity exactly once.
type Result struct {
	Created        int           `json:"created"`
	Updated        int           `json:"updated"`
	Unchanged      int           `json:"unchanged"`
	Errors         []EntityError `json:"errors"`
	TotalProcessed int           `json:"total_processed"`
}

func (r Result) progress(total int) jobs.Progress {
	return jobs.Progress{
		Total:          total,
		TotalProcessed: r.TotalProcessed,
		Created:        r.Created,
		Updated:        r.Updated,
		Unchanged:      r.Unchanged,
		Errors:         len(r.Errors),
	}
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeUpdated
	outcomeCreated
)

// Orchestrator runs bulk recalculations for one payload type.
type Orchestrator[P any] struct {
	engine *temporal.Engine[P]
	log    *logrus.Entry
}

func NewOrchestrator[P any](engine *temporal.Engine[P], log *logrus.Entry) *Orchestrator[P] {
	if log == nil {
		log = logging.Component(nil, "recalc")
	}
	return &Orchestrator[P]{engine: engine, log: log}
}

// BulkRecalculateForYear evaluates calc for every identity in scope that has
// an effective record for year. Batches run sequentially; progress is
// reported after each one. Per-identity failures land in Result.Errors. An
// error is returned only when the scope cannot be read or ctx ends, in which
// case the partial result is returned with it.
func (o *Orchestrator[P]) BulkRecalculateForYear(ctx context.Context, scope domain.Scope, year int, calc CalculateFunc, fieldPaths []string, opts Options) (Result, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Tolerance < 0 {
		opts.Tolerance = change.DefaultTolerance
	}
	result := Result{Errors: []EntityError{}}
	if calc == nil {
		return result, fmt.Errorf("%w: calculation function is required", domain.ErrValidation)
	}
	if err := change.ValidatePaths(fieldPaths); err != nil {
		return result, err
	}

	ctx, span := tracer.Start(ctx, "recalc.bulk", trace.WithAttributes(
		attribute.String("assessor.kind", string(scope.Kind)),
		attribute.String("assessor.municipality_id", scope.MunicipalityID.String()),
		attribute.Int("assessor.year", year),
		attribute.String("assessor.job_id", opts.JobID),
	))
	defer span.End()

	log := logging.FromContext(ctx, o.log).WithFields(logrus.Fields{
		"kind":            scope.Kind,
		"municipality_id": scope.MunicipalityID,
		"year":            year,
		"job_id":          opts.JobID,
	})
	started := time.Now()

	records, err := o.engine.Resolver().GetEffectiveRecordsForScope(ctx, scope, year)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load scope")
		return result, err
	}
	total := len(records)
	log.WithFields(logrus.Fields{"entities": total, "batch_size": opts.BatchSize}).Info("bulk recalculation started")

	for start := 0; start < total; start += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			log.WithField("processed", result.TotalProcessed).Warn("bulk recalculation stopped before completion")
			span.SetStatus(codes.Error, "cancelled")
			return result, err
		}
		end := min(start+opts.BatchSize, total)
		o.runBatch(ctx, records[start:end], year, calc, fieldPaths, opts, &result, log)

		if opts.Progress != nil {
			opts.Progress(ctx, result.progress(total))
		}
		log.WithFields(logrus.Fields{"processed": result.TotalProcessed, "total": total}).Debug("batch finished")
	}

	span.SetAttributes(
		attribute.Int("assessor.created", result.Created),
		attribute.Int("assessor.updated", result.Updated),
		attribute.Int("assessor.unchanged", result.Unchanged),
		attribute.Int("assessor.errors", len(result.Errors)),
	)
	log.WithFields(logrus.Fields{
		"created":   result.Created,
		"updated":   result.Updated,
		"unchanged": result.Unchanged,
		"errors":    len(result.Errors),
		"elapsed":   time.Since(started).String(),
	}).Info("bulk recalculation finished")
	return result, nil
}

func (o *Orchestrator[P]) runBatch(ctx context.Context, batch []domain.Record[P], year int, calc CalculateFunc, fieldPaths []string, opts Options, result *Result, log *logrus.Entry) {
	ctx, span := tracer.Start(ctx, "recalc.batch", trace.WithAttributes(attribute.Int("assessor.batch_size", len(batch))))
	defer span.End()

	for _, record := range batch {
		kind := string(record.Identity.Kind)
		outcome, err := o.recalculate(ctx, record, year, calc, fieldPaths, opts, log)
		result.TotalProcessed++
		if err != nil {
			result.Errors = append(result.Errors, EntityError{Identity: record.Identity, Error: err.Error(), Err: err})
			metrics.RecalcEntities.WithLabelValues(kind, metrics.OutcomeError).Inc()
			log.WithFields(logrus.Fields{"identity": record.Identity.String()}).WithError(err).Warn("entity recalculation failed")
			continue
		}
		switch outcome {
		case outcomeCreated:
			result.Created++
			metrics.RecalcEntities.WithLabelValues(kind, metrics.OutcomeCreated).Inc()
		case outcomeUpdated:
			result.Updated++
			metrics.RecalcEntities.WithLabelValues(kind, metrics.OutcomeUpdated).Inc()
		default:
			result.Unchanged++
			metrics.RecalcEntities.WithLabelValues(kind, metrics.OutcomeUnchanged).Inc()
		}
	}
}

// recalculate handles one identity. effective is the record applying to year;
// when it belongs to year itself it is patched in place, otherwise a new year
// record is branched from it. Nothing is written when values are unchanged.
func (o *Orchestrator[P]) recalculate(ctx context.Context, effective domain.Record[P], year int, calc CalculateFunc, fieldPaths []string, opts Options, log *logrus.Entry) (result outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &domain.CalculationError{Identity: effective.Identity, Year: year, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	candidate, err := calc(ctx, effective.Identity, year)
	if err != nil {
		var calcErr *domain.CalculationError
		if errors.As(err, &calcErr) {
			return outcomeUnchanged, err
		}
		return outcomeUnchanged, &domain.CalculationError{Identity: effective.Identity, Year: year, Err: err}
	}

	existing, err := domain.EncodeValues(effective.Payload)
	if err != nil {
		return outcomeUnchanged, err
	}
	if !change.HasChanged(existing, candidate, fieldPaths, opts.Tolerance) {
		return outcomeUnchanged, nil
	}
	log.WithFields(logrus.Fields{
		"identity":       effective.Identity.String(),
		"changed_fields": change.ChangedFields(existing, candidate, fieldPaths, opts.Tolerance),
	}).Debug("material values changed")

	write := temporal.WriteOptions{ActorID: opts.ActorID, Recalculation: true}
	if effective.EffectiveYear == year {
		if _, err := o.engine.ApplyInPlace(ctx, effective, candidate, write); err != nil {
			return outcomeUnchanged, err
		}
		return outcomeUpdated, nil
	}

	var zero P
	if _, err := o.engine.Branch(ctx, effective.Identity, year, &effective, zero, candidate, write); err != nil {
		return outcomeUnchanged, err
	}
	return outcomeCreated, nil
}
