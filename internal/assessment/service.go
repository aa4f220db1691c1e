// Package assessment composes the temporal engine, year lock gate and bulk
// recalculation into the operations the API and CLI expose.
package assessment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/assessor/internal/compliance"
	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/jobs"
	"github.com/rpattn/assessor/internal/logging"
	"github.com/rpattn/assessor/internal/recalc"
	"github.com/rpattn/assessor/internal/repository"
	"github.com/rpattn/assessor/internal/temporal"
)

// Stores groups the persistence backing a Service.
type Stores struct {
	Land      repository.YearRecordStore[domain.LandAssessment]
	Buildings repository.YearRecordStore[domain.BuildingConfig]
	Views     repository.YearRecordStore[domain.PropertyView]
	LandRates repository.YearRecordStore[domain.LandRateConfig]
	Locks     repository.YearLockStore
}

// Config carries the service's collaborators and tuning.
type Config struct {
	Tracker  jobs.Tracker
	Launcher *jobs.Launcher
	// Recalc holds per-kind bulk options; Defaults applies to kinds without one.
	Recalc   map[domain.EntityKind]recalc.Options
	Defaults recalc.Options
	// LoaderWait is the batching window of request loaders.
	LoaderWait time.Duration
	Now        func() time.Time
	Logger     *logrus.Entry
}

// WriteRequest stamps a single-record write.
type WriteRequest struct {
	ActorID   string
	CreateNew bool
}

// Service is the typed entry point for every entity kind.
type Service struct {
	kinds      map[domain.EntityKind]kindOps
	locks      repository.YearLockStore
	calculator *LandCalculator
	bulk       *recalc.Orchestrator[domain.LandAssessment]
	trigger    *recalc.Trigger[domain.LandAssessment]
	cfg        Config
	log        *logrus.Entry
}

func NewService(stores Stores, cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.Component(nil, "assessment")
	}
	engineCfg := temporal.Config{Now: cfg.Now, Logger: cfg.Logger}

	land := temporal.NewEngine(stores.Land, engineCfg).WithValidator(PayloadValidator[domain.LandAssessment]())
	buildings := temporal.NewEngine(stores.Buildings, engineCfg).WithValidator(PayloadValidator[domain.BuildingConfig]())
	views := temporal.NewEngine(stores.Views, engineCfg).WithValidator(PayloadValidator[domain.PropertyView]())
	rates := temporal.NewEngine(stores.LandRates, engineCfg).WithValidator(PayloadValidator[domain.LandRateConfig]())

	bulk := recalc.NewOrchestrator(land, cfg.Logger)
	s := &Service{
		kinds: map[domain.EntityKind]kindOps{
			domain.KindLandAssessment: typedOps[domain.LandAssessment]{engine: land},
			domain.KindBuildingConfig: typedOps[domain.BuildingConfig]{engine: buildings},
			domain.KindPropertyView:   typedOps[domain.PropertyView]{engine: views},
			domain.KindLandRateConfig: typedOps[domain.LandRateConfig]{engine: rates},
		},
		locks:      stores.Locks,
		calculator: NewLandCalculator(land.Resolver(), rates.Resolver()),
		bulk:       bulk,
		cfg:        cfg,
		log:        cfg.Logger,
	}
	if cfg.Tracker != nil && cfg.Launcher != nil {
		s.trigger = recalc.NewTrigger(bulk, stores.Locks, cfg.Tracker, cfg.Launcher, cfg.Logger)
	}
	return s
}

func (s *Service) ops(kind domain.EntityKind) (kindOps, error) {
	ops, ok := s.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity kind %q", domain.ErrValidation, kind)
	}
	return ops, nil
}

// EffectiveRecord returns the record that applies to year, or nil.
func (s *Service) EffectiveRecord(ctx context.Context, id domain.Identity, year int) (any, error) {
	ops, err := s.ops(id.Kind)
	if err != nil {
		return nil, err
	}
	return ops.effective(ctx, id, year)
}

// Timeline returns every active record of the identity, oldest first.
func (s *Service) Timeline(ctx context.Context, id domain.Identity) (any, error) {
	ops, err := s.ops(id.Kind)
	if err != nil {
		return nil, err
	}
	return ops.timeline(ctx, id)
}

// Diff renders a unified diff between the records effective in two years.
func (s *Service) Diff(ctx context.Context, id domain.Identity, fromYear, toYear int) (string, error) {
	ops, err := s.ops(id.Kind)
	if err != nil {
		return "", err
	}
	return ops.diff(ctx, id, fromYear, toYear)
}

// Materialize gives year its own record, cloning the nearest ancestor when
// needed.
func (s *Service) Materialize(ctx context.Context, id domain.Identity, year int, actorID string) (any, error) {
	ops, err := s.ops(id.Kind)
	if err != nil {
		return nil, err
	}
	if err := compliance.Guard(ctx, s.locks, id.MunicipalityID, year); err != nil {
		return nil, err
	}
	return ops.getOrCreate(ctx, id, year, actorID)
}

// Update applies patch to the identity's year record with copy-on-write.
func (s *Service) Update(ctx context.Context, id domain.Identity, year int, patch domain.Values, req WriteRequest) (any, error) {
	ops, err := s.ops(id.Kind)
	if err != nil {
		return nil, err
	}
	if err := compliance.Guard(ctx, s.locks, id.MunicipalityID, year); err != nil {
		return nil, err
	}
	record, err := ops.update(ctx, id, year, patch, req)
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx, s.log).WithFields(logrus.Fields{
		"identity": id.String(),
		"year":     year,
		"actor_id": req.ActorID,
	}).Info("year record updated")
	return record, nil
}

// Deactivate soft-deletes the identity's own record for year.
func (s *Service) Deactivate(ctx context.Context, id domain.Identity, year int, actorID string) (any, error) {
	ops, err := s.ops(id.Kind)
	if err != nil {
		return nil, err
	}
	if err := compliance.Guard(ctx, s.locks, id.MunicipalityID, year); err != nil {
		return nil, err
	}
	return ops.deactivate(ctx, id, year, actorID)
}

// LandRecalculation selects a land recalculation run.
type LandRecalculation struct {
	MunicipalityID uuid.UUID
	Year           int
	// Keys narrows the run to these parcels; empty means the whole municipality.
	Keys    []string
	ActorID string
}

func (r LandRecalculation) scope() domain.Scope {
	return domain.Scope{Kind: domain.KindLandAssessment, MunicipalityID: r.MunicipalityID, Keys: r.Keys}
}

func (s *Service) recalcOptions(kind domain.EntityKind, actorID string) recalc.Options {
	opts := s.cfg.Defaults
	if override, ok := s.cfg.Recalc[kind]; ok {
		if override.BatchSize > 0 {
			opts.BatchSize = override.BatchSize
		}
		if override.Tolerance > 0 {
			opts.Tolerance = override.Tolerance
		}
	}
	opts.ActorID = actorID
	return opts
}

// StartLandRecalculation queues a background land recalculation and returns
// the job id to poll.
func (s *Service) StartLandRecalculation(ctx context.Context, req LandRecalculation) (uuid.UUID, error) {
	if s.trigger == nil {
		return uuid.Nil, fmt.Errorf("background recalculation is not configured")
	}
	return s.trigger.Start(ctx, recalc.Request{
		Scope:      req.scope(),
		Year:       req.Year,
		Calculate:  s.calculator.Calculate,
		FieldPaths: LandFieldPaths,
		Options:    s.recalcOptions(domain.KindLandAssessment, req.ActorID),
	})
}

// RecalculateLand runs a land recalculation in the caller's goroutine.
func (s *Service) RecalculateLand(ctx context.Context, req LandRecalculation, progress recalc.ProgressFunc) (recalc.Result, error) {
	if err := compliance.Guard(ctx, s.locks, req.MunicipalityID, req.Year); err != nil {
		return recalc.Result{}, err
	}
	opts := s.recalcOptions(domain.KindLandAssessment, req.ActorID)
	opts.Progress = progress
	return s.bulk.BulkRecalculateForYear(ctx, req.scope(), req.Year, s.calculator.Calculate, LandFieldPaths, opts)
}

// Job returns the tracked state of a background job, or nil when unknown or
// expired.
func (s *Service) Job(ctx context.Context, jobID uuid.UUID) (*jobs.JobState, error) {
	if s.cfg.Tracker == nil {
		return nil, nil
	}
	return s.cfg.Tracker.Get(ctx, jobID)
}

// CancelJob stops a running background job.
func (s *Service) CancelJob(jobID uuid.UUID) error {
	if s.cfg.Launcher == nil {
		return fmt.Errorf("cancel %s: %w", jobID, jobs.ErrUnknownJob)
	}
	return s.cfg.Launcher.Cancel(jobID)
}

// LockYear closes a municipality's year for edits. Locking is idempotent.
func (s *Service) LockYear(ctx context.Context, lock domain.YearLock) (domain.YearLock, error) {
	if lock.MunicipalityID == uuid.Nil {
		return domain.YearLock{}, fmt.Errorf("%w: municipality id is required", domain.ErrValidation)
	}
	locked, err := s.locks.Lock(ctx, lock)
	if err != nil {
		return domain.YearLock{}, err
	}
	logging.FromContext(ctx, s.log).WithFields(logrus.Fields{
		"municipality_id": lock.MunicipalityID,
		"year":            lock.Year,
		"locked_by":       lock.LockedBy,
	}).Info("year locked")
	return locked, nil
}

// UnlockYear reopens a year.
func (s *Service) UnlockYear(ctx context.Context, municipalityID uuid.UUID, year int) error {
	return s.locks.Unlock(ctx, municipalityID, year)
}

// YearLocks lists the municipality's locked years.
func (s *Service) YearLocks(ctx context.Context, municipalityID uuid.UUID) ([]domain.YearLock, error) {
	return s.locks.ListLocks(ctx, municipalityID)
}

// Loaders batches effective-record reads for one request.
type Loaders struct {
	byKind map[domain.EntityKind]batchLoader
}

// NewLoaders returns fresh per-request loaders for every kind.
func (s *Service) NewLoaders() *Loaders {
	loaders := &Loaders{byKind: make(map[domain.EntityKind]batchLoader, len(s.kinds))}
	for kind, ops := range s.kinds {
		loaders.byKind[kind] = ops.newLoader(s.cfg.LoaderWait)
	}
	return loaders
}

// LoadMany resolves the effective records of ids for year in input order;
// identities without one resolve to nil.
func (l *Loaders) LoadMany(ctx context.Context, kind domain.EntityKind, ids []domain.Identity, year int) ([]any, error) {
	loader, ok := l.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity kind %q", domain.ErrValidation, kind)
	}
	return loader.loadMany(ctx, ids, year)
}
