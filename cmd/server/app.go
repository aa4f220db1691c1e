package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/assessor/internal/assessment"
	"github.com/rpattn/assessor/internal/config"
	"github.com/rpattn/assessor/internal/db"
	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/jobs"
	"github.com/rpattn/assessor/internal/logging"
	"github.com/rpattn/assessor/internal/recalc"
	"github.com/rpattn/assessor/internal/repository"
	"github.com/rpattn/assessor/internal/repository/memory"
	"github.com/rpattn/assessor/internal/repository/sqlite"
)

// app owns every long-lived dependency of a command.
type app struct {
	service  *assessment.Service
	tracker  jobs.Tracker
	sweeper  *jobs.MemoryTracker
	launcher *jobs.Launcher
	closers  []func()
}

func newApp(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{}
	stores, err := a.openStores(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openTracker(ctx, cfg, logger); err != nil {
		a.Close()
		return nil, err
	}
	a.launcher = jobs.NewLauncher(a.tracker, cfg.Jobs.Timeout, logging.Component(logger, "jobs"))

	perKind := make(map[domain.EntityKind]recalc.Options, len(cfg.Recalc.Kinds))
	for kind, settings := range cfg.Recalc.Kinds {
		perKind[kind] = recalc.Options{BatchSize: settings.BatchSize, Tolerance: settings.Tolerance}
	}
	a.service = assessment.NewService(stores, assessment.Config{
		Tracker:  a.tracker,
		Launcher: a.launcher,
		Recalc:   perKind,
		Defaults: recalc.Options{BatchSize: cfg.Recalc.BatchSize, Tolerance: cfg.Recalc.Tolerance},
		Logger:   logging.Component(logger, "assessment"),
	})
	return a, nil
}

func (a *app) openStores(ctx context.Context, cfg config.Config, logger *logrus.Logger) (assessment.Stores, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return assessment.Stores{}, err
		}
		a.closers = append(a.closers, conn.Close)
		if err := db.RunMigrations(conn.Pool); err != nil {
			return assessment.Stores{}, err
		}
		return assessment.Stores{
			Land:      repository.NewYearRecordRepository[domain.LandAssessment](conn.Pool),
			Buildings: repository.NewYearRecordRepository[domain.BuildingConfig](conn.Pool),
			Views:     repository.NewYearRecordRepository[domain.PropertyView](conn.Pool),
			LandRates: repository.NewYearRecordRepository[domain.LandRateConfig](conn.Pool),
			Locks:     repository.NewYearLockRepository(conn.Pool),
		}, nil
	case config.DriverSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return assessment.Stores{}, err
		}
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
		if err := db.RunSQLiteMigrations(sqlDB); err != nil {
			return assessment.Stores{}, err
		}
		return assessment.Stores{
			Land:      sqlite.NewYearRecordStore[domain.LandAssessment](sqlDB),
			Buildings: sqlite.NewYearRecordStore[domain.BuildingConfig](sqlDB),
			Views:     sqlite.NewYearRecordStore[domain.PropertyView](sqlDB),
			LandRates: sqlite.NewYearRecordStore[domain.LandRateConfig](sqlDB),
			Locks:     sqlite.NewYearLockStore(sqlDB),
		}, nil
	default:
		logger.Warn("using in-memory storage; data is lost on exit")
		return assessment.Stores{
			Land:      memory.NewStore[domain.LandAssessment](),
			Buildings: memory.NewStore[domain.BuildingConfig](),
			Views:     memory.NewStore[domain.PropertyView](),
			LandRates: memory.NewStore[domain.LandRateConfig](),
			Locks:     memory.NewLockStore(),
		}, nil
	}
}

func (a *app) openTracker(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	if cfg.Jobs.Backend == config.JobsRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.tracker = jobs.NewRedisTracker(client, cfg.Jobs.Retention, cfg.Jobs.Timeout+cfg.Jobs.Retention)
		return nil
	}
	a.sweeper = jobs.NewMemoryTracker(
		jobs.WithRetention(cfg.Jobs.Retention),
		jobs.WithSweepInterval(cfg.Jobs.SweepInterval),
		jobs.WithLogger(logging.Component(logger, "jobs")),
	)
	a.tracker = a.sweeper
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
