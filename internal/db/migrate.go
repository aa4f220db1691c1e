package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

// RunMigrations applies the embedded Postgres migrations through the pool.
func RunMigrations(pool *pgxpool.Pool) error {
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	driver, err := migratepgx.WithInstance(sqlDB, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}
	return runMigrations("migrations/postgres", "pgx5", driver)
}

// RunSQLiteMigrations applies the embedded SQLite migrations.
func RunSQLiteMigrations(sqlDB *sql.DB) error {
	driver, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migration driver: %w", err)
	}
	return runMigrations("migrations/sqlite", "sqlite", driver)
}

func runMigrations(dir, databaseName string, driver database.Driver) error {
	source, err := iofs.New(migrationFiles, dir)
	if err != nil {
		return fmt.Errorf("failed to open migrations %s: %w", dir, err)
	}
	m, err := migrate.NewWithInstance("iofs", source, databaseName, driver)
	if err != nil {
		return fmt.Errorf("failed to prepare migrations: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logrus.WithField("database", databaseName).Debug("migrations already applied")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	logrus.WithFields(logrus.Fields{"database": databaseName, "version": version, "dirty": dirty}).Info("migrations applied")
	return nil
}
