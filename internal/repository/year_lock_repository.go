package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/assessor/internal/domain"
)

type yearLockRepository struct {
	pool *pgxpool.Pool
}

// NewYearLockRepository creates a Postgres-backed year lock store.
func NewYearLockRepository(pool *pgxpool.Pool) YearLockStore {
	return &yearLockRepository{pool: pool}
}

func (r *yearLockRepository) IsYearLocked(ctx context.Context, municipalityID uuid.UUID, year int) (bool, error) {
	var locked bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM year_locks WHERE municipality_id = $1 AND year = $2)`,
		municipalityID, year,
	).Scan(&locked)
	if err != nil {
		return false, fmt.Errorf("failed to check year lock: %w", err)
	}
	return locked, nil
}

// Lock is idempotent: locking an already locked year keeps the original lock.
func (r *yearLockRepository) Lock(ctx context.Context, lock domain.YearLock) (domain.YearLock, error) {
	if lock.LockedAt.IsZero() {
		lock.LockedAt = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO year_locks (municipality_id, year, locked_by, reason, locked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (municipality_id, year) DO UPDATE SET municipality_id = EXCLUDED.municipality_id
		RETURNING municipality_id, year, locked_by, reason, locked_at`,
		lock.MunicipalityID, lock.Year, lock.LockedBy, lock.Reason, lock.LockedAt,
	).Scan(&lock.MunicipalityID, &lock.Year, &lock.LockedBy, &lock.Reason, &lock.LockedAt)
	if err != nil {
		return domain.YearLock{}, fmt.Errorf("failed to lock year: %w", err)
	}
	return lock, nil
}

func (r *yearLockRepository) Unlock(ctx context.Context, municipalityID uuid.UUID, year int) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM year_locks WHERE municipality_id = $1 AND year = $2`, municipalityID, year); err != nil {
		return fmt.Errorf("failed to unlock year: %w", err)
	}
	return nil
}

func (r *yearLockRepository) ListLocks(ctx context.Context, municipalityID uuid.UUID) ([]domain.YearLock, error) {
	rows, err := r.pool.Query(ctx, `SELECT municipality_id, year, locked_by, reason, locked_at
		FROM year_locks WHERE municipality_id = $1 ORDER BY year ASC`, municipalityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list year locks: %w", err)
	}
	defer rows.Close()

	locks := []domain.YearLock{}
	for rows.Next() {
		var lock domain.YearLock
		if err := rows.Scan(&lock.MunicipalityID, &lock.Year, &lock.LockedBy, &lock.Reason, &lock.LockedAt); err != nil {
			return nil, fmt.Errorf("failed to scan year lock: %w", err)
		}
		locks = append(locks, lock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read year locks: %w", err)
	}
	return locks, nil
}
