package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/repository"
)

// YearLockStore implements repository.YearLockStore on SQLite.
type YearLockStore struct {
	db *sql.DB
}

var _ repository.YearLockStore = (*YearLockStore)(nil)

func NewYearLockStore(db *sql.DB) *YearLockStore {
	return &YearLockStore{db: db}
}

func (s *YearLockStore) IsYearLocked(ctx context.Context, municipalityID uuid.UUID, year int) (bool, error) {
	var locked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM year_locks WHERE municipality_id = ? AND year = ?)`,
		municipalityID.String(), year,
	).Scan(&locked)
	if err != nil {
		return false, fmt.Errorf("check year lock: %w", err)
	}
	return locked, nil
}

// Lock keeps the original lock when the year is already locked.
func (s *YearLockStore) Lock(ctx context.Context, lock domain.YearLock) (domain.YearLock, error) {
	if lock.LockedAt.IsZero() {
		lock.LockedAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO year_locks (municipality_id, year, locked_by, reason, locked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (municipality_id, year) DO NOTHING`,
		lock.MunicipalityID.String(), lock.Year, lock.LockedBy, lock.Reason, formatTime(lock.LockedAt),
	); err != nil {
		return domain.YearLock{}, fmt.Errorf("lock year: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT municipality_id, year, locked_by, reason, locked_at
		FROM year_locks WHERE municipality_id = ? AND year = ?`, lock.MunicipalityID.String(), lock.Year)
	return scanYearLock(row)
}

func (s *YearLockStore) Unlock(ctx context.Context, municipalityID uuid.UUID, year int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM year_locks WHERE municipality_id = ? AND year = ?`, municipalityID.String(), year); err != nil {
		return fmt.Errorf("unlock year: %w", err)
	}
	return nil
}

func (s *YearLockStore) ListLocks(ctx context.Context, municipalityID uuid.UUID) ([]domain.YearLock, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT municipality_id, year, locked_by, reason, locked_at
		FROM year_locks WHERE municipality_id = ? ORDER BY year ASC`, municipalityID.String())
	if err != nil {
		return nil, fmt.Errorf("list year locks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	locks := []domain.YearLock{}
	for rows.Next() {
		lock, err := scanYearLock(rows)
		if err != nil {
			return nil, err
		}
		locks = append(locks, lock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read year locks: %w", err)
	}
	return locks, nil
}

func scanYearLock(row scanner) (domain.YearLock, error) {
	var (
		lock                     domain.YearLock
		municipalityID, lockedAt string
	)
	if err := row.Scan(&municipalityID, &lock.Year, &lock.LockedBy, &lock.Reason, &lockedAt); err != nil {
		return domain.YearLock{}, fmt.Errorf("scan year lock: %w", err)
	}
	id, err := uuid.Parse(municipalityID)
	if err != nil {
		return domain.YearLock{}, fmt.Errorf("parse municipality id: %w", err)
	}
	lock.MunicipalityID = id
	if lock.LockedAt, err = parseTime(lockedAt); err != nil {
		return domain.YearLock{}, err
	}
	return lock, nil
}
