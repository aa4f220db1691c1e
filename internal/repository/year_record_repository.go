package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/assessor/internal/db"
	"github.com/rpattn/assessor/internal/domain"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const yearRecordColumns = `id, kind, municipality_id, identity_key, effective_year, effective_year_end,
	source_effective_year, created_from_recalculation, is_active, version, previous_version_id,
	next_version_id, created_by, updated_by, recalculated_at, recalculated_by, created_at, updated_at, payload`

// yearRecordRepository implements YearRecordStore on Postgres.
type yearRecordRepository[P any] struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewYearRecordRepository creates a Postgres-backed year record store.
func NewYearRecordRepository[P any](pool *pgxpool.Pool) YearRecordStore[P] {
	return &yearRecordRepository[P]{pool: pool, now: time.Now}
}

// Find returns every record matching the query.
func (r *yearRecordRepository[P]) Find(ctx context.Context, q RecordQuery) ([]domain.Record[P], error) {
	return r.find(ctx, r.pool, q)
}

// FindOne returns the first matching record or nil.
func (r *yearRecordRepository[P]) FindOne(ctx context.Context, q RecordQuery) (*domain.Record[P], error) {
	q.Limit = 1
	records, err := r.find(ctx, r.pool, q)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (r *yearRecordRepository[P]) find(ctx context.Context, conn DBTX, q RecordQuery) ([]domain.Record[P], error) {
	where, args := buildRecordFilter(q)
	sql := fmt.Sprintf(`SELECT %s FROM year_records WHERE %s ORDER BY identity_key ASC, effective_year DESC`, yearRecordColumns, where)
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query year records: %w", err)
	}
	return collectYearRecords[P](rows)
}

func buildRecordFilter(q RecordQuery) (string, []any) {
	clauses := []string{"kind = $1", "municipality_id = $2"}
	args := []any{string(q.Kind), q.MunicipalityID}
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(args))))
	}
	if q.Key != "" {
		add("identity_key = ?", q.Key)
	}
	if q.ID != nil {
		add("id = ?", *q.ID)
	}
	if q.ExactYear != nil {
		add("effective_year = ?", *q.ExactYear)
	}
	if q.EffectiveAt != nil {
		add("effective_year <= ? AND (effective_year_end IS NULL OR ? < effective_year_end)", *q.EffectiveAt)
	}
	if !q.IncludeInactive {
		clauses = append(clauses, "is_active")
	}
	return strings.Join(clauses, " AND "), args
}

// FindEffectiveForScope groups by identity and keeps the latest applicable year.
func (r *yearRecordRepository[P]) FindEffectiveForScope(ctx context.Context, scope domain.Scope, year int) ([]domain.Record[P], error) {
	keys := scope.Keys
	if keys == nil {
		keys = []string{}
	}
	sql := fmt.Sprintf(`SELECT DISTINCT ON (identity_key) %s
		FROM year_records
		WHERE kind = $1
		  AND municipality_id = $2
		  AND is_active
		  AND effective_year <= $3
		  AND (effective_year_end IS NULL OR $3 < effective_year_end)
		  AND (cardinality($4::text[]) = 0 OR identity_key = ANY($4::text[]))
		ORDER BY identity_key ASC, effective_year DESC`, yearRecordColumns)
	rows, err := r.pool.Query(ctx, sql, string(scope.Kind), scope.MunicipalityID, year, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to query effective records for scope: %w", err)
	}
	return collectYearRecords[P](rows)
}

// Create inserts a new year record.
func (r *yearRecordRepository[P]) Create(ctx context.Context, record domain.Record[P]) (domain.Record[P], error) {
	return r.create(ctx, r.pool, record)
}

func (r *yearRecordRepository[P]) create(ctx context.Context, conn DBTX, record domain.Record[P]) (domain.Record[P], error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	now := r.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	record.Version = 1

	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return domain.Record[P]{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	row := conn.QueryRow(ctx, fmt.Sprintf(`INSERT INTO year_records (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING %s`, yearRecordColumns, yearRecordColumns),
		record.ID, string(record.Identity.Kind), record.Identity.MunicipalityID, record.Identity.Key,
		record.EffectiveYear, record.EffectiveYearEnd, record.SourceEffectiveYear,
		record.CreatedFromRecalculation, record.IsActive, record.Version,
		record.PreviousVersionID, record.NextVersionID, record.CreatedBy, record.UpdatedBy,
		record.RecalculatedAt, record.RecalculatedBy, record.CreatedAt, record.UpdatedAt, payload,
	)
	created, err := scanYearRecord[P](row)
	if err != nil {
		return domain.Record[P]{}, mapWriteError("create year record", err)
	}
	return created, nil
}

// Save updates a record in place guarded by its version.
func (r *yearRecordRepository[P]) Save(ctx context.Context, record domain.Record[P]) (domain.Record[P], error) {
	return r.save(ctx, r.pool, record)
}

func (r *yearRecordRepository[P]) save(ctx context.Context, conn DBTX, record domain.Record[P]) (domain.Record[P], error) {
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return domain.Record[P]{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = r.now().UTC()
	}

	row := conn.QueryRow(ctx, fmt.Sprintf(`UPDATE year_records SET
			effective_year_end = $3,
			source_effective_year = $4,
			created_from_recalculation = $5,
			is_active = $6,
			previous_version_id = $7,
			next_version_id = $8,
			updated_by = $9,
			recalculated_at = $10,
			recalculated_by = $11,
			updated_at = $12,
			payload = $13,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING %s`, yearRecordColumns),
		record.ID, record.Version, record.EffectiveYearEnd, record.SourceEffectiveYear,
		record.CreatedFromRecalculation, record.IsActive, record.PreviousVersionID, record.NextVersionID,
		record.UpdatedBy, record.RecalculatedAt, record.RecalculatedBy, record.UpdatedAt, payload,
	)
	saved, err := scanYearRecord[P](row)
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Record[P]{}, mapWriteError("save year record", err)
	}

	var exists bool
	if existsErr := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM year_records WHERE id = $1)`, record.ID).Scan(&exists); existsErr != nil {
		return domain.Record[P]{}, fmt.Errorf("failed to check year record %s: %w", record.ID, existsErr)
	}
	if !exists {
		return domain.Record[P]{}, fmt.Errorf("save year record %s: %w", record.ID, domain.ErrRecordNotFound)
	}
	return domain.Record[P]{}, fmt.Errorf("save year record %s at version %d: %w", record.ID, record.Version, domain.ErrConcurrentModification)
}

// Supersede runs the save, insert and relink inside one transaction.
func (r *yearRecordRepository[P]) Supersede(ctx context.Context, next domain.Record[P], previous domain.Record[P]) (domain.Record[P], error) {
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}
	var created domain.Record[P]
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := r.save(ctx, tx, previous); err != nil {
			return err
		}
		inserted, err := r.create(ctx, tx, next)
		if err != nil {
			return err
		}
		now := r.now().UTC()
		if id := inserted.PreviousVersionID; id != nil && *id != previous.ID {
			if _, err := tx.Exec(ctx, `UPDATE year_records
				SET next_version_id = $2, version = version + 1, updated_at = $3
				WHERE id = $1`, *id, inserted.ID, now); err != nil {
				return fmt.Errorf("failed to relink predecessor: %w", err)
			}
		}
		if id := inserted.NextVersionID; id != nil && *id != previous.ID {
			if _, err := tx.Exec(ctx, `UPDATE year_records
				SET previous_version_id = $2, version = version + 1, updated_at = $3
				WHERE id = $1`, *id, inserted.ID, now); err != nil {
				return fmt.Errorf("failed to relink successor: %w", err)
			}
		}
		created = inserted
		return nil
	})
	if err != nil {
		return domain.Record[P]{}, err
	}
	return created, nil
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", op, domain.ErrDuplicateYear)
		case "23514": // check_violation
			return fmt.Errorf("%s: %w: %s", op, domain.ErrValidation, pgErr.Message)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func collectYearRecords[P any](rows pgx.Rows) ([]domain.Record[P], error) {
	defer rows.Close()
	records := []domain.Record[P]{}
	for rows.Next() {
		record, err := scanYearRecord[P](rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read year records: %w", err)
	}
	return records, nil
}

func scanYearRecord[P any](row pgx.Row) (domain.Record[P], error) {
	var (
		record  domain.Record[P]
		kind    string
		payload []byte
	)
	err := row.Scan(
		&record.ID, &kind, &record.Identity.MunicipalityID, &record.Identity.Key,
		&record.EffectiveYear, &record.EffectiveYearEnd, &record.SourceEffectiveYear,
		&record.CreatedFromRecalculation, &record.IsActive, &record.Version,
		&record.PreviousVersionID, &record.NextVersionID, &record.CreatedBy, &record.UpdatedBy,
		&record.RecalculatedAt, &record.RecalculatedBy, &record.CreatedAt, &record.UpdatedAt, &payload,
	)
	if err != nil {
		return domain.Record[P]{}, err
	}
	record.Identity.Kind = domain.EntityKind(kind)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &record.Payload); err != nil {
			return domain.Record[P]{}, fmt.Errorf("failed to unmarshal payload of %s: %w", record.ID, err)
		}
	}
	return record, nil
}
