// Package sqlite implements the repository stores on SQLite for single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/repository"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const yearRecordColumns = `id, kind, municipality_id, identity_key, effective_year, effective_year_end,
	source_effective_year, created_from_recalculation, is_active, version, previous_version_id,
	next_version_id, created_by, updated_by, recalculated_at, recalculated_by, created_at, updated_at, payload`

// YearRecordStore implements repository.YearRecordStore on SQLite.
type YearRecordStore[P any] struct {
	db  *sql.DB
	now func() time.Time
}

var _ repository.YearRecordStore[domain.LandAssessment] = (*YearRecordStore[domain.LandAssessment])(nil)

// NewYearRecordStore expects a database already migrated with db.RunSQLiteMigrations.
func NewYearRecordStore[P any](db *sql.DB) *YearRecordStore[P] {
	return &YearRecordStore[P]{db: db, now: time.Now}
}

func (s *YearRecordStore[P]) Find(ctx context.Context, q repository.RecordQuery) ([]domain.Record[P], error) {
	return s.find(ctx, s.db, q)
}

func (s *YearRecordStore[P]) FindOne(ctx context.Context, q repository.RecordQuery) (*domain.Record[P], error) {
	q.Limit = 1
	records, err := s.find(ctx, s.db, q)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

func (s *YearRecordStore[P]) find(ctx context.Context, db dbtx, q repository.RecordQuery) ([]domain.Record[P], error) {
	where, args := buildRecordFilter(q)
	query := fmt.Sprintf(`SELECT %s FROM year_records WHERE %s ORDER BY identity_key ASC, effective_year DESC`, yearRecordColumns, where)
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query year records: %w", err)
	}
	return collectYearRecords[P](rows)
}

func buildRecordFilter(q repository.RecordQuery) (string, []any) {
	clauses := []string{"kind = ?", "municipality_id = ?"}
	args := []any{string(q.Kind), q.MunicipalityID.String()}
	if q.Key != "" {
		clauses = append(clauses, "identity_key = ?")
		args = append(args, q.Key)
	}
	if q.ID != nil {
		clauses = append(clauses, "id = ?")
		args = append(args, q.ID.String())
	}
	if q.ExactYear != nil {
		clauses = append(clauses, "effective_year = ?")
		args = append(args, *q.ExactYear)
	}
	if q.EffectiveAt != nil {
		clauses = append(clauses, "effective_year <= ? AND (effective_year_end IS NULL OR ? < effective_year_end)")
		args = append(args, *q.EffectiveAt, *q.EffectiveAt)
	}
	if !q.IncludeInactive {
		clauses = append(clauses, "is_active = 1")
	}
	return strings.Join(clauses, " AND "), args
}

// FindEffectiveForScope ranks each identity's applicable records and keeps
// the latest one.
func (s *YearRecordStore[P]) FindEffectiveForScope(ctx context.Context, scope domain.Scope, year int) ([]domain.Record[P], error) {
	keys := scope.Keys
	if keys == nil {
		keys = []string{}
	}
	keysJSON, err := json.Marshal(keys)
	if err != nil {
		return nil, fmt.Errorf("encode scope keys: %w", err)
	}
	query := fmt.Sprintf(`SELECT %s FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY identity_key ORDER BY effective_year DESC) AS rank
			FROM year_records
			WHERE kind = ?
			  AND municipality_id = ?
			  AND is_active = 1
			  AND effective_year <= ?
			  AND (effective_year_end IS NULL OR ? < effective_year_end)
			  AND (? = 0 OR identity_key IN (SELECT value FROM json_each(?)))
		)
		WHERE rank = 1
		ORDER BY identity_key ASC`, yearRecordColumns)
	rows, err := s.db.QueryContext(ctx, query,
		string(scope.Kind), scope.MunicipalityID.String(), year, year, len(keys), string(keysJSON))
	if err != nil {
		return nil, fmt.Errorf("query effective records for scope: %w", err)
	}
	return collectYearRecords[P](rows)
}

func (s *YearRecordStore[P]) Create(ctx context.Context, record domain.Record[P]) (domain.Record[P], error) {
	return s.create(ctx, s.db, record)
}

func (s *YearRecordStore[P]) create(ctx context.Context, db dbtx, record domain.Record[P]) (domain.Record[P], error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	now := s.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	record.Version = 1

	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return domain.Record[P]{}, fmt.Errorf("marshal payload: %w", err)
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO year_records (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, yearRecordColumns),
		record.ID.String(), string(record.Identity.Kind), record.Identity.MunicipalityID.String(), record.Identity.Key,
		record.EffectiveYear, record.EffectiveYearEnd, record.SourceEffectiveYear,
		record.CreatedFromRecalculation, record.IsActive, record.Version,
		uuidArg(record.PreviousVersionID), uuidArg(record.NextVersionID), record.CreatedBy, record.UpdatedBy,
		timeArg(record.RecalculatedAt), record.RecalculatedBy,
		formatTime(record.CreatedAt), formatTime(record.UpdatedAt), string(payload),
	)
	if err != nil {
		return domain.Record[P]{}, mapWriteError("create year record", err)
	}
	return s.get(ctx, db, record.ID)
}

func (s *YearRecordStore[P]) Save(ctx context.Context, record domain.Record[P]) (domain.Record[P], error) {
	return s.save(ctx, s.db, record)
}

func (s *YearRecordStore[P]) save(ctx context.Context, db dbtx, record domain.Record[P]) (domain.Record[P], error) {
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return domain.Record[P]{}, fmt.Errorf("marshal payload: %w", err)
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = s.now().UTC()
	}

	result, err := db.ExecContext(ctx, `UPDATE year_records SET
			effective_year_end = ?,
			source_effective_year = ?,
			created_from_recalculation = ?,
			is_active = ?,
			previous_version_id = ?,
			next_version_id = ?,
			updated_by = ?,
			recalculated_at = ?,
			recalculated_by = ?,
			updated_at = ?,
			payload = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		record.EffectiveYearEnd, record.SourceEffectiveYear, record.CreatedFromRecalculation, record.IsActive,
		uuidArg(record.PreviousVersionID), uuidArg(record.NextVersionID), record.UpdatedBy,
		timeArg(record.RecalculatedAt), record.RecalculatedBy, formatTime(record.UpdatedAt), string(payload),
		record.ID.String(), record.Version,
	)
	if err != nil {
		return domain.Record[P]{}, mapWriteError("save year record", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.Record[P]{}, fmt.Errorf("save year record %s: %w", record.ID, err)
	}
	if affected == 1 {
		return s.get(ctx, db, record.ID)
	}

	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM year_records WHERE id = ?)`, record.ID.String()).Scan(&exists); err != nil {
		return domain.Record[P]{}, fmt.Errorf("check year record %s: %w", record.ID, err)
	}
	if !exists {
		return domain.Record[P]{}, fmt.Errorf("save year record %s: %w", record.ID, domain.ErrRecordNotFound)
	}
	return domain.Record[P]{}, fmt.Errorf("save year record %s at version %d: %w", record.ID, record.Version, domain.ErrConcurrentModification)
}

func (s *YearRecordStore[P]) Supersede(ctx context.Context, next domain.Record[P], previous domain.Record[P]) (domain.Record[P], error) {
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Record[P]{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.save(ctx, tx, previous); err != nil {
		return domain.Record[P]{}, err
	}
	created, err := s.create(ctx, tx, next)
	if err != nil {
		return domain.Record[P]{}, err
	}
	now := formatTime(s.now().UTC())
	if id := created.PreviousVersionID; id != nil && *id != previous.ID {
		if _, err := tx.ExecContext(ctx, `UPDATE year_records
			SET next_version_id = ?, version = version + 1, updated_at = ?
			WHERE id = ?`, created.ID.String(), now, id.String()); err != nil {
			return domain.Record[P]{}, fmt.Errorf("relink predecessor: %w", err)
		}
	}
	if id := created.NextVersionID; id != nil && *id != previous.ID {
		if _, err := tx.ExecContext(ctx, `UPDATE year_records
			SET previous_version_id = ?, version = version + 1, updated_at = ?
			WHERE id = ?`, created.ID.String(), now, id.String()); err != nil {
			return domain.Record[P]{}, fmt.Errorf("relink successor: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Record[P]{}, fmt.Errorf("commit supersede: %w", err)
	}
	return created, nil
}

func (s *YearRecordStore[P]) get(ctx context.Context, db dbtx, id uuid.UUID) (domain.Record[P], error) {
	row := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM year_records WHERE id = ?`, yearRecordColumns), id.String())
	record, err := scanYearRecord[P](row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record[P]{}, fmt.Errorf("year record %s: %w", id, domain.ErrRecordNotFound)
	}
	return record, err
}

func mapWriteError(op string, err error) error {
	var sqliteErr *sqlitedrv.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s: %w", op, domain.ErrDuplicateYear)
		case sqlite3.SQLITE_CONSTRAINT_CHECK:
			return fmt.Errorf("%s: %w: %s", op, domain.ErrValidation, sqliteErr.Error())
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func collectYearRecords[P any](rows *sql.Rows) ([]domain.Record[P], error) {
	defer func() { _ = rows.Close() }()
	records := []domain.Record[P]{}
	for rows.Next() {
		record, err := scanYearRecord[P](rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read year records: %w", err)
	}
	return records, nil
}

func scanYearRecord[P any](row scanner) (domain.Record[P], error) {
	var (
		record                         domain.Record[P]
		id, kind, municipalityID       string
		previousID, nextID             sql.NullString
		recalculatedAt                 sql.NullString
		createdAt, updatedAt, payload  string
		effectiveEnd, sourceYear       sql.NullInt64
		createdBy, updatedBy, recalcBy sql.NullString
	)
	err := row.Scan(
		&id, &kind, &municipalityID, &record.Identity.Key,
		&record.EffectiveYear, &effectiveEnd, &sourceYear,
		&record.CreatedFromRecalculation, &record.IsActive, &record.Version,
		&previousID, &nextID, &createdBy, &updatedBy,
		&recalculatedAt, &recalcBy, &createdAt, &updatedAt, &payload,
	)
	if err != nil {
		return domain.Record[P]{}, err
	}

	if record.ID, err = uuid.Parse(id); err != nil {
		return domain.Record[P]{}, fmt.Errorf("parse record id: %w", err)
	}
	if record.Identity.MunicipalityID, err = uuid.Parse(municipalityID); err != nil {
		return domain.Record[P]{}, fmt.Errorf("parse municipality id of %s: %w", id, err)
	}
	record.Identity.Kind = domain.EntityKind(kind)
	if record.PreviousVersionID, err = parseUUIDPtr(previousID); err != nil {
		return domain.Record[P]{}, err
	}
	if record.NextVersionID, err = parseUUIDPtr(nextID); err != nil {
		return domain.Record[P]{}, err
	}
	record.EffectiveYearEnd = intPtr(effectiveEnd)
	record.SourceEffectiveYear = intPtr(sourceYear)
	record.CreatedBy = stringPtr(createdBy)
	record.UpdatedBy = stringPtr(updatedBy)
	record.RecalculatedBy = stringPtr(recalcBy)
	if record.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Record[P]{}, err
	}
	if record.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Record[P]{}, err
	}
	if recalculatedAt.Valid {
		ts, err := parseTime(recalculatedAt.String)
		if err != nil {
			return domain.Record[P]{}, err
		}
		record.RecalculatedAt = &ts
	}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &record.Payload); err != nil {
			return domain.Record[P]{}, fmt.Errorf("unmarshal payload of %s: %w", id, err)
		}
	}
	return record, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func uuidArg(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func parseUUIDPtr(value sql.NullString) (*uuid.UUID, error) {
	if !value.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(value.String)
	if err != nil {
		return nil, fmt.Errorf("parse version link %q: %w", value.String, err)
	}
	return &id, nil
}

func intPtr(value sql.NullInt64) *int {
	if !value.Valid {
		return nil
	}
	v := int(value.Int64)
	return &v
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}
