package lockout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore keeps attempt records in the attempt_records table. Failure
// registration runs in a single transaction with the row locked, so bursts of
// concurrent failures for one username serialize instead of losing updates.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, username string) (Record, error) {
	rec := Record{Username: username}

	var lockedUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT attempts, lockout_level, lockout_until
		FROM attempt_records
		WHERE username = $1
	`, username).Scan(&rec.Attempts, &rec.Level, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, nil
		}
		return Record{}, fmt.Errorf("query attempt record: %w", err)
	}
	if lockedUntil.Valid {
		rec.LockedUntil = lockedUntil.Time.UTC()
	}

	return rec, nil
}

func (s *PostgresStore) RecordFailure(ctx context.Context, username string, policy Policy, now time.Time) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin attempt tx: %w", err)
	}
	defer tx.Rollback()

	rec := Record{Username: username}
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT attempts, lockout_level, lockout_until
		FROM attempt_records
		WHERE username = $1
		FOR UPDATE
	`, username).Scan(&rec.Attempts, &rec.Level, &lockedUntil)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("lock attempt record: %w", err)
	}
	if lockedUntil.Valid {
		rec.LockedUntil = lockedUntil.Time.UTC()
	}

	rec = policy.Apply(rec, now)

	var lockedValue any
	if !rec.LockedUntil.IsZero() {
		lockedValue = rec.LockedUntil.UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO attempt_records (username, attempts, lockout_level, lockout_until, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username)
		DO UPDATE SET
			attempts = EXCLUDED.attempts,
			lockout_level = EXCLUDED.lockout_level,
			lockout_until = EXCLUDED.lockout_until,
			updated_at = EXCLUDED.updated_at
	`, username, rec.Attempts, rec.Level, lockedValue, now.UTC())
	if err != nil {
		return Record{}, fmt.Errorf("upsert attempt record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit attempt tx: %w", err)
	}

	return rec, nil
}

func (s *PostgresStore) Reset(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM attempt_records
		WHERE username = $1
	`, username)
	if err != nil {
		return fmt.Errorf("reset attempt record: %w", err)
	}

	return nil
}

func (s *PostgresStore) ResetAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM attempt_records`)
	if err != nil {
		return fmt.Errorf("reset all attempt records: %w", err)
	}

	return nil
}

func (s *PostgresStore) ListLocked(ctx context.Context, now time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, attempts, lockout_level, lockout_until
		FROM attempt_records
		WHERE lockout_until IS NOT NULL AND lockout_until > $1
		ORDER BY lockout_until ASC
	`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list locked records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var lockedUntil time.Time
		if err := rows.Scan(&rec.Username, &rec.Attempts, &rec.Level, &lockedUntil); err != nil {
			return nil, fmt.Errorf("scan locked record: %w", err)
		}
		rec.LockedUntil = lockedUntil.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locked records: %w", err)
	}

	return records, nil
}

// DeleteStale removes records untouched since cutoff whose lockout is no
// longer active, in bounded batches. Operator cleanup only; the tracker never
// calls this on its own.
func (s *PostgresStore) DeleteStale(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT username
			FROM attempt_records
			WHERE updated_at < $1
			  AND (lockout_until IS NULL OR lockout_until < NOW())
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM attempt_records t
		USING stale
		WHERE t.username = stale.username
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale attempt records: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale attempt records rows affected: %w", err)
	}

	return affected, nil
}
