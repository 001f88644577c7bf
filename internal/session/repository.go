package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore keeps sessions in the sessions table, keyed by token digest.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

func NewPostgresStore(db *sql.DB, ttl time.Duration) *PostgresStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PostgresStore{db: db, ttl: ttl, now: time.Now}
}

func (s *PostgresStore) Create(ctx context.Context, userID, ip, userAgent string) (string, Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", Session{}, fmt.Errorf("generate session id: %w", err)
	}

	token, err := NewToken()
	if err != nil {
		return "", Session{}, fmt.Errorf("generate session token: %w", err)
	}

	now := s.now().UTC()
	sess := Session{
		ID:           id.String(),
		UserID:       userID,
		IPAddress:    ip,
		UserAgent:    userAgent,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
		LastActivity: now,
		IsActive:     true,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (token_hash, id, user_id, ip, user_agent, created_at, expires_at, last_activity, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
	`, hashToken(token), sess.ID, sess.UserID, sess.IPAddress, sess.UserAgent,
		sess.CreatedAt, sess.ExpiresAt, sess.LastActivity)
	if err != nil {
		return "", Session{}, fmt.Errorf("insert session: %w", err)
	}

	return token, sess, nil
}

func (s *PostgresStore) Validate(ctx context.Context, token string) (*Session, error) {
	tokenHash := hashToken(token)
	now := s.now().UTC()

	var sess Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, ip, user_agent, created_at, expires_at, last_activity
		FROM sessions
		WHERE token_hash = $1 AND is_active = TRUE
	`, tokenHash).Scan(&sess.ID, &sess.UserID, &sess.IPAddress, &sess.UserAgent,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.LastActivity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query session: %w", err)
	}
	sess.IsActive = true
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()

	if !now.Before(sess.ExpiresAt) {
		// Lazy expiry: flip the row off now that it has been observed dead.
		if _, err := s.db.ExecContext(ctx, `
			UPDATE sessions SET is_active = FALSE WHERE token_hash = $1
		`, tokenHash); err != nil {
			return nil, fmt.Errorf("deactivate expired session: %w", err)
		}
		return nil, nil
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity = $2 WHERE token_hash = $1
	`, tokenHash, now); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	sess.LastActivity = now

	return &sess, nil
}

func (s *PostgresStore) Refresh(ctx context.Context, token string) (time.Time, error) {
	tokenHash := hashToken(token)
	now := s.now().UTC()
	newExpiry := now.Add(s.ttl)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("begin refresh tx: %w", err)
	}
	defer tx.Rollback()

	var expiresAt time.Time
	var isActive bool
	err = tx.QueryRowContext(ctx, `
		SELECT expires_at, is_active
		FROM sessions
		WHERE token_hash = $1
		FOR UPDATE
	`, tokenHash).Scan(&expiresAt, &isActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, ErrInvalidSession
		}
		return time.Time{}, fmt.Errorf("read session for refresh: %w", err)
	}

	if !isActive || !now.Before(expiresAt.UTC()) {
		return time.Time{}, ErrInvalidSession
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions
		SET expires_at = $2, last_activity = $3
		WHERE token_hash = $1
	`, tokenHash, newExpiry, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("extend session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("commit refresh tx: %w", err)
	}

	return newExpiry, nil
}

func (s *PostgresStore) Destroy(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = FALSE WHERE token_hash = $1
	`, hashToken(token))
	if err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}

	return nil
}

func (s *PostgresStore) DestroyAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE
	`, userID)
	if err != nil {
		return fmt.Errorf("destroy sessions for user: %w", err)
	}

	return nil
}

func (s *PostgresStore) CountActiveForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM sessions
		WHERE user_id = $1 AND is_active = TRUE AND expires_at > $2
	`, userID, s.now().UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}

	return count, nil
}

// DeleteStale physically removes long-dead session rows in bounded batches.
// Rows stay soft-deactivated for audit until the operator-driven cleanup
// decides they are old enough to drop.
func (s *PostgresStore) DeleteStale(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT token_hash
			FROM sessions
			WHERE (is_active = FALSE AND last_activity < $1)
			   OR expires_at < $1
			ORDER BY last_activity ASC
			LIMIT $2
		)
		DELETE FROM sessions t
		USING stale
		WHERE t.token_hash = stale.token_hash
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale sessions rows affected: %w", err)
	}

	return affected, nil
}
