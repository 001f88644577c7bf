package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresLog appends entries to the audit_logs table. Rows are never
// updated or deleted by this service.
type PostgresLog struct {
	db *sql.DB
}

func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

func (l *PostgresLog) Append(ctx context.Context, entry Entry) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate audit id: %w", err)
	}

	var userID any
	if entry.UserID != "" {
		userID = entry.UserID
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, reference, status, ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id.String(), userID, entry.Action, entry.Reference, entry.Status, entry.IP, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	return nil
}
