package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PostgresDirectory resolves staff accounts from the users table joined to
// their role.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) GetByUsername(ctx context.Context, username string) (Record, error) {
	username = strings.ToLower(strings.TrimSpace(username))

	var rec Record
	err := d.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.password_hash, u.role_id, r.name, u.status
		FROM users u
		JOIN roles r ON r.id = u.role_id
		WHERE LOWER(u.username) = $1
	`, username).Scan(&rec.ID, &rec.Username, &rec.PasswordHash, &rec.RoleID, &rec.RoleName, &rec.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("query user by username: %w", err)
	}

	return rec, nil
}

func (d *PostgresDirectory) GetByID(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := d.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.password_hash, u.role_id, r.name, u.status
		FROM users u
		JOIN roles r ON r.id = u.role_id
		WHERE u.id = $1
	`, id).Scan(&rec.ID, &rec.Username, &rec.PasswordHash, &rec.RoleID, &rec.RoleName, &rec.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("query user by id: %w", err)
	}

	return rec, nil
}
