package user

import "errors"

// StatusActive is the only status allowed to authenticate.
const StatusActive = "active"

// ErrNotFound is returned when no record matches the lookup key.
var ErrNotFound = errors.New("user not found")

// Record is the back office's view of a staff account. This service only
// reads it: provisioning, password hashing and role management live in the
// admin tooling that owns the users table.
type Record struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	RoleID       string `json:"roleId"`
	RoleName     string `json:"roleName"`
	Status       string `json:"status"`
}

// Active reports whether the account may sign in.
func (r Record) Active() bool {
	return r.Status == StatusActive
}
