package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials covers wrong passwords, unknown usernames and
	// disabled accounts alike; callers never learn which.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNotAuthenticated means the request carried no resolvable session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrForbidden means the session is fine but the role is not.
	ErrForbidden = errors.New("insufficient role")
)

// ValidationError reports syntactically malformed input. Nothing is recorded
// against the lockout counter for these.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// InvalidCredentialsError is the counted variant of ErrInvalidCredentials: a
// genuine mismatch that moved the attempt counter.
type InvalidCredentialsError struct {
	AttemptsRemaining int
}

func (e InvalidCredentialsError) Error() string {
	return "invalid credentials"
}

func (e InvalidCredentialsError) Is(target error) bool {
	return target == ErrInvalidCredentials
}

// CooldownError refuses an authentication attempt because the identity is
// locked out. The attempt counter is never touched while one is active.
type CooldownError struct {
	RemainingSeconds int64
}

func (e CooldownError) Error() string {
	return fmt.Sprintf("too many failed attempts, try again in %ds", e.RemainingSeconds)
}
