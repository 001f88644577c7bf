package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pos-backoffice/internal/audit"
	"pos-backoffice/internal/lockout"
	"pos-backoffice/internal/session"
	"pos-backoffice/internal/user"
)

// RoleAdmin guards the privileged lockout-administration endpoints.
const RoleAdmin = "admin"

const (
	maxUsernameLen = 100
	maxPasswordLen = 255

	defaultStoreTimeout = 5 * time.Second
)

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// dummyHash is compared against when the username does not exist, so unknown
// and known usernames burn the same bcrypt cost and stay indistinguishable
// by timing.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Directory is the read-mostly user-record collaborator.
type Directory interface {
	GetByUsername(ctx context.Context, username string) (user.Record, error)
	GetByID(ctx context.Context, id string) (user.Record, error)
}

// AuditLog is the append-only audit sink.
type AuditLog interface {
	Append(ctx context.Context, entry audit.Entry) error
}

// Credentials is one login submission plus its request diagnostics.
type Credentials struct {
	Username  string
	Password  string
	IP        string
	UserAgent string
}

// LoginResult carries the issued token back to the transport layer. The raw
// token exists nowhere else.
type LoginResult struct {
	Token   string
	User    user.Record
	Session session.Session
}

// Service is the authentication gateway: it owns the ordering between
// validation, cooldown checks, credential verification, attempt tracking and
// session issuance.
type Service struct {
	users        Directory
	sessions     session.Store
	tracker      *lockout.Tracker
	auditLog     AuditLog
	logger       *zap.Logger
	storeTimeout time.Duration
}

func NewService(users Directory, sessions session.Store, tracker *lockout.Tracker, auditLog AuditLog, logger *zap.Logger) *Service {
	return &Service{
		users:        users,
		sessions:     sessions,
		tracker:      tracker,
		auditLog:     auditLog,
		logger:       logger,
		storeTimeout: defaultStoreTimeout,
	}
}

// WithStoreTimeout bounds every backing-store round trip. On timeout the
// operation fails closed.
func (s *Service) WithStoreTimeout(timeout time.Duration) {
	if timeout > 0 {
		s.storeTimeout = timeout
	}
}

// Login authenticates one credential submission. The step order is load
// bearing: syntax first (no side effects), cooldown second (no password work
// for locked identities), then lookup and verification (only genuine
// mismatches count against the lockout counter).
func (s *Service) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	username := strings.TrimSpace(creds.Username)
	if err := validateCredentials(username, creds.Password); err != nil {
		return LoginResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	cooldown, err := s.tracker.CheckCooldown(ctx, username)
	if err != nil {
		return LoginResult{}, fmt.Errorf("check cooldown: %w", err)
	}
	if cooldown.OnCooldown {
		return LoginResult{}, CooldownError{RemainingSeconds: cooldown.RemainingSeconds}
	}

	rec, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(creds.Password))
			return LoginResult{}, s.failedAttempt(ctx, username, creds.IP)
		}
		return LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(creds.Password)); err != nil {
		return LoginResult{}, s.failedAttempt(ctx, username, creds.IP)
	}

	if !rec.Active() {
		// A correct password against a disabled account is not a guessing
		// signal; the counter is left alone.
		return LoginResult{}, ErrInvalidCredentials
	}

	if err := s.tracker.Reset(ctx, username); err != nil {
		return LoginResult{}, fmt.Errorf("reset attempts: %w", err)
	}

	token, sess, err := s.sessions.Create(ctx, rec.ID, creds.IP, creds.UserAgent)
	if err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}

	s.audit(ctx, audit.Entry{
		UserID: rec.ID,
		Action: "Logged in",
		Status: audit.StatusSuccess,
		IP:     creds.IP,
	})

	return LoginResult{Token: token, User: rec, Session: sess}, nil
}

// failedAttempt registers one genuine credential mismatch and decides which
// failure the caller reports: a fresh lockout or plain invalid credentials
// with the remaining budget.
func (s *Service) failedAttempt(ctx context.Context, username, ip string) error {
	rec, err := s.tracker.RecordFailure(ctx, username)
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}

	now := time.Now().UTC()
	if rec.LockedAt(now) {
		s.audit(ctx, audit.Entry{
			Action:    "Account locked",
			Reference: lockout.Normalize(username),
			Status:    audit.StatusFailed,
			IP:        ip,
		})
		remaining := rec.LockedUntil.Sub(now)
		return CooldownError{RemainingSeconds: int64((remaining + time.Second - 1) / time.Second)}
	}

	return InvalidCredentialsError{AttemptsRemaining: s.tracker.Policy().AttemptsRemaining(rec)}
}

// Authenticate resolves a presented token to its session and user.
// Unknown, deactivated and expired tokens all fail identically with
// ErrNotAuthenticated.
func (s *Service) Authenticate(ctx context.Context, token string) (user.Record, *session.Session, error) {
	if strings.TrimSpace(token) == "" {
		return user.Record{}, nil, ErrNotAuthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return user.Record{}, nil, fmt.Errorf("validate session: %w", err)
	}
	if sess == nil {
		return user.Record{}, nil, ErrNotAuthenticated
	}

	rec, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.Record{}, nil, ErrNotAuthenticated
		}
		return user.Record{}, nil, fmt.Errorf("resolve session user: %w", err)
	}
	if !rec.Active() {
		return user.Record{}, nil, ErrNotAuthenticated
	}

	return rec, sess, nil
}

// RefreshSession extends a currently valid session by the configured TTL.
func (s *Service) RefreshSession(ctx context.Context, token string) (time.Time, error) {
	if strings.TrimSpace(token) == "" {
		return time.Time{}, ErrNotAuthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	expiresAt, err := s.sessions.Refresh(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			return time.Time{}, ErrNotAuthenticated
		}
		return time.Time{}, fmt.Errorf("refresh session: %w", err)
	}

	return expiresAt, nil
}

// Logout destroys the presented session, or every session of its owner when
// everywhere is set. Idempotent: an unresolvable token is already logged out.
func (s *Service) Logout(ctx context.Context, token string, everywhere bool) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return fmt.Errorf("validate session: %w", err)
	}
	if sess == nil {
		return nil
	}

	if everywhere {
		if err := s.sessions.DestroyAllForUser(ctx, sess.UserID); err != nil {
			return fmt.Errorf("destroy all sessions: %w", err)
		}
	} else {
		if err := s.sessions.Destroy(ctx, token); err != nil {
			return fmt.Errorf("destroy session: %w", err)
		}
	}

	action := "Logged out"
	if everywhere {
		action = "Logged out everywhere"
	}
	s.audit(ctx, audit.Entry{
		UserID: sess.UserID,
		Action: action,
		Status: audit.StatusSuccess,
		IP:     sess.IPAddress,
	})

	return nil
}

// audit is best effort: a failed audit write is reported but never turns a
// successful operation into a failure.
func (s *Service) audit(ctx context.Context, entry audit.Entry) {
	if err := s.auditLog.Append(ctx, entry); err != nil {
		s.logger.Error("audit_append_failed",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}

func validateCredentials(username, password string) error {
	if username == "" {
		return ValidationError{Field: "username", Reason: "is required"}
	}
	if len(username) > maxUsernameLen {
		return ValidationError{Field: "username", Reason: "is too long"}
	}
	if !usernameRegex.MatchString(username) {
		return ValidationError{Field: "username", Reason: "format is invalid"}
	}
	if password == "" {
		return ValidationError{Field: "password", Reason: "is required"}
	}
	if len(password) > maxPasswordLen {
		return ValidationError{Field: "password", Reason: "is too long"}
	}
	return nil
}
