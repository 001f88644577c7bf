package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pos-backoffice/internal/audit"
	"pos-backoffice/internal/lockout"
	"pos-backoffice/internal/session"
	"pos-backoffice/internal/user"
)

type fakeDirectory struct {
	byUsername map[string]user.Record
	err        error
	lookups    int
}

func (d *fakeDirectory) GetByUsername(_ context.Context, username string) (user.Record, error) {
	d.lookups++
	if d.err != nil {
		return user.Record{}, d.err
	}
	rec, ok := d.byUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return user.Record{}, user.ErrNotFound
	}
	return rec, nil
}

func (d *fakeDirectory) GetByID(_ context.Context, id string) (user.Record, error) {
	if d.err != nil {
		return user.Record{}, d.err
	}
	for _, rec := range d.byUsername {
		if rec.ID == id {
			return rec, nil
		}
	}
	return user.Record{}, user.ErrNotFound
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *fakeAudit) Append(_ context.Context, entry audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	actions := make([]string, 0, len(a.entries))
	for _, entry := range a.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

type fixture struct {
	service  *Service
	users    *fakeDirectory
	sessions *session.MemoryStore
	tracker  *lockout.Tracker
	auditLog *fakeAudit
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	users := &fakeDirectory{byUsername: map[string]user.Record{
		"manager": {
			ID:           "u-manager",
			Username:     "manager",
			PasswordHash: mustHash(t, "correct horse battery"),
			RoleID:       "role-admin",
			RoleName:     "admin",
			Status:       user.StatusActive,
		},
		"cashier": {
			ID:           "u-cashier",
			Username:     "cashier",
			PasswordHash: mustHash(t, "till drawer 42"),
			RoleID:       "role-staff",
			RoleName:     "staff",
			Status:       user.StatusActive,
		},
		"exstaff": {
			ID:           "u-exstaff",
			Username:     "exstaff",
			PasswordHash: mustHash(t, "used to work here"),
			RoleID:       "role-staff",
			RoleName:     "staff",
			Status:       "suspended",
		},
	}}

	sessions := session.NewMemoryStore(session.DefaultTTL)
	tracker := lockout.NewTracker(lockout.NewMemoryStore(), lockout.DefaultPolicy())
	auditLog := &fakeAudit{}

	service := NewService(users, sessions, tracker, auditLog, zap.NewNop())

	return &fixture{
		service:  service,
		users:    users,
		sessions: sessions,
		tracker:  tracker,
		auditLog: auditLog,
	}
}

func (f *fixture) login(t *testing.T, username, password string) (LoginResult, error) {
	t.Helper()
	return f.service.Login(context.Background(), Credentials{
		Username:  username,
		Password:  password,
		IP:        "10.1.1.1",
		UserAgent: "test",
	})
}

func TestLoginValidationHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	testCases := []struct {
		name     string
		username string
		password string
	}{
		{name: "empty username", username: "", password: "whatever"},
		{name: "username with invalid characters", username: "man ager;", password: "whatever"},
		{name: "username too long", username: strings.Repeat("a", 101), password: "whatever"},
		{name: "empty password", username: "manager", password: ""},
		{name: "password too long", username: "manager", password: strings.Repeat("p", 256)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.login(t, tc.username, tc.password)

			var validationErr ValidationError
			require.ErrorAs(t, err, &validationErr)
		})
	}

	assert.Zero(t, f.users.lookups, "syntax failures never reach the directory")
	rec, err := f.tracker.State(ctx, "manager")
	require.NoError(t, err)
	assert.Zero(t, rec.Attempts, "syntax failures are never counted")
}

func TestLoginUnknownUsernameCountsAsFailure(t *testing.T) {
	f := newFixture(t)

	_, err := f.login(t, "ghost", "whatever")

	var credentialsErr InvalidCredentialsError
	require.ErrorAs(t, err, &credentialsErr)
	assert.Equal(t, 2, credentialsErr.AttemptsRemaining)

	rec, err := f.tracker.State(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)
}

func TestLoginWrongPasswordEscalatesToCooldown(t *testing.T) {
	f := newFixture(t)

	_, err := f.login(t, "manager", "wrong1")
	var credentialsErr InvalidCredentialsError
	require.ErrorAs(t, err, &credentialsErr)
	assert.Equal(t, 2, credentialsErr.AttemptsRemaining)

	_, err = f.login(t, "manager", "wrong2")
	require.ErrorAs(t, err, &credentialsErr)
	assert.Equal(t, 1, credentialsErr.AttemptsRemaining)

	_, err = f.login(t, "manager", "wrong3")
	var cooldownErr CooldownError
	require.ErrorAs(t, err, &cooldownErr)
	assert.InDelta(t, 120, cooldownErr.RemainingSeconds, 2)

	assert.Contains(t, f.auditLog.actions(), "Account locked")
}

func TestLoginDuringCooldownNeverTouchesPasswordOrCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = f.login(t, "manager", "wrong")
	}
	lookupsAfterLock := f.users.lookups
	stateAfterLock, err := f.tracker.State(ctx, "manager")
	require.NoError(t, err)

	// Even the correct password is refused while locked.
	_, err = f.login(t, "manager", "correct horse battery")
	var cooldownErr CooldownError
	require.ErrorAs(t, err, &cooldownErr)
	assert.Positive(t, cooldownErr.RemainingSeconds)

	assert.Equal(t, lookupsAfterLock, f.users.lookups, "locked attempts skip the directory")

	state, err := f.tracker.State(ctx, "manager")
	require.NoError(t, err)
	assert.Equal(t, stateAfterLock, state, "locked attempts do not mutate the record")
}

func TestLoginSuccessResetsCounterAndIssuesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.login(t, "manager", "wrong1")
	_, _ = f.login(t, "manager", "wrong2")

	result, err := f.login(t, "Manager", "correct horse battery")
	require.NoError(t, err)
	assert.Len(t, result.Token, 64)
	assert.Equal(t, "u-manager", result.User.ID)
	assert.True(t, result.Session.ValidAt(time.Now().UTC()))
	assert.Contains(t, f.auditLog.actions(), "Logged in")

	rec, err := f.tracker.State(ctx, "manager")
	require.NoError(t, err)
	assert.Zero(t, rec.Attempts)
	assert.Zero(t, rec.Level)

	// Two fresh failures must not lock: the counter started over.
	_, _ = f.login(t, "manager", "wrong1")
	_, err = f.login(t, "manager", "wrong2")
	var credentialsErr InvalidCredentialsError
	require.ErrorAs(t, err, &credentialsErr)
	assert.Equal(t, 1, credentialsErr.AttemptsRemaining)
}

func TestLoginDisabledAccountIsNotAGuessingSignal(t *testing.T) {
	f := newFixture(t)

	_, err := f.login(t, "exstaff", "used to work here")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	var credentialsErr InvalidCredentialsError
	assert.False(t, errors.As(err, &credentialsErr), "no attempts-remaining hint for disabled accounts")

	rec, stateErr := f.tracker.State(context.Background(), "exstaff")
	require.NoError(t, stateErr)
	assert.Zero(t, rec.Attempts, "disabled-account logins are not counted")
}

func TestLoginDirectoryErrorFailsClosedWithoutCounting(t *testing.T) {
	f := newFixture(t)
	f.users.err = errors.New("connection refused")

	_, err := f.login(t, "manager", "correct horse battery")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	var cooldownErr CooldownError
	assert.False(t, errors.As(err, &cooldownErr))

	f.users.err = nil
	rec, stateErr := f.tracker.State(context.Background(), "manager")
	require.NoError(t, stateErr)
	assert.Zero(t, rec.Attempts, "infrastructure failures are not failed attempts")
}

func TestAuthenticateRejectsUnknownAndEmptyTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.service.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, _, err = f.service.Authenticate(ctx, "deadbeef")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestAuthenticateResolvesUserAndSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.login(t, "cashier", "till drawer 42")
	require.NoError(t, err)

	rec, sess, err := f.service.Authenticate(ctx, result.Token)
	require.NoError(t, err)
	assert.Equal(t, "u-cashier", rec.ID)
	require.NotNil(t, sess)
	assert.Equal(t, "u-cashier", sess.UserID)
}

func TestRequireRoleEnforcesTheRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	adminResult, err := f.login(t, "manager", "correct horse battery")
	require.NoError(t, err)
	staffResult, err := f.login(t, "cashier", "till drawer 42")
	require.NoError(t, err)

	_, err = f.service.RequireRole(ctx, adminResult.Token, RoleAdmin)
	assert.NoError(t, err)

	_, err = f.service.RequireRole(ctx, staffResult.Token, RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.service.RequireRole(ctx, staffResult.Token, "")
	assert.NoError(t, err, "empty role only asserts a valid session")

	_, err = f.service.RequireRole(ctx, "bogus", RoleAdmin)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestLogoutDestroysOnlyThePresentedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.login(t, "cashier", "till drawer 42")
	require.NoError(t, err)
	second, err := f.login(t, "cashier", "till drawer 42")
	require.NoError(t, err)

	require.NoError(t, f.service.Logout(ctx, first.Token, false))

	_, _, err = f.service.Authenticate(ctx, first.Token)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, _, err = f.service.Authenticate(ctx, second.Token)
	assert.NoError(t, err, "the other device stays signed in")
}

func TestLogoutEverywhereDestroysAllSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.login(t, "cashier", "till drawer 42")
	require.NoError(t, err)
	second, err := f.login(t, "cashier", "till drawer 42")
	require.NoError(t, err)
	other, err := f.login(t, "manager", "correct horse battery")
	require.NoError(t, err)

	require.NoError(t, f.service.Logout(ctx, first.Token, true))

	for _, token := range []string{first.Token, second.Token} {
		_, _, err = f.service.Authenticate(ctx, token)
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	}
	_, _, err = f.service.Authenticate(ctx, other.Token)
	assert.NoError(t, err, "other users are untouched")
	assert.Contains(t, f.auditLog.actions(), "Logged out everywhere")
}

func TestLogoutWithUnresolvableTokenIsIdempotent(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, f.service.Logout(context.Background(), "never-issued", false))
	assert.NoError(t, f.service.Logout(context.Background(), "", true))
}

func TestRefreshSessionExtendsOnlyValidSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.login(t, "cashier", "till drawer 42")
	require.NoError(t, err)

	expiresAt, err := f.service.RefreshSession(ctx, result.Token)
	require.NoError(t, err)
	assert.False(t, expiresAt.Before(result.Session.ExpiresAt))

	require.NoError(t, f.service.Logout(ctx, result.Token, false))
	_, err = f.service.RefreshSession(ctx, result.Token)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}
