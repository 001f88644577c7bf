package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*MemoryStore, *time.Time) {
	t.Helper()

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore(DefaultTTL)
	store.Now = func() time.Time { return now }
	return store, &now
}

func TestNewTokenHas256BitsOfEntropy(t *testing.T) {
	token, err := NewToken()
	require.NoError(t, err)
	assert.Len(t, token, 64, "32 random bytes hex encoded")

	other, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestCreateIssuesActiveSession(t *testing.T) {
	store, now := newTestStore(t)

	token, sess, err := store.Create(context.Background(), "user-1", "10.0.0.9", "pos-terminal/2.1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.Equal(t, "user-1", sess.UserID)
	assert.Equal(t, "10.0.0.9", sess.IPAddress)
	assert.Equal(t, now.Add(DefaultTTL), sess.ExpiresAt)
	assert.True(t, sess.ValidAt(*now))
}

func TestValidateIsUniformAcrossInvalidTokens(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()

	unknown := "deadbeef"

	destroyedToken, _, err := store.Create(ctx, "user-1", "", "")
	require.NoError(t, err)
	require.NoError(t, store.Destroy(ctx, destroyedToken))

	expiredToken, _, err := store.Create(ctx, "user-1", "", "")
	require.NoError(t, err)
	store.Expire(expiredToken, now.Add(-time.Minute))

	for _, token := range []string{unknown, destroyedToken, expiredToken} {
		got, err := store.Validate(ctx, token)
		require.NoError(t, err)
		assert.Nil(t, got, "all invalid tokens must be indistinguishable")
	}
}

func TestValidateLazilyDeactivatesExpired(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()

	token, _, err := store.Create(ctx, "user-1", "", "")
	require.NoError(t, err)
	store.Expire(token, now.Add(-time.Second))

	got, err := store.Validate(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, got)

	stored, ok := store.peek(token)
	require.True(t, ok)
	assert.False(t, stored.IsActive, "observing an expired session flips it off")
}

func TestValidateBumpsLastActivityNotExpiry(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()

	token, created, err := store.Create(ctx, "user-1", "", "")
	require.NoError(t, err)

	*now = now.Add(30 * time.Minute)
	got, err := store.Validate(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, *now, got.LastActivity)
	assert.Equal(t, created.ExpiresAt, got.ExpiresAt, "activity alone never extends expiry")
}

func TestRefreshExtendsExpiry(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()

	token, _, err := store.Create(ctx, "user-1", "", "")
	require.NoError(t, err)

	*now = now.Add(6 * time.Hour)
	newExpiry, err := store.Refresh(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultTTL), newExpiry)

	got, err := store.Validate(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newExpiry, got.ExpiresAt)
}

func TestRefreshRejectsTerminalSessions(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()

	_, err := store.Refresh(ctx, "unknown")
	assert.ErrorIs(t, err, ErrInvalidSession)

	token, _, err := store.Create(ctx, "user-1", "", "")
	require.NoError(t, err)
	require.NoError(t, store.Destroy(ctx, token))
	_, err = store.Refresh(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	expired, _, err := store.Create(ctx, "user-1", "", "")
	require.NoError(t, err)
	store.Expire(expired, now.Add(-time.Second))
	_, err = store.Refresh(ctx, expired)
	assert.ErrorIs(t, err, ErrInvalidSession, "no transition back to active once terminal")
}

func TestDestroyIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	token, _, err := store.Create(ctx, "user-1", "", "")
	require.NoError(t, err)

	require.NoError(t, store.Destroy(ctx, token))
	require.NoError(t, store.Destroy(ctx, token))
	require.NoError(t, store.Destroy(ctx, "never-existed"))

	got, err := store.Validate(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDestroyAllForUserScopesToOneUser(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	tokenA1, _, err := store.Create(ctx, "user-a", "", "")
	require.NoError(t, err)
	tokenA2, _, err := store.Create(ctx, "user-a", "", "")
	require.NoError(t, err)
	tokenB, _, err := store.Create(ctx, "user-b", "", "")
	require.NoError(t, err)

	require.NoError(t, store.DestroyAllForUser(ctx, "user-a"))

	for _, token := range []string{tokenA1, tokenA2} {
		got, err := store.Validate(ctx, token)
		require.NoError(t, err)
		assert.Nil(t, got)
	}

	got, err := store.Validate(ctx, tokenB)
	require.NoError(t, err)
	assert.NotNil(t, got, "other users keep their sessions")

	countA, err := store.CountActiveForUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Zero(t, countA)

	countB, err := store.CountActiveForUser(ctx, "user-b")
	require.NoError(t, err)
	assert.Equal(t, 1, countB)
}
