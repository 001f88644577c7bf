package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// DefaultTTL is how long a freshly issued session lives without a refresh.
const DefaultTTL = 8 * time.Hour

const tokenBytes = 32 // 256 bits of entropy

// ErrInvalidSession is returned by Refresh when the presented token does not
// resolve to a currently valid session. Validate deliberately does not use
// it: unknown, deactivated and expired tokens all look the same to callers.
var ErrInvalidSession = errors.New("session invalid or expired")

// Session is the server-side record behind an issued token. The raw token is
// never stored; rows are keyed by its sha256 digest.
type Session struct {
	ID           string    `json:"-"`
	UserID       string    `json:"-"`
	IPAddress    string    `json:"-"`
	UserAgent    string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	LastActivity time.Time `json:"lastActivity"`
	IsActive     bool      `json:"-"`
}

// ValidAt reports whether the session is usable at now.
func (s Session) ValidAt(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// Store owns the session lifecycle: Created -> Active -> (Expired | Destroyed).
// Both terminal states are soft (is_active flipped off); nothing transitions
// back to active.
type Store interface {
	// Create issues a new session for the user and returns the raw token,
	// the only time it ever exists server-side.
	Create(ctx context.Context, userID, ip, userAgent string) (token string, sess Session, err error)
	// Validate resolves a token to its session, bumping last activity.
	// Returns (nil, nil) for unknown, deactivated and expired tokens alike;
	// an expired session is deactivated on the way out.
	Validate(ctx context.Context, token string) (*Session, error)
	// Refresh extends the expiry of a currently valid session by the
	// configured TTL and returns the new expiry.
	Refresh(ctx context.Context, token string) (time.Time, error)
	// Destroy deactivates one session. Idempotent.
	Destroy(ctx context.Context, token string) error
	// DestroyAllForUser deactivates every session owned by the user.
	DestroyAllForUser(ctx context.Context, userID string) error
	// CountActiveForUser reports how many live sessions the user holds.
	CountActiveForUser(ctx context.Context, userID string) (int, error)
}

// NewToken generates a session token with 256 bits of entropy.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
