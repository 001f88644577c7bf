package lockout

import (
	"context"
	"strings"
	"time"
)

// Record is the per-identity failure state. Username is always stored
// lowercased; lockout keying is case-insensitive.
type Record struct {
	Username    string    `json:"username"`
	Attempts    int       `json:"attempts"`
	Level       int       `json:"lockoutLevel"`
	LockedUntil time.Time `json:"lockedUntil,omitzero"` // zero when never locked
}

// LockedAt reports whether the record carries a lockout still active at now.
func (r Record) LockedAt(now time.Time) bool {
	return !r.LockedUntil.IsZero() && now.Before(r.LockedUntil)
}

// Cooldown is the read-side view a client renders a countdown from.
type Cooldown struct {
	OnCooldown       bool  `json:"onCooldown"`
	RemainingSeconds int64 `json:"remainingSeconds"`
}

// Store persists attempt records keyed by lowercased username.
// RecordFailure must be atomic per username: concurrent failures may
// interleave but no update may be lost.
type Store interface {
	Get(ctx context.Context, username string) (Record, error)
	RecordFailure(ctx context.Context, username string, policy Policy, now time.Time) (Record, error)
	Reset(ctx context.Context, username string) error
	ResetAll(ctx context.Context) error
	ListLocked(ctx context.Context, now time.Time) ([]Record, error)
}

// Tracker counts consecutive authentication failures per identity and owns
// the escalating lockout state derived from them.
type Tracker struct {
	store  Store
	policy Policy
	now    func() time.Time
}

func NewTracker(store Store, policy Policy) *Tracker {
	return &Tracker{store: store, policy: policy, now: time.Now}
}

// Policy returns the cooldown policy the tracker escalates with.
func (t *Tracker) Policy() Policy {
	return t.policy
}

// State returns the current record for the identity, a zero record if none
// exists.
func (t *Tracker) State(ctx context.Context, username string) (Record, error) {
	return t.store.Get(ctx, Normalize(username))
}

// RecordFailure registers one failed attempt and returns the updated record,
// escalating into a lockout when the policy threshold is reached.
func (t *Tracker) RecordFailure(ctx context.Context, username string) (Record, error) {
	return t.store.RecordFailure(ctx, Normalize(username), t.policy, t.now().UTC())
}

// Reset forgets the identity entirely, attempts and lockout level both.
// Called on successful login and by admin unlock.
func (t *Tracker) Reset(ctx context.Context, username string) error {
	return t.store.Reset(ctx, Normalize(username))
}

// ResetAll clears every attempt record. Admin bulk operation.
func (t *Tracker) ResetAll(ctx context.Context) error {
	return t.store.ResetAll(ctx)
}

// CheckCooldown reports whether the identity is currently locked out and for
// how much longer. Pure read, never mutates state.
func (t *Tracker) CheckCooldown(ctx context.Context, username string) (Cooldown, error) {
	rec, err := t.store.Get(ctx, Normalize(username))
	if err != nil {
		return Cooldown{}, err
	}
	return t.cooldownOf(rec), nil
}

// ListLocked returns the identities whose lockout window is still open.
func (t *Tracker) ListLocked(ctx context.Context) ([]Record, error) {
	return t.store.ListLocked(ctx, t.now().UTC())
}

func (t *Tracker) cooldownOf(rec Record) Cooldown {
	now := t.now().UTC()
	if !rec.LockedAt(now) {
		return Cooldown{}
	}
	remaining := rec.LockedUntil.Sub(now)
	seconds := int64((remaining + time.Second - 1) / time.Second) // ceil
	return Cooldown{OnCooldown: true, RemainingSeconds: seconds}
}

// Normalize maps a username to its lockout store key.
func Normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
