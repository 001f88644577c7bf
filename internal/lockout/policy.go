package lockout

import "time"

const (
	defaultThreshold  = 3
	defaultStep       = 2 * time.Minute
	defaultMaxLockout = time.Hour
)

// Policy decides when repeated login failures escalate into a lockout and how
// long each lockout lasts. It is pure; callers own all state.
type Policy struct {
	Threshold  int           // failures per cycle before a lockout triggers
	Step       time.Duration // lockout duration grows by this much per level
	MaxLockout time.Duration // duration saturates here; the level keeps counting
}

func DefaultPolicy() Policy {
	return Policy{
		Threshold:  defaultThreshold,
		Step:       defaultStep,
		MaxLockout: defaultMaxLockout,
	}
}

// LockDuration returns the lockout window for the given level.
func (p Policy) LockDuration(level int) time.Duration {
	if level <= 0 {
		return 0
	}
	d := time.Duration(level) * p.step()
	if max := p.maxLockout(); d > max {
		d = max
	}
	return d
}

// Apply advances rec by one failed attempt observed at now.
//
// A still-active lockout leaves the record untouched: the caller should have
// refused the attempt before reaching here, and a race must not escalate the
// lock twice. An expired lockout clears the attempt count but keeps the
// level, so prior offenses stay remembered. Reaching the threshold bumps the
// level, starts a new lockout and resets the counter for the next cycle.
func (p Policy) Apply(rec Record, now time.Time) Record {
	if rec.LockedAt(now) {
		return rec
	}
	if !rec.LockedUntil.IsZero() {
		rec.Attempts = 0
		rec.LockedUntil = time.Time{}
	}

	rec.Attempts++
	if rec.Attempts >= p.threshold() {
		rec.Level++
		rec.Attempts = 0
		rec.LockedUntil = now.Add(p.LockDuration(rec.Level))
	}
	return rec
}

// AttemptsRemaining reports how many more failures rec can absorb before the
// next lockout triggers.
func (p Policy) AttemptsRemaining(rec Record) int {
	remaining := p.threshold() - rec.Attempts
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (p Policy) threshold() int {
	if p.Threshold <= 0 {
		return defaultThreshold
	}
	return p.Threshold
}

func (p Policy) step() time.Duration {
	if p.Step <= 0 {
		return defaultStep
	}
	return p.Step
}

func (p Policy) maxLockout() time.Duration {
	if p.MaxLockout <= 0 {
		return defaultMaxLockout
	}
	return p.MaxLockout
}
