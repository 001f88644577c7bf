package auth

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LoginRateLimiter is a coarse per-IP pre-filter in front of the login
// endpoint. The per-username lockout is the real defense; this only keeps a
// single client from hammering the bcrypt path.
type LoginRateLimiter struct {
	mu         sync.Mutex
	rps        rate.Limit
	burst      int
	byIP       map[string]*ipLimiter
	maxEntries int
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLoginRateLimiter(rps float64, burst int) *LoginRateLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 10
	}

	return &LoginRateLimiter{
		rps:        rate.Limit(rps),
		burst:      burst,
		byIP:       make(map[string]*ipLimiter),
		maxEntries: 5000,
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		retryAfter, allowed := l.allow(clientIP(r), time.Now().UTC())
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *LoginRateLimiter) allow(ip string, now time.Time) (time.Duration, bool) {
	l.mu.Lock()
	entry, ok := l.byIP[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.byIP[ip] = entry
	}
	entry.lastSeen = now

	if len(l.byIP) > l.maxEntries {
		idleCutoff := now.Add(-10 * time.Minute)
		for key, value := range l.byIP {
			if value.lastSeen.Before(idleCutoff) {
				delete(l.byIP, key)
			}
		}
	}
	l.mu.Unlock()

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return time.Second, false
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return delay, false
	}

	return 0, true
}

func clientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
