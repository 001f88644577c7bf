package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"pos-backoffice/internal/audit"
	"pos-backoffice/internal/auth"
	"pos-backoffice/internal/lockout"
)

// Handler exposes lockout administration. Every route goes through the
// authorization guard with the admin role before touching tracker state.
type Handler struct {
	service  *auth.Service
	cookies  *auth.CookieCodec
	tracker  *lockout.Tracker
	auditLog auth.AuditLog
}

func NewHandler(service *auth.Service, cookies *auth.CookieCodec, tracker *lockout.Tracker, auditLog auth.AuditLog) *Handler {
	return &Handler{service: service, cookies: cookies, tracker: tracker, auditLog: auditLog}
}

type lockoutView struct {
	Username         string    `json:"username"`
	LockoutLevel     int       `json:"lockoutLevel"`
	LockedUntil      time.Time `json:"lockedUntil"`
	RemainingSeconds int64     `json:"remainingSeconds"`
}

type unlockRequest struct {
	Username string `json:"username"`
}

func (h *Handler) ListLockouts(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	records, err := h.tracker.ListLocked(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list lockouts")
		return
	}

	now := time.Now().UTC()
	views := make([]lockoutView, 0, len(records))
	for _, rec := range records {
		remaining := rec.LockedUntil.Sub(now)
		views = append(views, lockoutView{
			Username:         rec.Username,
			LockoutLevel:     rec.Level,
			LockedUntil:      rec.LockedUntil,
			RemainingSeconds: int64((remaining + time.Second - 1) / time.Second),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"lockouts": views})
}

func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var body unlockRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil || lockout.Normalize(body.Username) == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	if err := h.tracker.Reset(r.Context(), body.Username); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to unlock")
		return
	}

	_ = h.auditLog.Append(r.Context(), audit.Entry{
		UserID:    admin.ID,
		Action:    "Lockout cleared",
		Reference: lockout.Normalize(body.Username),
		Status:    audit.StatusSuccess,
	})

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) ResetAll(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	if err := h.tracker.ResetAll(r.Context()); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to reset lockouts")
		return
	}

	_ = h.auditLog.Append(r.Context(), audit.Entry{
		UserID: admin.ID,
		Action: "All lockouts reset",
		Status: audit.StatusSuccess,
	})

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (adminUser, bool) {
	rec, err := h.service.RequireRole(r.Context(), auth.TokenFromRequest(r, h.cookies), auth.RoleAdmin)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrNotAuthenticated):
			writeError(w, http.StatusUnauthorized, "not authenticated")
		case errors.Is(err, auth.ErrForbidden):
			writeError(w, http.StatusForbidden, "insufficient role")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "authorization failed")
		}
		return adminUser{}, false
	}

	return adminUser{ID: rec.ID}, true
}

type adminUser struct {
	ID string
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
