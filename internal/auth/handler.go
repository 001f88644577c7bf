package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
)

const maxJSONBodyBytes = 1 << 20

// Handler exposes the gateway over HTTP+JSON.
type Handler struct {
	service *Service
	cookies *CookieCodec
}

func NewHandler(service *Service, cookies *CookieCodec) *Handler {
	return &Handler{service: service, cookies: cookies}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type logoutRequest struct {
	LogoutAll bool `json:"logoutAll"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	result, err := h.service.Login(r.Context(), Credentials{
		Username:  body.Username,
		Password:  body.Password,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		var validationErr ValidationError
		if errors.As(err, &validationErr) {
			writeError(w, http.StatusBadRequest, validationErr.Error())
			return
		}
		var cooldownErr CooldownError
		if errors.As(err, &cooldownErr) {
			w.Header().Set("Retry-After", strconv.FormatInt(cooldownErr.RemainingSeconds, 10))
			writeJSON(w, http.StatusLocked, map[string]any{
				"error":            cooldownErr.Error(),
				"remainingSeconds": cooldownErr.RemainingSeconds,
			})
			return
		}
		var credentialsErr InvalidCredentialsError
		if errors.As(err, &credentialsErr) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":             "invalid credentials",
				"attemptsRemaining": credentialsErr.AttemptsRemaining,
			})
			return
		}
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}

	if err := h.cookies.Set(w, result.Token, result.Session.ExpiresAt); err != nil {
		sentry.CaptureException(err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  result.User,
	})
}

func (h *Handler) SessionCheck(w http.ResponseWriter, r *http.Request) {
	rec, sess, err := h.service.Authenticate(r.Context(), TokenFromRequest(r, h.cookies))
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"authenticated": false})
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to check session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          rec,
		"session":       sess,
	})
}

func (h *Handler) SessionRefresh(w http.ResponseWriter, r *http.Request) {
	expiresAt, err := h.service.RefreshSession(r.Context(), TokenFromRequest(r, h.cookies))
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to refresh session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"expiresAt": expiresAt})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body logoutRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	if err := h.service.Logout(r.Context(), TokenFromRequest(r, h.cookies), body.LogoutAll); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to logout")
		return
	}

	h.cookies.Clear(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// TokenFromRequest pulls the session token from the Authorization header or,
// failing that, the signed cookie. Both land in the same store.
func TokenFromRequest(r *http.Request, cookies *CookieCodec) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}

	if cookies != nil {
		if token, ok := cookies.Read(r); ok {
			return token
		}
	}

	return ""
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
