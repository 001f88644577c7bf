package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// StaleDeleter removes rows older than cutoff in bounded batches.
type StaleDeleter interface {
	DeleteStale(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

type CleanupResult struct {
	DeletedSessions       int64 `json:"deleted_sessions"`
	DeletedAttemptRecords int64 `json:"deleted_attempt_records"`
}

// CleanupHandler is the operator-triggered purge of long-dead session rows
// and stale, no-longer-locked attempt records. Guarded by a cron secret; it
// is the only path that physically deletes either table's rows.
type CleanupHandler struct {
	sessions         StaleDeleter
	attempts         StaleDeleter
	logger           *zap.Logger
	cronSecret       string
	sessionRetention time.Duration
	attemptRetention time.Duration
	batchSize        int
}

func NewCleanupHandler(
	sessions StaleDeleter,
	attempts StaleDeleter,
	logger *zap.Logger,
	cronSecret string,
	sessionRetention time.Duration,
	attemptRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	if sessionRetention <= 0 {
		sessionRetention = 14 * 24 * time.Hour
	}
	if attemptRetention <= 0 {
		attemptRetention = 30 * 24 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = 500
	}

	return &CleanupHandler{
		sessions:         sessions,
		attempts:         attempts,
		logger:           logger,
		cronSecret:       strings.TrimSpace(cronSecret),
		sessionRetention: sessionRetention,
		attemptRetention: attemptRetention,
		batchSize:        batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	now := time.Now().UTC()

	deletedSessions, err := h.sessions.DeleteStale(r.Context(), now.Add(-h.sessionRetention), h.batchSize)
	if err != nil {
		h.logger.Error("session_cleanup_failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	deletedAttempts, err := h.attempts.DeleteStale(r.Context(), now.Add(-h.attemptRetention), h.batchSize)
	if err != nil {
		h.logger.Error("attempt_cleanup_failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	result := CleanupResult{
		DeletedSessions:       deletedSessions,
		DeletedAttemptRecords: deletedAttempts,
	}

	h.logger.Info("cleanup_completed",
		zap.Int64("deleted_sessions", result.DeletedSessions),
		zap.Int64("deleted_attempt_records", result.DeletedAttemptRecords),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
