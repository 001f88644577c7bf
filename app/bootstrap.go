package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"pos-backoffice/internal/admin"
	"pos-backoffice/internal/audit"
	"pos-backoffice/internal/auth"
	"pos-backoffice/internal/db"
	"pos-backoffice/internal/lockout"
	"pos-backoffice/internal/maintenance"
	"pos-backoffice/internal/observability"
	"pos-backoffice/internal/session"
	"pos-backoffice/internal/user"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Logger  *zap.Logger
	Close   func() error
}

// Build wires the whole service from environment configuration and returns
// the root handler plus a teardown hook.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger(envOrDefault("LOG_LEVEL", "info"), os.Getenv("LOG_FILE"))

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	cookieHashKey, err := mustEnv("SESSION_COOKIE_HASH_KEY")
	if err != nil {
		return nil, err
	}
	if len(cookieHashKey) < 32 {
		return nil, fmt.Errorf("SESSION_COOKIE_HASH_KEY must be at least 32 bytes")
	}

	if err := observability.InitSentry(
		os.Getenv("SENTRY_DSN"),
		envOrDefault("APP_ENV", "development"),
		os.Getenv("APP_RELEASE"),
	); err != nil {
		logger.Error("init_sentry_failed", zap.Error(err))
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(context.Background(), database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	policy := lockout.Policy{
		Threshold:  envIntOrDefault("LOCKOUT_THRESHOLD", 3),
		Step:       envMinutesOrDefault("LOCKOUT_STEP_MINUTES", 2),
		MaxLockout: envMinutesOrDefault("LOCKOUT_MAX_MINUTES", 60),
	}
	attemptStore := lockout.NewPostgresStore(database)
	tracker := lockout.NewTracker(attemptStore, policy)

	sessionStore := session.NewPostgresStore(database, envHoursOrDefault("SESSION_TTL_HOURS", 8))
	users := user.NewPostgresDirectory(database)
	auditLog := audit.NewPostgresLog(database)

	service := auth.NewService(users, sessionStore, tracker, auditLog, logger)
	service.WithStoreTimeout(envSecondsOrDefault("STORE_TIMEOUT_SECONDS", 5))

	cookies := auth.NewCookieCodec([]byte(cookieHashKey), EnvBoolOrDefault("SESSION_COOKIE_SECURE", false))
	authHandler := auth.NewHandler(service, cookies)
	adminHandler := admin.NewHandler(service, cookies, tracker, auditLog)

	cleanupHandler := maintenance.NewCleanupHandler(
		sessionStore,
		attemptStore,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("SESSION_RETENTION_DAYS", 14),
		envDaysOrDefault("ATTEMPT_RETENTION_DAYS", 30),
		envIntOrDefault("CLEANUP_BATCH_SIZE", 500),
	)

	loginLimiter := auth.NewLoginRateLimiter(
		envFloatOrDefault("LOGIN_RATE_LIMIT_RPS", 1),
		envIntOrDefault("LOGIN_RATE_LIMIT_BURST", 10),
	)

	mux := http.NewServeMux()
	mux.Handle("POST /login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("GET /session/check", authHandler.SessionCheck)
	mux.HandleFunc("POST /session/refresh", authHandler.SessionRefresh)
	mux.HandleFunc("POST /logout", authHandler.Logout)
	mux.HandleFunc("GET /lockouts", adminHandler.ListLockouts)
	mux.HandleFunc("POST /lockouts/unlock", adminHandler.Unlock)
	mux.HandleFunc("POST /lockouts/reset-all", adminHandler.ResetAll)
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			_ = logger.Sync()
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envFloatOrDefault(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
