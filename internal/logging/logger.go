package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler. LOG_LEVEL overrides the
// default level (debug in development, info in production).
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level(slog.LevelInfo),
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level(slog.LevelDebug),
		})
	}

	slog.SetDefault(slog.New(handler))
}

func level(fallback slog.Level) slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}

// WithConnection returns a logger scoped to one viewer connection.
func WithConnection(connID, clientIP string) *slog.Logger {
	return slog.With(
		"conn_id", connID,
		"client_ip", clientIP,
	)
}

// WithFile returns a logger scoped to a file seen by the watcher.
func WithFile(logger *slog.Logger, path, op string) *slog.Logger {
	return logger.With(
		"path", path,
		"op", op,
	)
}
