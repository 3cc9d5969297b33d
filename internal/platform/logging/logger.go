package logging

import (
	"log/slog"
	"os"

	"github.com/pscheid92/livequeryd/internal/platform/correlation"
)

// Logger is the application-wide structured logger instance. Until
// InitLogger runs it is the slog default logger, so the WithX helpers are
// safe to call before initialization.
var Logger = slog.Default()

// InitLogger initializes the global logger with the specified level and format.
// level: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "text" (defaults to "text")
func InitLogger(level, format string) {
	// Parse log level
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	handler = correlation.NewHandler(handler)

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// WithPoller returns a logger with poller_key fields attached.
func WithPoller(source, role, queryText string) *slog.Logger {
	return Logger.With("source", source, "role", role, "query_text", queryText)
}

// WithCohort returns a logger with cohort_id field.
func WithCohort(cohortID string) *slog.Logger {
	return Logger.With("cohort_id", cohortID)
}

// WithBatch returns a logger with batch_id field.
func WithBatch(batchID int) *slog.Logger {
	return Logger.With("batch_id", batchID)
}
