package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Default is the process-wide base logger. Component loggers derive from it.
var Default = New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stderr)

// New builds a slog logger writing to w. level is one of debug|info|warn|error
// (info when empty or unknown); format "json" selects the JSON handler.
func New(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if w == nil {
		w = os.Stderr
	}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetDefault replaces the base logger. Component loggers created afterwards
// pick up the new configuration.
func SetDefault(l *slog.Logger) {
	if l != nil {
		Default = l
	}
}

// NewComponentLogger returns a logger tagged with the given component name.
func NewComponentLogger(component string) *slog.Logger {
	return Default.With("component", component)
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
