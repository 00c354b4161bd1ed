package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds a structured logger with the specified level and format.
// The returned logger is passed explicitly to every component that logs.
func New(level string, useJSON bool) *slog.Logger {
	return NewWithWriter(os.Stdout, level, useJSON)
}

// NewWithWriter is New with a custom destination, used by tests.
func NewWithWriter(w io.Writer, level string, useJSON bool) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true, // Equivalent to log.Lshortfile - adds file and line number
	}

	if useJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// parseLevel converts string log level to slog.Level
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		// Default to Info if invalid level provided
		return slog.LevelInfo
	}
}
