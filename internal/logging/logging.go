package logging

import (
	"log/slog"
	"os"
)

// Logger is the application logger. It wraps slog so call sites pass a
// message followed by alternating key/value pairs.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger writing structured text to stdout.
func NewLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}
}

// NewJSONLogger creates a Logger writing JSON records to stdout, for
// deployments that ship logs to an aggregator.
func NewJSONLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewJSONHandler(os.Stdout, nil)),
	}
}

// With returns a Logger that includes the given attributes on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
