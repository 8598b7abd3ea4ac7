package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New creates a console slog.Logger at the provided level string.
func New(level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: levelFromString(level),
	})
	return slog.New(handler)
}

// Component returns a child logger tagged for one pipeline component.
func Component(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = New("info")
	}
	return base.With("component", name)
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
