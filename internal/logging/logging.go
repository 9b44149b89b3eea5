// Package logging sets up the slog loggers used by the engine and the CLI.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// levelOff sits above every standard level.
const levelOff = slog.Level(100)

// NewLogger creates a text logger writing records at or above level to w.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewDiscardLogger creates a logger that drops everything. Library code
// defaults to it so an embedded engine stays silent.
func NewDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: levelOff}))
}

// LevelFromString converts debug, info, warn or error (any case) to a
// slog.Level. "off" disables logging; anything else is info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "off", "none":
		return levelOff
	default:
		return slog.LevelInfo
	}
}
