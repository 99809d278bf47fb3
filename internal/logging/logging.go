// Package logging builds the diagnostic logger. Output always goes to a
// writer other than stdout, which carries the MCP stdio transport.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LevelSilent is above every standard level and suppresses all output.
const LevelSilent = slog.Level(100)

// New creates a text logger writing to w at level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ParseLevel converts debug, info, warn or error (case-insensitive) to a level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// EffectiveLevel applies CLI flags over the configured level: quiet wins,
// then verbose, then configured.
func EffectiveLevel(configured slog.Level, verbose, quiet bool) slog.Level {
	switch {
	case quiet:
		return LevelSilent
	case verbose:
		return slog.LevelDebug
	}
	return configured
}
