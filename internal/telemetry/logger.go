package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a configured level string to a slog.Level. It is
// case-insensitive, accepts "warning" as an alias for warn, and falls
// back to info on anything unrecognized.
func ParseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		level = "warn"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// NewLogger builds the process logger writing to stdout. Format "text"
// selects the human-readable handler; anything else gets JSON, the
// shape log pipelines ingest.
func NewLogger(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
