package app

import (
	"io"
	"log/slog"
)

// newLogger builds the process-wide logger without touching slog's global
// default, so concurrent App instances stay isolated. The pipeline is a
// terminal tool first: anything but an explicit "json" gets the text
// handler, and an unrecognized level falls back to info rather than
// failing startup.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(levelStr)}
	if formatStr == "json" {
		return slog.New(slog.NewJSONHandler(outW, opts))
	}
	return slog.New(slog.NewTextHandler(outW, opts))
}

func parseLevel(levelStr string) slog.Level {
	switch levelStr {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
