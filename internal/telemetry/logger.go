// Package telemetry centralizes the slog.Logger setup the teacher
// otherwise inlines directly in cmd/agentwarden/main.go's runStart.
// Factored out into its own package; in cmd/swarmwardend only the start
// command builds a logger with it.
package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// Options controls logger construction.
type Options struct {
	// Level is one of "debug", "info", "warn", "error"; unrecognized or
	// empty defaults to info, matching the teacher's switch fallthrough.
	Level string
	// JSON selects slog.NewJSONHandler for production deployments;
	// false selects slog.NewTextHandler, matching the teacher's --dev
	// behavior of human-readable text output.
	JSON bool
}

// NewLogger builds a slog.Logger writing to stdout per opts.
func NewLogger(opts Options) *slog.Logger {
	level := parseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	}
	return slog.New(handler)
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
