// Package logger builds the application's JSON slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options configure the logger.
type Options struct {
	AddSource bool
	Level     string
	// Output defaults to stdout.
	Output io.Writer
}

// New creates a JSON logger and installs it as the slog default.
// An unknown level falls back to info and is reported in the error.
func New(opt *Options) (*slog.Logger, error) {
	if opt == nil {
		return nil, fmt.Errorf("logger options are required")
	}

	out := opt.Output
	if out == nil {
		out = os.Stdout
	}

	level, err := ParseLevel(opt.Level)

	log := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		AddSource: opt.AddSource,
		Level:     level,
	}))
	slog.SetDefault(log)

	return log, err
}

// ParseLevel converts a string level to slog.Level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", level)
	}
}
