// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Level   string // debug | info | warn | error
	Format  string // text | json
	Verbose bool   // forces debug
	Output  io.Writer
}

// ParseLevel accepts the levels exposed in configuration.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unsupported log level %q (must be one of: debug, info, warn, error)", s)
	}
}

// New builds a logger without touching global state.
func New(opts Options) (zerolog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	w := opts.Output
	if w == nil {
		w = os.Stderr
	}
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "text":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unsupported log format %q (must be one of: text, json)", opts.Format)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// Init installs the logger as the global zerolog logger.
func Init(opts Options) (zerolog.Logger, error) {
	logger, err := New(opts)
	if err != nil {
		return logger, err
	}
	zerolog.SetGlobalLevel(logger.GetLevel())
	log.Logger = logger
	return logger, nil
}
