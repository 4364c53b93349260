// Package logger provides the process-wide zerolog logger, configured once
// from internal/config and shared by every other package.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
)

// Options configures the global logger. Zero value yields an info-level
// console writer on stdout, matching local-dev defaults.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // "json" or "console"
	Output io.Writer
}

// Init initializes the default logger. Safe to call multiple times; only the
// first call takes effect.
func Init(opts Options) {
	once.Do(func() {
		out := opts.Output
		if out == nil {
			out = os.Stdout
		}

		var w io.Writer = out
		if opts.Format != "json" {
			w = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
		}

		level, err := zerolog.ParseLevel(opts.Level)
		if err != nil || opts.Level == "" {
			level = zerolog.InfoLevel
		}

		defaultLogger = zerolog.New(w).Level(level).With().Timestamp().Logger()
		defaultLogger.Debug().Msg("logger initialized")
	})
}

// Get returns the global logger, initializing it with defaults if Init was
// never called explicitly.
func Get() *zerolog.Logger {
	once.Do(func() {
		defaultLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).
			Level(zerolog.InfoLevel).With().Timestamp().Logger()
	})
	return &defaultLogger
}

// With returns a child logger with the given component name attached, used
// by subsystems (scheduler, server, lifecycle engine) to tag their lines.
func With(component string) zerolog.Logger {
	return Get().With().Str("component", component).Logger()
}
