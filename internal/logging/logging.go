// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging wraps charmbracelet/log behind the small surface the
// rest of this module's constructors expect: logging.New(cfg), a nil
// logger falling back to logging.DefaultConfig(), and leveled methods
// taking a message plus alternating key/value pairs.
package logging

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Config controls logger construction.
type Config struct {
	Level     string // debug, info, warn, error
	Prefix    string
	TimeStamp bool
}

// DefaultConfig returns the default logging configuration: info level,
// a "k2rule" prefix, timestamps on.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Prefix:    "k2rule",
		TimeStamp: true,
	}
}

// Logger is a structured logger used throughout the module's
// constructors (cache.Open, cache.FromBytes, remote.New, ...).
type Logger struct {
	inner *charmlog.Logger
}

// New creates a Logger from cfg, writing to stderr.
func New(cfg Config) *Logger {
	opts := charmlog.Options{
		ReportTimestamp: cfg.TimeStamp,
		Prefix:          cfg.Prefix,
	}
	l := charmlog.NewWithOptions(os.Stderr, opts)
	l.SetLevel(parseLevel(cfg.Level))
	return &Logger{inner: l}
}

func parseLevel(s string) charmlog.Level {
	switch s {
	case "debug":
		return charmlog.DebugLevel
	case "warn":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// OrDefault returns l if non-nil, otherwise a logger built from
// DefaultConfig(). Component constructors use this so a nil *Logger
// argument never panics.
func OrDefault(l *Logger) *Logger {
	if l != nil {
		return l
	}
	return New(DefaultConfig())
}

// Debug logs at debug level with alternating key/value pairs.
func (l *Logger) Debug(msg string, keyvals ...any) { l.inner.Debug(msg, keyvals...) }

// Info logs at info level with alternating key/value pairs.
func (l *Logger) Info(msg string, keyvals ...any) { l.inner.Info(msg, keyvals...) }

// Warn logs at warn level with alternating key/value pairs.
func (l *Logger) Warn(msg string, keyvals ...any) { l.inner.Warn(msg, keyvals...) }

// Error logs at error level with alternating key/value pairs.
func (l *Logger) Error(msg string, keyvals ...any) { l.inner.Error(msg, keyvals...) }

// With returns a child Logger with persistent key/value pairs attached,
// mirroring charmlog.Logger.With.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{inner: l.inner.With(keyvals...)}
}
