// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It wraps zerolog and keeps a printf-style call surface for the rest of the module.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents a logging level
type Level int

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production.
	DebugLevel Level = iota
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual human review.
	WarnLevel
	// ErrorLevel logs are high-priority. If an application is running smoothly, it shouldn't generate any error-level logs.
	ErrorLevel
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel maps a config string to a Level, defaulting to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

var (
	mu     sync.RWMutex
	level  = InfoLevel
	format = "json"
	base   = newLogger(os.Stderr, InfoLevel, "json")
)

func newLogger(w io.Writer, l Level, f string) zerolog.Logger {
	if strings.ToLower(f) == "text" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(l.zerolog()).With().Timestamp().Logger()
}

// Init initializes the default logger with the specified level and format ("json" or "text").
func Init(lvl string, fmtName string) {
	mu.Lock()
	defer mu.Unlock()
	level = ParseLevel(lvl)
	format = fmtName
	base = newLogger(os.Stderr, level, format)
}

// SetOutput redirects the default logger, keeping the current level and format.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = newLogger(w, level, format)
}

// Get returns the underlying zerolog logger for structured fields.
func Get() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// With returns a child logger carrying one string field.
func With(key, value string) zerolog.Logger {
	l := Get()
	return l.With().Str(key, value).Logger()
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	l := Get()
	l.Debug().Msgf(format, args...)
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	l := Get()
	l.Info().Msgf(format, args...)
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	l := Get()
	l.Warn().Msgf(format, args...)
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	l := Get()
	l.Error().Msgf(format, args...)
}

// Fatal logs a message at ErrorLevel and exits
func Fatal(format string, args ...interface{}) {
	l := Get()
	l.WithLevel(zerolog.FatalLevel).Msgf(format, args...)
	os.Exit(1)
}
