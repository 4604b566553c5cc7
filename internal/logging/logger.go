// Package logging provides the zerolog logger used across the service.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a zerolog.Logger tagged with the service name.
// format "console" switches to a human readable writer for local runs.
func New(service, level, format string) zerolog.Logger {
	return NewTo(os.Stdout, service, level, format)
}

// NewTo is New writing to w. Interactive commands log to stderr so replies
// on stdout stay clean.
func NewTo(w io.Writer, service, level, format string) zerolog.Logger {
	out := w
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).
		Level(ParseLevel(level)).
		With().
		Str("service", service).
		Timestamp().
		Logger()
}

// ParseLevel maps a textual level to zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Nop is a disabled logger for tests and optional dependencies.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// DetachContextWithTimeout returns a context that survives cancellation of
// parent but carries its own deadline. Persistence writes use it so a turn
// abandoned by its caller still completes writes already started.
func DetachContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
