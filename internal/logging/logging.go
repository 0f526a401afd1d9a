// Package logging wires up the structured logger used across both
// services: JSON by default, a pretty console writer in development, and a
// goroutine panic guard used by every long-running task.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatcore/chatcore/internal/apperr"
)

// New builds a zerolog.Logger for the named service ("chatd" or "authd").
func New(level, format, service string) zerolog.Logger {
	var zl zerolog.Level
	switch level {
	case "debug":
		zl = zerolog.DebugLevel
	case "warn":
		zl = zerolog.WarnLevel
	case "error":
		zl = zerolog.ErrorLevel
	default:
		zl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(zl)

	var output io.Writer = os.Stdout
	if format == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).With().
		Timestamp().
		Caller().
		Str("service", service).
		Logger()
}

// LogError logs err with msg and arbitrary context fields. If err carries
// an apperr cause, it is logged alongside the taxonomy message — the cause
// is never surfaced outside this process, only to the log sink.
func LogError(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	if cause := apperr.CauseOf(err); cause != nil {
		event = event.AnErr("cause", cause)
	}
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// RecoverPanic is deferred at the top of every long-running goroutine so a
// panic is logged instead of taking down the process.
func RecoverPanic(logger zerolog.Logger, goroutineName string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Str("goroutine", goroutineName).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack()))
		for k, v := range fields {
			event = event.Interface(k, v)
		}
		event.Msg("goroutine panic recovered")
	}
}
