// Package logger provides a structured, module-aware logging system built on Go's standard log/slog.
//
// A single CentralLogger is built from configuration at startup and installed
// with SetGlobal. Packages obtain a module-scoped logger through
// logger.Global().Module("name"), usually wrapped in a package level
// GetLogger function:
//
//	func GetLogger() logger.Logger {
//	    return logger.Global().Module("ledger")
//	}
//
// Console output is human-readable text, file output is JSON:
//
//	logging:
//	  default_level: "info"
//	  console:
//	    enabled: true
//	    level: "info"
//	  file_output:
//	    enabled: true
//	    path: "logs/ecoscout.log"
//	    level: "debug"
//	  module_levels:
//	    ledger: "trace"
//
// Fields are built with the typed constructors (String, Int, Float64,
// Error, Duration, ...) rather than formatted into the message.
package logger

import (
	"context"
	"io"
	"log/slog"
	"time"
	"unique"
)

// Field represents a structured log field.
// Keys are interned with unique.Make so repeated keys share one allocation.
type Field struct {
	Key   string
	Value any
}

func internKey(key string) string {
	return unique.Make(key).Value()
}

var (
	errorKey   = internKey("error")
	moduleKey  = internKey("module")
	traceIDKey = internKey("trace_id")
)

// Logger is the centralized logging interface for dependency injection
type Logger interface {
	// Module returns a logger scoped to a specific module
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger

	// Flush ensures all buffered logs are written
	Flush() error
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int creates an integer field.
func Int(key string, value int) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int64 creates a 64-bit integer field.
func Int64(key string, value int64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Float64 creates a 64-bit float field.
func Float64(key string, value float64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Bool creates a boolean field.
func Bool(key string, value bool) Field {
	return Field{Key: internKey(key), Value: value}
}

// Error creates an error field. The key is always "error"; a nil error yields a nil value.
//
//	if err := store.Remove(name); err != nil {
//	    log.Warn("failed to remove media file",
//	        logger.String("file", name),
//	        logger.Error(err))
//	}
func Error(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: nil}
	}
	return Field{Key: errorKey, Value: err.Error()}
}

// Duration creates a duration field rendered as a human-readable string ("1.5s").
func Duration(key string, value time.Duration) Field {
	return Field{Key: internKey(key), Value: value}
}

// Any creates a field with any JSON-serializable value.
// Prefer the typed constructors for simple values.
func Any(key string, value any) Field {
	return Field{Key: internKey(key), Value: value}
}

// NewSlogLogger creates a standalone text Logger at level ("trace" through
// "error") writing to w; a nil writer discards output. Tests and code that
// runs before the central logger exists use it.
func NewSlogLogger(w io.Writer, level string) Logger {
	if w == nil {
		w = io.Discard
	}
	slogLevel := parseLogLevel(level)
	return &moduleLogger{
		logger: slog.New(newTextHandler(w, slogLevel, time.UTC)),
		level:  slogLevel,
	}
}
