package logging

import (
	"fmt"
	"reflect"
	"sync"

	"ada/internal/observability"
)

// Logger defines a minimal, printf-style logging contract. Components depend
// on this interface rather than a concrete logger so tests can swap in Nop.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

var (
	rootOnce sync.Once
	root     *observability.Logger
)

// SetRoot installs the process-wide structured logger backing component
// loggers. Calling it after the first component logger was created has no
// effect.
func SetRoot(logger *observability.Logger) {
	rootOnce.Do(func() { root = logger })
}

func rootLogger() *observability.Logger {
	rootOnce.Do(func() {
		root = observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})
	})
	return root
}

type printfLogger struct {
	logger *observability.Logger
}

// NewComponentLogger returns the default application logger scoped to a
// component, preserving printf-style call sites by formatting the message
// before emitting it.
func NewComponentLogger(component string) Logger {
	scoped := rootLogger()
	if component != "" {
		scoped = scoped.With("component", component)
	}
	return &printfLogger{logger: scoped}
}

func (l *printfLogger) Debug(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *printfLogger) Info(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *printfLogger) Warn(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *printfLogger) Error(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
