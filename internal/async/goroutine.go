package async

import "runtime/debug"

// PanicLogger receives reports from recovered background panics. The
// logging package's component loggers satisfy it.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go starts fn on its own goroutine with panic recovery attached. scope
// names the work in the panic report, e.g. "http server".
func Go(logger PanicLogger, scope string, fn func()) {
	go func() {
		defer Recover(logger, scope)
		fn()
	}()
}

// Recover is deferred at the top of long-lived goroutines so a panic in
// one unit of background work cannot take the process down. The report
// carries the scope, the panic value, and the stack.
func Recover(logger PanicLogger, scope string) {
	r := recover()
	if r == nil || logger == nil {
		return
	}
	if scope == "" {
		logger.Error("recovered panic: %v\n%s", r, debug.Stack())
		return
	}
	logger.Error("recovered panic in %s: %v\n%s", scope, r, debug.Stack())
}
