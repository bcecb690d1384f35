package capability

import (
	"context"

	"ada/internal/errors"
	"ada/internal/logging"
)

// retryingExecutor wraps an Executor with bounded retry on transient failures.
// Errors that survive the retry budget come back as *Error so the engine can
// tell a provider fault from a reasoning fault.
type retryingExecutor struct {
	inner  Executor
	config errors.RetryConfig
	logger logging.Logger
}

// WithRetry wraps exec so transient provider errors are retried with backoff
// before surfacing. Validation errors and other permanent failures pass
// through on the first attempt.
func WithRetry(exec Executor, config errors.RetryConfig, logger logging.Logger) Executor {
	return &retryingExecutor{inner: exec, config: config, logger: logging.OrNop(logger)}
}

func (r *retryingExecutor) Definition() Definition {
	return r.inner.Definition()
}

func (r *retryingExecutor) Execute(ctx context.Context, tenantID string, call Call) (*Result, error) {
	var result *Result
	err := errors.RetryWithLog(ctx, r.config, func(ctx context.Context) error {
		var execErr error
		result, execErr = r.inner.Execute(ctx, tenantID, call)
		return execErr
	}, r.logger)
	if err != nil {
		return nil, &Error{
			Capability: r.inner.Definition().Name,
			Err:        err,
			Retryable:  errors.IsTransient(err),
			Detail:     err.Error(),
		}
	}
	return result, nil
}

// WrapAllWithRetry registers every executor from src into a fresh Registry
// behind the retry wrapper.
func WrapAllWithRetry(src *Registry, config errors.RetryConfig, logger logging.Logger) *Registry {
	wrapped := NewRegistry()
	for _, def := range src.Definitions() {
		exec, _ := src.Get(def.Name)
		wrapped.MustRegister(WithRetry(exec, config, logger))
	}
	return wrapped
}
