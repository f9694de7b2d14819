package chat

import (
	"errors"
	"net/http"
)

// modelInvocationError wraps a failed backend call.
type modelInvocationError struct {
	modelID string
	err     error
}

func (e *modelInvocationError) Error() string {
	return "model invocation failed for " + e.modelID + ": " + e.err.Error()
}

func (e *modelInvocationError) Unwrap() error { return e.err }

func (e *modelInvocationError) StatusCode() int { return http.StatusBadGateway }

// ErrModelInvocation wraps err as a model invocation failure.
func ErrModelInvocation(modelID string, err error) error {
	return &modelInvocationError{modelID: modelID, err: err}
}

// IsModelInvocation reports whether err is a backend failure.
func IsModelInvocation(err error) bool {
	var e *modelInvocationError
	return errors.As(err, &e)
}

// memoryAccessError wraps a failure reading or writing the log or index.
type memoryAccessError struct {
	modelID string
	op      string
	err     error
}

func (e *memoryAccessError) Error() string {
	return "memory " + e.op + " failed for " + e.modelID + ": " + e.err.Error()
}

func (e *memoryAccessError) Unwrap() error { return e.err }

func (e *memoryAccessError) StatusCode() int { return http.StatusInternalServerError }

// ErrMemoryAccess wraps err as a memory failure during op (load, recall, save, reset).
func ErrMemoryAccess(modelID, op string, err error) error {
	return &memoryAccessError{modelID: modelID, op: op, err: err}
}

// IsMemoryAccess reports whether err is a log or index failure.
func IsMemoryAccess(err error) bool {
	var e *memoryAccessError
	return errors.As(err, &e)
}

// tooBusyError signals admission timeout or overflow for 429 mapping.
type tooBusyError struct{ modelID string }

func (e tooBusyError) Error() string { return "too busy: " + e.modelID }

func (e tooBusyError) StatusCode() int { return http.StatusTooManyRequests }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}
