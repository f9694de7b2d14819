package llm

import (
	"errors"
	"fmt"
)

// dependencyUnavailableError signals a missing runtime (e.g., llama.cpp not
// compiled in) so the HTTP layer can return 503 instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}

// StatusError is a non-2xx reply from an HTTP backend.
type StatusError struct {
	Backend string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s http error: %d: %s", e.Backend, e.Code, e.Body)
}

// IsModelNotFound reports whether the backend rejected the model identifier.
func IsModelNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == 404
}
