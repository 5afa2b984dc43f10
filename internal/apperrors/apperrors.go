// Package apperrors holds the error taxonomy shared by the booking engine,
// the rating recorder and the HTTP layer. Callers wrap one of the sentinels
// with context and match with errors.Is.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks malformed or missing input. No state was changed.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a referenced booking or rating that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a failed precondition on current state.
	ErrConflict = errors.New("conflict")
	// ErrForbidden marks an actor acting on a booking it does not own.
	ErrForbidden = errors.New("forbidden")
	// ErrDependency marks an unreachable store or provider. Safe to retry.
	ErrDependency = errors.New("dependency unavailable")
)

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// Dependency wraps err from a store or provider call.
func Dependency(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDependency, op, err)
}

// StatusCode maps an error to the HTTP status the API reports for it.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrDependency):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Message returns the client-facing text for err. Unclassified errors are
// masked.
func Message(err error) string {
	if StatusCode(err) >= http.StatusInternalServerError && !errors.Is(err, ErrDependency) {
		return "internal error"
	}
	return err.Error()
}
