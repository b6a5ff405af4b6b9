// Package apperr defines the error taxonomy shared by the messaging core and its transports.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrAccessDenied    = errors.New("access denied")
	// ErrNotVerified is a kind of ErrAccessDenied.
	ErrNotVerified     = fmt.Errorf("%w: verified alumni only", ErrAccessDenied)
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrPersistence     = errors.New("persistence error")
)

// Validation returns ErrValidation with a client-facing detail.
func Validation(detail string) error {
	return fmt.Errorf("%w: %s", ErrValidation, detail)
}

// NotFound returns ErrNotFound naming the missing entity.
func NotFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

// Persistence wraps a store failure; the cause stays reachable through errors.Is/As.
func Persistence(op string, err error) error {
	return &persistenceError{op: op, err: err}
}

type persistenceError struct {
	op  string
	err error
}

func (e *persistenceError) Error() string { return e.op + ": " + e.err.Error() }

func (e *persistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *persistenceError) Unwrap() error { return e.err }

// Message returns the text sent to the client in an error event or response.
// Persistence details never leave the process.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPersistence):
		return "failed to save, try again"
	case errors.Is(err, ErrUnauthenticated):
		return "join_user required"
	case errors.Is(err, ErrNotVerified):
		return "Access denied. Verified alumni only."
	case errors.Is(err, ErrAccessDenied),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound):
		return err.Error()
	default:
		return "internal error"
	}
}

// HTTPStatus maps an error of the taxonomy to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotVerified), errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Kind is a short label of the error class, used for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrNotVerified):
		return "not_verified"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "internal"
	}
}
