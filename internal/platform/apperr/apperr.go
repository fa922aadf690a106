// Package apperr defines the error taxonomy shared by domain services and
// HTTP handlers. Services return these types; handlers translate them to
// status codes with HTTPStatus.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports rejected input: unsupported procedure type,
// non-positive duration, duplicate patient hash.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validation(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// AuthorizationError reports a role or ownership mismatch.
type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string { return e.Msg }

func Authorization(format string, args ...interface{}) error {
	return &AuthorizationError{Msg: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a durable-store failure. It is fatal for the
// operation that hit it and is never swallowed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func Persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// HTTPStatus maps an error from the taxonomy to its HTTP status code.
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	var (
		ve *ValidationError
		nf *NotFoundError
		ae *AuthorizationError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &ae):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
