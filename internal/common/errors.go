// Package common defines the shared error taxonomy used across the service.
// Sentinel values are matched with errors.Is, structured errors with
// errors.As; the HTTP layer translates them into status codes.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")
)

// ValidationError reports a malformed input field. Msg is safe to return
// to the caller verbatim.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// ConflictError reports a uniqueness-constraint violation. Field names the
// colliding column ("username" or "email") when known.
type ConflictError struct {
	Field string
	Msg   string
}

func (e *ConflictError) Error() string {
	return e.Msg
}
