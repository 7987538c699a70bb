// Package apperr defines the error kinds surfaced to callers of the hub.
// Packages wrap these sentinels with context; the HTTP layer maps them to
// status codes with errors.Is.
package apperr

import "errors"

var (
	// ErrInvalid marks a request that is malformed or missing required data.
	ErrInvalid = errors.New("invalid request")
	// ErrNotFound marks a reference to an unknown session, user or mission.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a request that collides with existing state.
	ErrConflict = errors.New("conflict")
)
