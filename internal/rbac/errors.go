package rbac

import "errors"

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrInvalidPrincipal is returned when a check names no existing principal.
	ErrInvalidPrincipal = errors.New("rbac: invalid principal")
	// ErrInvalidInput reports a malformed role or permission payload.
	ErrInvalidInput = errors.New("rbac: invalid input")
)
