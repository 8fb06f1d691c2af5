package security

import "errors"

var (
	// ErrNotFound indicates a referenced group, user or named group definition does not exist.
	ErrNotFound = errors.New("security: not found")
	// ErrInvalidState indicates the principal cannot be compiled into a session, e.g. it has no group.
	ErrInvalidState = errors.New("security: invalid state")
	// ErrMalformedTarget indicates a permission target that cannot be interpreted.
	ErrMalformedTarget = errors.New("security: malformed permission target")
	// ErrUnknownEntity indicates a permission or constraint references an entity that is not registered.
	ErrUnknownEntity = errors.New("security: unknown entity")
	// ErrNoUserSession indicates the session registry has no session with the given id.
	ErrNoUserSession = errors.New("security: no user session")
)
