package resource

import "errors"

// Domain errors for the resource package.
var (
	// ErrNotFound is returned by registry lookups that match nothing.
	ErrNotFound = errors.New("resource: not found")

	// ErrReadOnly is returned when a command targets an entity without a
	// command topic.
	ErrReadOnly = errors.New("resource: read-only entity")

	// ErrInvalidValue is returned when an inbound payload cannot be
	// converted to a device value.
	ErrInvalidValue = errors.New("resource: invalid value")
)
