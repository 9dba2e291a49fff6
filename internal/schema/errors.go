package schema

import (
	"errors"
	"fmt"
)

// ErrInvalidSchema is the sentinel wrapped by every *Error.
var ErrInvalidSchema = errors.New("schema: invalid schema")

// Error describes a schema problem that prevents loading. It is fatal at
// startup.
type Error struct {
	Line   int
	Key    string
	Reason string
}

func (e *Error) Error() string {
	switch {
	case e.Line > 0 && e.Key != "":
		return fmt.Sprintf("schema: line %d (%s): %s", e.Line, e.Key, e.Reason)
	case e.Line > 0:
		return fmt.Sprintf("schema: line %d: %s", e.Line, e.Reason)
	case e.Key != "":
		return fmt.Sprintf("schema: %s: %s", e.Key, e.Reason)
	default:
		return "schema: " + e.Reason
	}
}

// Unwrap lets errors.Is(err, ErrInvalidSchema) match.
func (e *Error) Unwrap() error {
	return ErrInvalidSchema
}
