package validate

import (
	"errors"
	"fmt"
)

// ErrDenied marks an authorization failure inside diff validation. Callers
// distinguish it from schema errors with errors.Is.
var ErrDenied = errors.New("not authorized")

// Kind classifies a schema validation failure.
type Kind int

const (
	// TypeMismatch is a value whose runtime shape disagrees with its field.
	TypeMismatch Kind = iota
	// MissingField is a declared map key absent from the value.
	MissingField
	// InvalidField wraps a failure inside a named map entry.
	InvalidField
	// InvalidElement wraps a failure inside a list element.
	InvalidElement
)

// Error is a schema validation failure. Nested failures wrap, so the full
// path from the container root to the offending value is reconstructable by
// unwrapping.
type Error struct {
	Kind  Kind
	Field string // map key or list element index
	Want  string
	Got   string
	Err   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case TypeMismatch:
		if e.Field != "" {
			return fmt.Sprintf("field %q: expected %s, got %s", e.Field, e.Want, e.Got)
		}
		return fmt.Sprintf("expected %s, got %s", e.Want, e.Got)
	case MissingField:
		return fmt.Sprintf("missing field %q", e.Field)
	case InvalidField:
		return fmt.Sprintf("field %q: %v", e.Field, e.Err)
	case InvalidElement:
		return fmt.Sprintf("element %s: %v", e.Field, e.Err)
	}
	return "schema validation failed"
}

func (e *Error) Unwrap() error { return e.Err }

func mismatch(field, want, got string) *Error {
	return &Error{Kind: TypeMismatch, Field: field, Want: want, Got: got}
}
