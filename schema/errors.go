package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidDocument is returned (wrapped in a *Error) when a
	// candidate does not conform to a schema.
	ErrInvalidDocument = errors.New("schema: document does not conform")

	// ErrInvalidSchema is returned when a schema document itself
	// cannot be compiled.
	ErrInvalidSchema = errors.New("schema: invalid schema document")
)

// Violation describes a single failed constraint.
type Violation struct {
	// Field is the location of the violation within the document,
	// e.g. "total" or "items.0.sku". "(root)" refers to the document
	// itself.
	Field string

	// Type is the failed constraint, e.g. "required" or "invalid_type".
	Type string

	// Description is a human-readable explanation.
	Description string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Description)
}

// Error is the structured validation failure returned by Parse.
// It wraps ErrInvalidDocument so callers can use errors.Is without
// caring about the concrete type.
type Error struct {
	// Schema is the name of the schema the candidate failed against.
	Schema string

	// Violations lists every failed constraint.
	Violations []Violation
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("schema %q: %d violation(s): %s", e.Schema, len(e.Violations), strings.Join(parts, "; "))
}

func (e *Error) Unwrap() error {
	return ErrInvalidDocument
}

// IsValidation reports whether err is (or wraps) a schema validation
// failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidDocument)
}
