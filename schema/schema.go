// Package schema describes payload shapes and validates candidate
// values against them.
//
// The dispatch core depends only on the Schema interface: give it a
// candidate value, get back the parsed value or a structured failure.
// Two implementations are provided:
//
//   - JSON: full JSON Schema validation backed by
//     github.com/xeipuuv/gojsonschema
//   - Object: a fluent object-shape builder that compiles down to a
//     JSON Schema document
//
// Example:
//
//	shape := schema.Object("order").
//	    WithRequired("order_id", "total").
//	    WithProperty("order_id", "string").
//	    WithProperty("total", "number")
//
//	parsed, err := shape.Parse(ctx, payload)
//	if err != nil {
//	    var verr *schema.Error
//	    if errors.As(err, &verr) {
//	        // inspect verr.Violations
//	    }
//	}
package schema

import "context"

// Schema describes a value shape and validates candidates against it.
//
// Implementations must be safe for concurrent use after construction.
type Schema interface {
	// Name identifies the shape, used in failure detail.
	Name() string

	// Parse validates candidate against the shape and returns the
	// parsed value. On failure it returns a *Error describing every
	// violation.
	Parse(ctx context.Context, candidate any) (any, error)
}

// Valid reports whether candidate conforms to s.
func Valid(ctx context.Context, s Schema, candidate any) bool {
	_, err := s.Parse(ctx, candidate)
	return err == nil
}

// anySchema accepts every candidate unchanged.
type anySchema struct{}

func (anySchema) Name() string { return "any" }

func (anySchema) Parse(ctx context.Context, candidate any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return candidate, nil
}

// Any returns a schema that accepts every candidate unchanged.
func Any() Schema {
	return anySchema{}
}
