package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// JSONSchema validates candidates against a JSON Schema document.
// Validation is delegated to github.com/xeipuuv/gojsonschema, so the
// full draft vocabulary (nested objects, patterns, enums, formats) is
// available.
type JSONSchema struct {
	name     string
	compiled *gojsonschema.Schema
}

// JSON compiles a JSON Schema document into a Schema.
//
// The document may be a JSON string, []byte, json.RawMessage, or any Go
// value that marshals to a JSON Schema (typically map[string]any).
// Returns ErrInvalidSchema if the document cannot be compiled.
//
// Example:
//
//	shape, err := schema.JSON("order", `{
//	    "type": "object",
//	    "required": ["value"],
//	    "properties": {"value": {"type": "number"}}
//	}`)
func JSON(name string, document any) (*JSONSchema, error) {
	compiled, err := gojsonschema.NewSchema(loaderFor(document))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchema, name, err)
	}
	return &JSONSchema{name: name, compiled: compiled}, nil
}

// Name returns the schema name.
func (s *JSONSchema) Name() string {
	return s.name
}

// Parse validates candidate and returns the parsed value: raw JSON text
// is decoded into its Go value, anything else is returned unchanged.
// On failure it returns a *Error listing every violation.
func (s *JSONSchema) Parse(ctx context.Context, candidate any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.compiled.Validate(loaderFor(candidate))
	if err != nil {
		return nil, &Error{
			Schema: s.name,
			Violations: []Violation{{
				Field:       "(root)",
				Type:        "malformed",
				Description: err.Error(),
			}},
		}
	}

	if !result.Valid() {
		verr := &Error{Schema: s.name}
		for _, re := range result.Errors() {
			verr.Violations = append(verr.Violations, Violation{
				Field:       re.Field(),
				Type:        re.Type(),
				Description: re.Description(),
			})
		}
		return nil, verr
	}

	return decodeRaw(candidate)
}

// loaderFor picks the right gojsonschema loader for a value: raw JSON
// text is loaded as-is, everything else goes through Go marshaling.
func loaderFor(v any) gojsonschema.JSONLoader {
	switch doc := v.(type) {
	case string:
		return gojsonschema.NewStringLoader(doc)
	case []byte:
		return gojsonschema.NewBytesLoader(doc)
	case json.RawMessage:
		return gojsonschema.NewBytesLoader(doc)
	default:
		return gojsonschema.NewGoLoader(v)
	}
}

// decodeRaw returns raw JSON text decoded into its Go value; other
// values pass through unchanged.
func decodeRaw(v any) (any, error) {
	var raw []byte
	switch doc := v.(type) {
	case string:
		raw = []byte(doc)
	case []byte:
		raw = doc
	case json.RawMessage:
		raw = doc
	default:
		return v, nil
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return parsed, nil
}

// ObjectSchema is a fluent builder for object shapes. It compiles to a
// JSON Schema document on first use; configure it fully before parsing.
//
// Supported property types: "string", "number", "integer", "boolean",
// "array", "object", "null".
type ObjectSchema struct {
	name       string
	required   []string
	properties map[string]any

	once       sync.Once
	compiled   *JSONSchema
	compileErr error
}

// Object creates a new object-shape builder with the given name.
func Object(name string) *ObjectSchema {
	return &ObjectSchema{
		name:       name,
		properties: make(map[string]any),
	}
}

// Name returns the schema name.
func (s *ObjectSchema) Name() string {
	return s.name
}

// WithRequired sets the required fields, replacing any previous set.
// Returns the builder for chaining.
func (s *ObjectSchema) WithRequired(fields ...string) *ObjectSchema {
	s.required = fields
	return s
}

// WithProperty constrains a field to a JSON type. Returns the builder
// for chaining.
func (s *ObjectSchema) WithProperty(name, typ string) *ObjectSchema {
	s.properties[name] = map[string]any{"type": typ}
	return s
}

// WithPropertySchema constrains a field with an arbitrary JSON Schema
// fragment, for nested or more specific constraints. Returns the
// builder for chaining.
func (s *ObjectSchema) WithPropertySchema(name string, fragment map[string]any) *ObjectSchema {
	s.properties[name] = fragment
	return s
}

// Parse validates candidate against the built shape.
func (s *ObjectSchema) Parse(ctx context.Context, candidate any) (any, error) {
	s.once.Do(func() {
		s.compiled, s.compileErr = JSON(s.name, s.document())
	})
	if s.compileErr != nil {
		return nil, s.compileErr
	}
	return s.compiled.Parse(ctx, candidate)
}

// document builds the JSON Schema document for the configured shape.
func (s *ObjectSchema) document() map[string]any {
	doc := map[string]any{"type": "object"}
	if len(s.required) > 0 {
		// Copy to keep the builder reusable.
		required := make([]string, len(s.required))
		copy(required, s.required)
		sort.Strings(required)
		doc["required"] = required
	}
	if len(s.properties) > 0 {
		props := make(map[string]any, len(s.properties))
		for k, v := range s.properties {
			props[k] = v
		}
		doc["properties"] = props
	}
	return doc
}

// Compile-time interface checks
var (
	_ Schema = (*JSONSchema)(nil)
	_ Schema = (*ObjectSchema)(nil)
)
