// Package jsonschema compiles JSON Schema documents once and
// validates payloads against them repeatedly, reporting every
// violation with its instance location.
package jsonschema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Violation is a single schema failure at a JSON Pointer location.
type Violation struct {
	Location string
	Message  string
}

// String renders the violation as "location: message".
func (v Violation) String() string {
	if v.Location == "" {
		return v.Message
	}
	return v.Location + ": " + v.Message
}

// Schema is a compiled JSON Schema, safe for concurrent validation.
type Schema struct {
	compiled *jsonschema.Schema
}

// Compile parses and compiles a schema document.
func Compile(schemaJSON string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{compiled: compiled}, nil
}

// Validate checks document against the schema. An empty slice means
// the document conforms. A non-nil error means the document itself was
// not valid JSON, which is a different failure than a violation.
func (s *Schema) Validate(document string) ([]Violation, error) {
	var data interface{}
	if err := json.Unmarshal([]byte(document), &data); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	err := s.compiled.Validate(data)
	if err == nil {
		return nil, nil
	}

	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		return flatten(ve), nil
	}
	return []Violation{{Message: err.Error()}}, nil
}

// Validate is the one-shot form: compile and validate in one call.
func Validate(document, schemaJSON string) ([]Violation, error) {
	schema, err := Compile(schemaJSON)
	if err != nil {
		return nil, err
	}
	return schema.Validate(document)
}

// flatten walks the cause tree depth-first, preferring leaf causes:
// the root "doesn't validate" message only appears when the library
// gives nothing more specific.
func flatten(err *jsonschema.ValidationError) []Violation {
	if len(err.Causes) == 0 {
		return []Violation{{
			Location: err.InstanceLocation,
			Message:  err.Message,
		}}
	}

	var out []Violation
	for _, cause := range err.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}
