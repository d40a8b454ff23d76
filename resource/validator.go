package resource

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pithecene-io/de1gate/types"
)

// ValidationError is returned when a request body is rejected.
type ValidationError struct {
	Resource ID
	Msg      string
	Err      error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Resource, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Resource, e.Msg)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError returns true if err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Patch is a validated request body.
type Patch struct {
	// Payload is the decoded JSON document. Nil for binary uploads.
	Payload any
	// Raw is the unparsed body of a PUT to a binary resource.
	Raw []byte
	// Preconditions is the union of the resource's static and write sets
	// and the sets implied by the fields present.
	Preconditions types.PreconditionSet
}

// Validator checks request bodies against per-resource JSON Schemas.
type Validator struct {
	registry *Registry
	schemas  map[ID]*jsonschema.Schema
}

// NewValidator compiles the schema of every patchable resource.
func NewValidator(registry *Registry) (*Validator, error) {
	schemas := make(map[ID]*jsonschema.Schema)
	for _, e := range registry.Entries() {
		if e.schema == "" {
			continue
		}
		url := strings.ReplaceAll(string(e.ID), "/", "_") + ".json"
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(url, strings.NewReader(e.schema)); err != nil {
			return nil, fmt.Errorf("add schema resource for %q: %w", e.ID, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %q: %w", e.ID, err)
		}
		schemas[e.ID] = compiled
	}
	return &Validator{registry: registry, schemas: schemas}, nil
}

// Validate decodes a method body for id and returns the validated patch.
// Only PUT on a binary resource skips JSON decoding.
func (v *Validator) Validate(id ID, method types.Method, body []byte) (*Patch, error) {
	entry, ok := v.registry.entries[id]
	if !ok {
		return nil, &ValidationError{Resource: id, Msg: "unrecognized resource"}
	}

	if entry.Binary && method == types.MethodPut {
		if len(body) == 0 {
			return nil, &ValidationError{Resource: id, Msg: "empty body"}
		}
		return &Patch{Raw: body, Preconditions: entry.Preconditions.Union(entry.WritePreconditions)}, nil
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&doc); err != nil {
		return nil, &ValidationError{Resource: id, Msg: "invalid JSON", Err: err}
	}
	if dec.More() {
		return nil, &ValidationError{Resource: id, Msg: "invalid JSON: trailing data after document"}
	}

	if schema, ok := v.schemas[id]; ok {
		if err := schema.Validate(doc); err != nil {
			return nil, &ValidationError{Resource: id, Msg: "schema validation failed", Err: err}
		}
	} else if _, isObject := doc.(map[string]any); !isObject {
		return nil, &ValidationError{Resource: id, Msg: "body must be a JSON object"}
	}

	pre := entry.Preconditions.Union(entry.WritePreconditions)
	if fields, ok := doc.(map[string]any); ok {
		for field := range fields {
			if extra, ok := entry.fieldPreconditions[field]; ok {
				pre = pre.Union(extra)
			}
		}
	}
	return &Patch{Payload: doc, Preconditions: pre}, nil
}
