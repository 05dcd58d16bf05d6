/*
Copyright 2026 Herald Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package schema describes the configuration shapes integration providers
// declare for their per-subscription config and site-wide connections. A
// declared Object both validates submitted values and converts to a
// JSON-Schema-like structural description used by the admin UI for preview.
package schema

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type FieldType string

const (
	String  FieldType = "string"
	Number  FieldType = "number"
	Boolean FieldType = "boolean"
	Object  FieldType = "object"
	Array   FieldType = "array"
)

// Field declares a single configuration field. Secret fields are stripped
// from redacted reads of the connection store.
type Field struct {
	Type        FieldType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	Secret      bool      `json:"secret"`
	Enum        []string  `json:"enum,omitempty"`
}

// Shape is a closed set of named fields. Construct with NewShape and the
// Field builder; the field map is never exposed for mutation.
type Shape struct {
	fields map[string]Field
	order  []string
}

func NewShape() *Shape {
	return &Shape{fields: make(map[string]Field)}
}

// Field adds or replaces a named field and returns the shape for chaining.
func (s *Shape) Field(name string, f Field) *Shape {
	if _, exists := s.fields[name]; !exists {
		s.order = append(s.order, name)
	}
	s.fields[name] = f
	return s
}

// FieldNames returns the declared field names in declaration order.
func (s *Shape) FieldNames() []string {
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// SecretFields returns the names of fields marked secret.
func (s *Shape) SecretFields() []string {
	var secrets []string
	for _, name := range s.order {
		if s.fields[name].Secret {
			secrets = append(secrets, name)
		}
	}
	return secrets
}

// Validate checks the submitted values against the declared fields. Unknown
// keys are rejected; required fields must be present and non-empty; enum
// fields must take one of the declared values.
func (s *Shape) Validate(values map[string]interface{}) error {
	errs := validation.Errors{}

	for key := range values {
		if _, ok := s.fields[key]; !ok {
			errs[key] = fmt.Errorf("unknown field")
		}
	}

	for _, name := range s.order {
		field := s.fields[name]
		value, present := values[name]

		if !present || value == nil || value == "" {
			if field.Required {
				errs[name] = fmt.Errorf("cannot be blank")
			}
			continue
		}

		if err := checkType(field.Type, value); err != nil {
			errs[name] = err
			continue
		}

		if len(field.Enum) > 0 {
			allowed := make([]interface{}, len(field.Enum))
			for i, v := range field.Enum {
				allowed[i] = v
			}
			if err := validation.Validate(value, validation.In(allowed...)); err != nil {
				errs[name] = err
			}
		}
	}

	return errs.Filter()
}

func checkType(ft FieldType, value interface{}) error {
	switch ft {
	case String:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("must be a string")
		}
	case Number:
		switch value.(type) {
		case int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("must be a number")
		}
	case Boolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("must be a boolean")
		}
	case Object:
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("must be an object")
		}
	case Array:
		if _, ok := value.([]interface{}); !ok {
			return fmt.Errorf("must be an array")
		}
	}
	return nil
}

// JSONSchema converts the shape to a JSON-Schema-like structural description.
// Secret fields are flagged writeOnly so the UI never echoes them back.
func (s *Shape) JSONSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(s.order))
	var required []string

	for _, name := range s.order {
		field := s.fields[name]
		prop := map[string]interface{}{
			"type": string(field.Type),
		}
		if field.Description != "" {
			prop["description"] = field.Description
		}
		if len(field.Enum) > 0 {
			prop["enum"] = field.Enum
		}
		if field.Secret {
			prop["writeOnly"] = true
		}
		properties[name] = prop
		if field.Required {
			required = append(required, name)
		}
	}

	out := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}
