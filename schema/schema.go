/*
Package schema provides declarative payload validation.

PURPOSE:
  Request handlers validate inbound JSON against a declarative schema
  (required fields, types, enums, patterns, no extra fields) before any
  domain logic runs. The validator returns a structured error list so the
  API layer can surface every violation at once instead of failing on the
  first one.

DESIGN:
  Schemas are plain values built once at package init by their owning
  domain package (accounts, products, ledger, mappings). Validation is
  stateless and synchronous; payloads are the generic map form produced
  by decoding JSON with json.Number enabled, so integer checks are exact.
*/
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// =============================================================================
// SCHEMA DEFINITION
// =============================================================================

type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
)

// Field describes the constraints on a single payload field.
type Field struct {
	Type     FieldType
	Required bool

	// Enum restricts string fields to a fixed value set.
	Enum []string

	// Pattern restricts string fields to a regular expression.
	Pattern *regexp.Regexp

	// Forbidden marks a field the caller must NOT supply. Used for
	// server-computed fields such as transaction results.
	Forbidden bool

	// Object holds the nested schema for TypeObject fields.
	Object *Schema

	// Items constrains the element type of TypeArray fields.
	Items FieldType
}

// Schema describes the expected shape of a JSON object payload.
type Schema struct {
	Fields map[string]Field

	// AdditionalFields allows fields not listed in Fields. The default
	// (false) mirrors ajv's additionalProperties: false.
	AdditionalFields bool
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// FieldError describes a single schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"` // "missing", "forbidden", "type", "enum", "pattern", "unexpected"
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// =============================================================================
// VALIDATOR
// =============================================================================

// Validate checks payload against the schema and returns every violation
// found. A nil or empty return means the payload is valid.
func (s *Schema) Validate(payload map[string]any) []FieldError {
	var errs []FieldError

	// Deterministic ordering keeps error lists stable for clients and tests.
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := s.Fields[name]
		value, present := payload[name]

		if field.Forbidden {
			if present {
				errs = append(errs, FieldError{name, "forbidden", "field must not be supplied"})
			}
			continue
		}
		if !present {
			if field.Required {
				errs = append(errs, FieldError{name, "missing", "required field is missing"})
			}
			continue
		}
		errs = append(errs, checkValue(name, field, value)...)
	}

	if !s.AdditionalFields {
		extras := make([]string, 0)
		for name := range payload {
			if _, known := s.Fields[name]; !known {
				extras = append(extras, name)
			}
		}
		sort.Strings(extras)
		for _, name := range extras {
			errs = append(errs, FieldError{name, "unexpected", "field is not allowed"})
		}
	}
	return errs
}

func checkValue(name string, field Field, value any) []FieldError {
	switch field.Type {
	case TypeString:
		str, ok := value.(string)
		if !ok {
			return []FieldError{{name, "type", "expected a string"}}
		}
		if len(field.Enum) > 0 && !contains(field.Enum, str) {
			return []FieldError{{name, "enum",
				fmt.Sprintf("must be one of: %s", strings.Join(field.Enum, ", "))}}
		}
		if field.Pattern != nil && !field.Pattern.MatchString(str) {
			return []FieldError{{name, "pattern",
				fmt.Sprintf("must match %s", field.Pattern.String())}}
		}
	case TypeInteger:
		if !isInteger(value) {
			return []FieldError{{name, "type", "expected an integer"}}
		}
	case TypeNumber:
		if !isNumber(value) {
			return []FieldError{{name, "type", "expected a number"}}
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return []FieldError{{name, "type", "expected a boolean"}}
		}
	case TypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return []FieldError{{name, "type", "expected an object"}}
		}
		if field.Object != nil {
			var errs []FieldError
			for _, sub := range field.Object.Validate(obj) {
				sub.Field = name + "." + sub.Field
				errs = append(errs, sub)
			}
			return errs
		}
	case TypeArray:
		arr, ok := value.([]any)
		if !ok {
			return []FieldError{{name, "type", "expected an array"}}
		}
		if field.Items != "" {
			for i, item := range arr {
				if sub := checkValue(fmt.Sprintf("%s[%d]", name, i), Field{Type: field.Items}, item); sub != nil {
					return sub
				}
			}
		}
	}
	return nil
}

func isNumber(value any) bool {
	switch v := value.(type) {
	case json.Number:
		return true
	case float64, int, int64:
		_ = v
		return true
	}
	return false
}

// isInteger accepts json.Number values without a fractional part. Payloads
// are decoded with UseNumber so "10.5" is distinguishable from "10".
func isInteger(value any) bool {
	switch v := value.(type) {
	case json.Number:
		if _, err := v.Int64(); err != nil {
			return false
		}
		return true
	case int, int64:
		return true
	case float64:
		return v == float64(int64(v))
	}
	return false
}

func contains(set []string, value string) bool {
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}
