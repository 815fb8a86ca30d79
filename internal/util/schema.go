package util

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError represents parameter validation errors with detailed information.
type ValidationError struct {
	Field   string `json:"field"`   // Field that failed validation
	Value   any    `json:"value"`   // Value that was provided
	Message string `json:"message"` // Human-readable error message
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateParameters validates decoded JSON arguments against the minimal
// JSON schema subset used for tool parameters: required, properties.type,
// properties.enum, array items.type and additionalProperties=false.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	if schema == nil {
		return nil
	}

	for _, fieldName := range RequiredFields(schema) {
		if _, exists := params[fieldName]; !exists {
			return &ValidationError{
				Field:   fieldName,
				Message: "required field is missing",
			}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	closed := false
	if ap, ok := schema["additionalProperties"].(bool); ok && !ap {
		closed = true
	}

	// Deterministic order keeps error messages stable.
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, fieldName := range names {
		value := params[fieldName]
		propSchema, exists := properties[fieldName]
		if !exists {
			if closed {
				return &ValidationError{Field: fieldName, Value: value, Message: "unexpected field"}
			}
			continue
		}

		propMap, ok := propSchema.(map[string]any)
		if !ok {
			continue
		}

		if err := validateValue(fieldName, value, propMap); err != nil {
			return err
		}
	}

	return nil
}

func validateValue(field string, value any, propMap map[string]any) error {
	expectedType, _ := propMap["type"].(string)
	if !isValidType(value, expectedType) {
		return &ValidationError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("expected type %s, got %s", expectedType, jsonTypeName(value)),
		}
	}

	if enum, ok := propMap["enum"].([]any); ok && isScalar(value) {
		found := false
		for _, e := range enum {
			if e == value {
				found = true
				break
			}
		}
		if !found {
			return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf("value must be one of %v", enum)}
		}
	}

	if expectedType == "array" {
		items, _ := propMap["items"].(map[string]any)
		itemType, _ := items["type"].(string)
		arr, _ := value.([]any)
		for i, item := range arr {
			if !isValidType(item, itemType) {
				return &ValidationError{
					Field:   fmt.Sprintf("%s[%d]", field, i),
					Value:   item,
					Message: fmt.Sprintf("expected type %s, got %s", itemType, jsonTypeName(item)),
				}
			}
		}
	}

	return nil
}

// RequiredFields extracts the required list from a schema, accepting both
// []string (built in Go) and []any (decoded from JSON).
func RequiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// DescribeSchema renders the expected argument shape for error messages
// returned to the model, e.g. "{query: string (required), max_results: integer}".
func DescribeSchema(schema map[string]any) string {
	properties, _ := schema["properties"].(map[string]any)
	if len(properties) == 0 {
		return "{}"
	}
	required := map[string]bool{}
	for _, r := range RequiredFields(schema) {
		required[r] = true
	}
	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		typ := "any"
		if pm, ok := properties[name].(map[string]any); ok {
			if t, ok := pm["type"].(string); ok {
				typ = t
			}
			if items, ok := pm["items"].(map[string]any); ok && typ == "array" {
				if t, ok := items["type"].(string); ok {
					typ = "array of " + t
				}
			}
		}
		if required[name] {
			typ += " (required)"
		}
		parts = append(parts, name+": "+typ)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// isValidType checks if a value is valid according to the expected JSON schema type.
func isValidType(value any, expectedType string) bool {
	if value == nil {
		return true // nil is valid for any type
	}

	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64: // JSON unmarshaling produces float64 for numbers
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		switch value.(type) {
		case []any, []string:
			return true
		}
		return false
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true // Unknown types are assumed valid
	}
}

func jsonTypeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "number"
	case []any, []string:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func isScalar(value any) bool {
	switch value.(type) {
	case string, bool, float64, float32, int, int64:
		return true
	}
	return false
}
