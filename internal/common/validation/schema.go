package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// MapAttributesSchema describes the attributes of a map saved object. Only the
// shape is checked here; the serialized fields are parsed by the reference codec.
const MapAttributesSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["title"],
	"properties": {
		"title":         {"type": "string", "minLength": 1, "maxLength": 1024},
		"description":   {"type": "string"},
		"layerListJSON": {"type": "string"},
		"mapStateJSON":  {"type": "string"},
		"uiStateJSON":   {"type": "string"}
	},
	"additionalProperties": true
}`

var mapAttributesSchema = mustSchema(MapAttributesSchema)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func mustSchema(source string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return schema
}

// CompileSchema compiles a JSON schema document.
func CompileSchema(source string) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
}

// ValidateMapAttributes validates saved map attributes.
func ValidateMapAttributes(attrs map[string]interface{}) *ValidationResult {
	return Validate(mapAttributesSchema, attrs)
}

// Validate checks doc against schema and flattens the result.
func Validate(schema *gojsonschema.Schema, doc interface{}) *ValidationResult {
	if doc == nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "(root)",
				Message: "document is required",
				Code:    "REQUIRED_FIELD_MISSING",
			}},
		}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "(root)",
				Message: err.Error(),
				Code:    "SCHEMA_ERROR",
			}},
		}
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   fieldName(desc),
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return out
}

// fieldName reports the missing property for "required" errors, which
// gojsonschema attaches to the parent object.
func fieldName(desc gojsonschema.ResultError) string {
	field := desc.Field()
	if desc.Type() == "required" {
		if property, ok := desc.Details()["property"].(string); ok {
			if field == "(root)" || field == "" {
				return property
			}
			return field + "." + property
		}
	}
	return field
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

// GetErrorsForField returns errors for a specific field
func (vr *ValidationResult) GetErrorsForField(field string) []ValidationError {
	var fieldErrors []ValidationError
	for _, err := range vr.Errors {
		if err.Field == field || strings.HasPrefix(err.Field, field+".") || strings.HasPrefix(err.Field, field+"[") {
			fieldErrors = append(fieldErrors, err)
		}
	}
	return fieldErrors
}
