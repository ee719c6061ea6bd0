// Package validation checks funnel field updates against per-field JSON
// schema fragments and provides the format checks used by step predicates.
package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const (
	CodeExtraField   = "EXTRA_FIELD"
	CodeInvalidValue = "INVALID_VALUE"
)

// FieldValidator holds one compiled schema per known field name.
type FieldValidator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewFieldValidator compiles the field schema fragments of a flow.
func NewFieldValidator(fields map[string]string) (*FieldValidator, error) {
	v := &FieldValidator{schemas: make(map[string]*gojsonschema.Schema, len(fields))}
	for name, fragment := range fields {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(fragment))
		if err != nil {
			return nil, fmt.Errorf("field %s: invalid schema: %w", name, err)
		}
		v.schemas[name] = schema
	}
	return v, nil
}

// Known reports whether name is a field of the flow.
func (v *FieldValidator) Known(name string) bool {
	_, ok := v.schemas[name]
	return ok
}

// Fields returns the known field names, sorted.
func (v *FieldValidator) Fields() []string {
	names := make([]string, 0, len(v.schemas))
	for name := range v.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidatePartial checks every key of a partial update. Unknown keys are
// reported as EXTRA_FIELD, schema violations as INVALID_VALUE.
func (v *FieldValidator) ValidatePartial(partial map[string]interface{}) *ValidationResult {
	var errs []ValidationError

	names := make([]string, 0, len(partial))
	for name := range partial {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		schema, ok := v.schemas[name]
		if !ok {
			errs = append(errs, ValidationError{
				Field:   name,
				Message: "field not allowed in schema",
				Code:    CodeExtraField,
			})
			continue
		}

		result, err := schema.Validate(gojsonschema.NewGoLoader(partial[name]))
		if err != nil {
			errs = append(errs, ValidationError{Field: name, Message: err.Error(), Code: CodeInvalidValue})
			continue
		}
		for _, re := range result.Errors() {
			field := name
			if sub := re.Field(); sub != "" && sub != "(root)" {
				field = name + "." + sub
			}
			errs = append(errs, ValidationError{Field: field, Message: re.Description(), Code: CodeInvalidValue})
		}
	}

	return &ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasCode reports whether any error carries the given code.
func (vr *ValidationResult) HasCode(code string) bool {
	for _, err := range vr.Errors {
		if err.Code == code {
			return true
		}
	}
	return false
}

// GetErrorsForField returns errors for a specific field
func (vr *ValidationResult) GetErrorsForField(field string) []ValidationError {
	var fieldErrors []ValidationError
	for _, err := range vr.Errors {
		if err.Field == field || strings.HasPrefix(err.Field, field+".") {
			fieldErrors = append(fieldErrors, err)
		}
	}
	return fieldErrors
}

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-\(\)]{7,}$`)
	datePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidatePhone validates basic phone number format
func ValidatePhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// ValidateDate accepts YYYY-MM-DD.
func ValidateDate(date string) bool {
	return datePattern.MatchString(date)
}
