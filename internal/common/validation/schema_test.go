package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFields() map[string]string {
	return map[string]string{
		"firstName":     `{"type":"string","maxLength":100}`,
		"jurisdictions": `{"type":"array","items":{"type":"string","enum":["finland","luxembourg","france","estonia"]}}`,
		"terms":         `{"type":"boolean"}`,
		"contact":       `{"type":"object","properties":{"email":{"type":"string"}}}`,
	}
}

func TestNewFieldValidator_InvalidSchema(t *testing.T) {
	_, err := NewFieldValidator(map[string]string{"broken": `{"type":`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestValidatePartial(t *testing.T) {
	v, err := NewFieldValidator(testFields())
	require.NoError(t, err)

	tests := []struct {
		name      string
		partial   map[string]interface{}
		wantValid bool
		wantCode  string
		wantField string
	}{
		{
			name:      "known fields with valid values",
			partial:   map[string]interface{}{"firstName": "Aino", "terms": true},
			wantValid: true,
		},
		{
			name:      "unknown field",
			partial:   map[string]interface{}{"favouriteColour": "blue"},
			wantCode:  CodeExtraField,
			wantField: "favouriteColour",
		},
		{
			name:      "wrong type",
			partial:   map[string]interface{}{"terms": "yes"},
			wantCode:  CodeInvalidValue,
			wantField: "terms",
		},
		{
			name:      "enum violation inside array",
			partial:   map[string]interface{}{"jurisdictions": []interface{}{"finland", "mars"}},
			wantCode:  CodeInvalidValue,
			wantField: "jurisdictions",
		},
		{
			name:      "typed string slice",
			partial:   map[string]interface{}{"jurisdictions": []string{"france"}},
			wantValid: true,
		},
		{
			name:      "nested property type",
			partial:   map[string]interface{}{"contact": map[string]interface{}{"email": 12}},
			wantCode:  CodeInvalidValue,
			wantField: "contact",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidatePartial(tt.partial)
			assert.Equal(t, tt.wantValid, result.Valid, result.GetErrorMessages())
			if !tt.wantValid {
				assert.True(t, result.HasCode(tt.wantCode))
				assert.NotEmpty(t, result.GetErrorsForField(tt.wantField))
			}
		})
	}
}

func TestKnownAndFields(t *testing.T) {
	v, err := NewFieldValidator(testFields())
	require.NoError(t, err)

	assert.True(t, v.Known("terms"))
	assert.False(t, v.Known("sig"))
	assert.Equal(t, []string{"contact", "firstName", "jurisdictions", "terms"}, v.Fields())
}

func TestFormatChecks(t *testing.T) {
	assert.True(t, ValidateEmail("aino@example.fi"))
	assert.False(t, ValidateEmail("aino@"))
	assert.True(t, ValidatePhone("+358 40 123 4567"))
	assert.False(t, ValidatePhone("12"))
	assert.True(t, ValidateDate("1990-04-01"))
	assert.False(t, ValidateDate("01/04/1990"))
}
