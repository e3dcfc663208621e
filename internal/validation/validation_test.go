package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	PlanID     string `json:"planId" validate:"required"`
	MaxDevices int    `json:"maxDevices" validate:"gte=0,lte=10"`
}

type coded struct {
	Code string `yaml:"code" validate:"omitempty,even"`
}

func TestValidateStruct(t *testing.T) {
	assert.NoError(t, ValidateStruct(payload{PlanID: "p1"}))

	err := ValidateStruct(payload{MaxDevices: 11})
	var structErr *StructError
	require.True(t, errors.As(err, &structErr))
	require.Len(t, structErr.Violations, 2)

	assert.Equal(t, "required", structErr.Violations[0].Tag)
	assert.Equal(t, "payload.planId", structErr.Violations[0].Field)
	assert.Equal(t, "planId is a required field", structErr.Violations[0].Description)
	assert.Equal(t, "lte", structErr.Violations[1].Tag)
	assert.Contains(t, err.Error(), "; ")
}

func TestCustomRule(t *testing.T) {
	require.NoError(t, RegisterValidation("even", func(fl FieldLevel) bool {
		return len(fl.Field().String())%2 == 0
	}))
	require.NoError(t, RegisterTranslation("even", "{0} must have an even length"))

	assert.NoError(t, ValidateStruct(coded{Code: "ab"}))
	err := ValidateStruct(coded{Code: "abc"})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "code must have an even length"))
}
