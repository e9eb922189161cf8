package battery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/cogbattery/internal/model"
)

// FieldError describes one rejected intake or configuration field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Rule    string `json:"rule,omitempty"`
}

// ValidationErrors is returned when a struct fails its validate tags.
// It matches ErrInvalidInput.
type ValidationErrors []FieldError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

func (ve ValidationErrors) Is(target error) bool {
	return target == ErrInvalidInput
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "notblank", "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Message: fieldMessage(fe),
			Rule:    fe.Tag(),
		})
	}
	return out
}

// ValidateDemographics checks the intake form: required fields present,
// fluency in 1..5 and frequencies in 1..7.
func ValidateDemographics(d model.Demographics) error {
	return validateStruct(d)
}

// ValidateConfig checks battery parameters before a session is created.
func ValidateConfig(cfg model.BatteryConfig) error {
	if len(cfg.DigitLevels) == 0 {
		return ValidationErrors{{Field: "DigitLevels", Message: "is required", Rule: "required"}}
	}
	if len(cfg.OperationSetSizes) == 0 {
		return ValidationErrors{{Field: "OperationSetSizes", Message: "is required", Rule: "required"}}
	}
	return validateStruct(cfg)
}
