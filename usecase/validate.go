package usecase

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fastygo/tenantauth/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the `validate` tags on input and reports failures as
// BAD_USER_INPUT with one entry per offending field.
func Validate(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return domain.WrapError(domain.ErrCodeBadUserInput, "invalid input", err)
	}
	fields := make(map[string]string, len(vErrs))
	for _, fe := range vErrs {
		fields[fieldName(fe)] = describe(fe)
	}
	return domain.InvalidInput("invalid input", fields)
}

func fieldName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return fe.Namespace()
	}
	return strings.ToLower(name[:1]) + name[1:]
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}
