package types

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags on an input or config value.
func Validate(v any) error {
	return validate.Struct(v)
}
