package store

import (
	"errors"
	"fmt"
)

// ValidationError kinds.
const (
	KindDuplicateFieldName = "duplicate_field_name"
	KindEmptyModelName     = "empty_model_name"
	KindInvalidInput       = "invalid_input"
)

// Sentinel errors. ValidationErrors match the sentinel of their kind via
// errors.Is.
var (
	ErrDuplicateFieldName    = errors.New("duplicate field name")
	ErrEmptyModelName        = errors.New("model name must not be empty")
	ErrInvalidInput          = errors.New("invalid input")
	ErrModelNotFound         = errors.New("model not found")
	ErrFieldNotFound         = errors.New("field not found")
	ErrRelationshipNotFound  = errors.New("relationship not found")
	ErrDuplicateRelationship = errors.New("relationship already exists")
	ErrDuplicateModel        = errors.New("model already exists")
)

// ValidationError is a locally detected write violation. It is raised
// before any call reaches the persistence backend.
type ValidationError struct {
	Kind    string
	Model   string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s.%s: %s", e.Model, e.Field, e.Message)
	case e.Model != "":
		return fmt.Sprintf("%s: %s", e.Model, e.Message)
	default:
		return e.Message
	}
}

// Is matches the sentinel error for the validation kind.
func (e *ValidationError) Is(target error) bool {
	switch e.Kind {
	case KindDuplicateFieldName:
		return target == ErrDuplicateFieldName
	case KindEmptyModelName:
		return target == ErrEmptyModelName
	case KindInvalidInput:
		return target == ErrInvalidInput
	}
	return false
}

// DuplicateFieldName reports a field name already used in the model.
func DuplicateFieldName(model, field string) *ValidationError {
	return &ValidationError{
		Kind:    KindDuplicateFieldName,
		Model:   model,
		Field:   field,
		Message: fmt.Sprintf("field %q already exists", field),
	}
}

// EmptyModelName reports a blank model name.
func EmptyModelName(model string) *ValidationError {
	return &ValidationError{
		Kind:    KindEmptyModelName,
		Model:   model,
		Message: "model name must not be empty",
	}
}

// InvalidInput wraps a struct validation failure.
func InvalidInput(err error) *ValidationError {
	return &ValidationError{
		Kind:    KindInvalidInput,
		Message: err.Error(),
	}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
