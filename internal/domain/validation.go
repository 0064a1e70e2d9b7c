package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxContentBytes bounds a single draft or persisted entry.
const MaxContentBytes = 32 * 1024

var contentValidate *validator.Validate

func init() {
	contentValidate = validator.New()
	_ = contentValidate.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = contentValidate.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxContentBytes
	})
}

// ValidationError reports input rejected before any state change or remote call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type entry struct {
	Content string `validate:"nonblank,maxbytes"`
}

// ValidateContent applies the entry content rule: non-empty after trimming
// whitespace and no larger than MaxContentBytes.
func ValidateContent(text string) error {
	err := contentValidate.Struct(entry{Content: text})
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		switch fieldErrs[0].Tag() {
		case "nonblank":
			return &ValidationError{Field: "content", Reason: "must not be empty"}
		case "maxbytes":
			return &ValidationError{Field: "content", Reason: fmt.Sprintf("must be at most %d bytes", MaxContentBytes)}
		}
	}
	return &ValidationError{Field: "content", Reason: err.Error()}
}
