// Package validation checks request payloads before any write reaches the store.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/quotefriends/backend/internal/models"
)

// Error reports the first field that failed validation.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var vErr *Error
	return errors.As(err, &vErr)
}

var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}_.\- ]+$`)

// Validator wraps a configured validator.Validate.
type Validator struct {
	validate *validator.Validate
}

var (
	instance *Validator
	once     sync.Once
)

// Default returns the shared validator.
func Default() *Validator {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New builds a validator that names fields by their json tag and knows the
// quotetext and username rules.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("quotetext", func(fl validator.FieldLevel) bool {
		_, ok := models.NormalizeQuoteText(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		name := strings.TrimSpace(fl.Field().String())
		n := utf8.RuneCountInString(name)
		return n >= 1 && n <= 32 && usernamePattern.MatchString(name)
	})
	return &Validator{validate: v}
}

// Struct validates s and converts the first failure into an *Error.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &Error{Field: fe.Field(), Reason: reason(fe)}
	}
	return fmt.Errorf("validate: %w", err)
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "quotetext":
		return fmt.Sprintf("must be 1 to %d characters after trimming", models.MaxQuoteLength)
	case "username":
		return "must be 1 to 32 letters, digits, spaces, dots, dashes or underscores"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
