package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/reschedule-agent/pkg/errors"
)

// Placeholders are sample values shipped in example configs. They are never
// accepted as real credentials or caller ids.
var Placeholders = []string{
	"your_retell_api_key_here",
	"your_agent_id_here",
	"+1234567890",
	"+15551234567",
}

// Validator wraps go-playground/validator with the project's custom rules.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(fieldName)
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("not_placeholder", notPlaceholder)
	return &Validator{v: v}
}

// Engine exposes the underlying validator, e.g. for gin binding.
func (v *Validator) Engine() *validator.Validate {
	return v.v
}

// Struct validates obj and reports every failing field in one validation error.
func (v *Validator) Struct(obj interface{}) error {
	err := v.v.Struct(obj)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return apperrors.Validation(strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	name := fe.Namespace()
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "not_placeholder":
		return fmt.Sprintf("%s still has its example value", name)
	case "e164":
		return fmt.Sprintf("%s must be in E.164 format, e.g. +14155550100", name)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", name)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", name, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", name, fe.Tag())
	}
}

func notPlaceholder(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return true
	}
	value := strings.TrimSpace(fl.Field().String())
	for _, p := range Placeholders {
		if value == p {
			return false
		}
	}
	return true
}

func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"mapstructure", "json"} {
		name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
		if name != "" && name != "-" {
			return name
		}
	}
	return f.Name
}
