package handlers

import (
	stderrors "errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"outbound-router/internal/common/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report the query or JSON name of a field instead of its Go name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// validateStruct checks the validate tags of s and reports the first
// failure as a field error.
func validateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.ValidationError("invalid request").WithCause(err)
	}

	fe := fieldErrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "url":
		msg = "must be an absolute URL"
	case "max":
		msg = "must be at most " + fe.Param() + " characters"
	default:
		msg = "failed the " + fe.Tag() + " check"
	}
	return errors.FieldError(fe.Field(), msg, nil)
}
