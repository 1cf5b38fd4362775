package clientconfig

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"outbound-router/internal/common/errors"
)

// ValidatorFunc represents a validation function
type ValidatorFunc func() error

// RunValidators runs multiple validators and returns the first error
func RunValidators(validators ...ValidatorFunc) error {
	for _, validator := range validators {
		if err := validator(); err != nil {
			return err
		}
	}
	return nil
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateID checks that a configuration id is usable as a key and URL segment
func ValidateID(id string) error {
	if id == "" {
		return errors.FieldError("id", "is required", nil)
	}
	if !idPattern.MatchString(id) {
		return errors.FieldError("id", fmt.Sprintf("%q must contain only letters, digits, '.', '_' or '-'", id), nil)
	}
	return nil
}

var validate = validator.New()

// ValidateInSet checks if a value is in a set of valid values
func ValidateInSet(field, value string, validValues []string) error {
	if value == "" && slices.Contains(validValues, "") {
		return nil
	}
	if validate.Var(value, oneOfTag(validValues)) == nil {
		return nil
	}
	return errors.FieldError(field, fmt.Sprintf("%q must be one of: %v", value, validValues), nil)
}

// oneOfTag quotes every non-empty value so the tag survives dots and dashes.
func oneOfTag(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			quoted = append(quoted, "'"+v+"'")
		}
	}
	return "oneof=" + strings.Join(quoted, " ")
}

// Dependent is a field whose presence makes another field required.
type Dependent struct {
	Field string
	Value string
}

// ValidateRequiredWith checks that field is set whenever any of the
// dependents is set. The first set dependent, in order, is reported.
func ValidateRequiredWith(field, value string, dependents ...Dependent) error {
	if validate.Var(value, "required") == nil {
		return nil
	}
	for _, dep := range dependents {
		if dep.Value != "" {
			return errors.FieldError(field, fmt.Sprintf("is required when %s is set", dep.Field), nil)
		}
	}
	return nil
}

func parseBool(field string, s Scalar, def bool) (bool, error) {
	v := strings.TrimSpace(s.String())
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.FieldError(field, fmt.Sprintf("%q is not a boolean", v), err)
	}
	return b, nil
}

func parseInt(field string, s Scalar, def int) (int, error) {
	v := strings.TrimSpace(s.String())
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.FieldError(field, fmt.Sprintf("%q is not an integer", v), err)
	}
	return n, nil
}

func parsePositive(field string, s Scalar, def int) (int, error) {
	n, err := parseInt(field, s, def)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.FieldError(field, fmt.Sprintf("must be at least 1, got %d", n), nil)
	}
	return n, nil
}

// parseMillis reads a non-negative millisecond count; zero means no timeout.
func parseMillis(field string, s Scalar, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(s.String())
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.FieldError(field, fmt.Sprintf("%q is not a number of milliseconds", v), err)
	}
	if n < 0 {
		return 0, errors.FieldError(field, fmt.Sprintf("must be non-negative, got %d", n), nil)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func parsePort(field string, s Scalar) (int, error) {
	n, err := parseInt(field, s, 0)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 65535 {
		return 0, errors.FieldError(field, fmt.Sprintf("must be between 0 and 65535, got %d", n), nil)
	}
	return n, nil
}
