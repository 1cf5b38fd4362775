// Package errors defines the structured error type shared by the outbound router.
//
// Errors are classified by ErrorType so callers can tell a broken configuration
// (never downgraded) from a routing failure (a caller bug) or a shutdown failure
// (logged and swallowed).
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeConfig represents an invalid client configuration (bad pattern, bad rank, ...)
	ErrTypeConfig ErrorType = "config"
	// ErrTypeResource represents a failure to acquire a resource while building a client
	// (missing store file, wrong password, provider mismatch, dispatcher start failure)
	ErrTypeResource ErrorType = "resource"
	// ErrTypeRouting represents a request that cannot be routed (unparsable target URL)
	ErrTypeRouting ErrorType = "routing"
	// ErrTypeShutdown represents a failure while releasing pooled connections
	ErrTypeShutdown ErrorType = "shutdown"
	// ErrTypeValidation represents invalid input to the admin surface
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeAuth represents authentication errors
	ErrTypeAuth ErrorType = "authentication"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Field   string                 `json:"field,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type)}

	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field %s", e.Field))
	}

	parts = append(parts, e.Message)

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// FieldError creates a configuration error naming the offending field
func FieldError(field, msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Field:   field,
		Message: msg,
		Cause:   cause,
	}
}

// ResourceError creates a new resource error
func ResourceError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeResource,
		Message: msg,
		Cause:   cause,
	}
}

// RoutingError creates a new routing error
func RoutingError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeRouting,
		Message: msg,
		Cause:   cause,
	}
}

// ShutdownError creates a new shutdown error
func ShutdownError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeShutdown,
		Message: msg,
		Cause:   cause,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// AuthError creates a new authentication error
func AuthError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeAuth,
		Message: msg,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error, or any error it wraps, is an AppError of a specific type
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error type if err wraps an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}

// GetField returns the offending field of a configuration error, if any
func GetField(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ""
	}
	return appErr.Field
}

// GetCode returns the error code of an AppError, if any
func GetCode(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ""
	}
	return appErr.Code
}
