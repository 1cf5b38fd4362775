package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name: "basic error",
			appError: &AppError{
				Type:    ErrTypeConfig,
				Message: "configuration is invalid",
			},
			want: "config: configuration is invalid",
		},
		{
			name:     "field error",
			appError: FieldError("rank", "must be an integer", nil),
			want:     "config: field rank: must be an integer",
		},
		{
			name: "error with code and cause",
			appError: &AppError{
				Type:    ErrTypeResource,
				Message: "certificate not found",
				Code:    "CERT_NOT_FOUND",
				Cause:   fs.ErrNotExist,
			},
			want: "resource: certificate not found: code=CERT_NOT_FOUND: cause=file does not exist",
		},
		{
			name: "context keys are sorted",
			appError: &AppError{
				Type:    ErrTypeRouting,
				Message: "bad url",
				Context: map[string]interface{}{
					"url":  "::",
					"mode": "ws",
				},
			},
			want: "routing: bad url: context={mode=ws, url=::}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.appError.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	err := ResourceError("load failed", fs.ErrNotExist)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestIsType_Wrapped(t *testing.T) {
	base := FieldError("host_patterns", "invalid pattern", nil)
	wrapped := fmt.Errorf("register %s: %w", "cfg-1", base)

	assert.True(t, IsType(wrapped, ErrTypeConfig))
	assert.False(t, IsType(wrapped, ErrTypeResource))
	assert.Equal(t, ErrTypeConfig, GetType(wrapped))
	assert.Equal(t, "host_patterns", GetField(wrapped))
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrorType(""), GetType(nil))
	assert.Equal(t, ErrTypeInternal, GetType(errors.New("plain")))
	assert.Equal(t, ErrTypeShutdown, GetType(ShutdownError("close", nil)))
}

func TestWithHelpers(t *testing.T) {
	err := RoutingError("unparsable target url", nil).
		WithCode("BAD_URL").
		WithContext("url", "%%").
		WithCause(errors.New("invalid escape"))

	assert.Equal(t, "BAD_URL", GetCode(err))
	assert.Equal(t, "%%", err.Context["url"])
	assert.EqualError(t, errors.Unwrap(err), "invalid escape")
}
