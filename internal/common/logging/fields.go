package logging

import (
	"context"
	"time"
)

type contextKey string

// Context keys read by WithContext.
const (
	ConfigIDKey  contextKey = "config_id"
	RequestIDKey contextKey = "request_id"
)

// ContextWithConfigID returns ctx carrying the client configuration id.
func ContextWithConfigID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ConfigIDKey, id)
}

// ContextWithRequestID returns ctx carrying the admin API request id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// ConfigID creates the config_id field.
func ConfigID(id string) Field {
	return Field{Key: string(ConfigIDKey), Value: id}
}

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Strings(key string, values []string) Field {
	return Field{Key: key, Value: values}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field with key "error"
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}
