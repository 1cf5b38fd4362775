package factory

import (
	"outbound-router/internal/common/logging"
	"outbound-router/internal/pooled"
	"outbound-router/internal/tlscontext"
)

type options struct {
	logger          logging.Logger
	mode            pooled.Mode
	tls             *tlscontext.Builder
	lenientPatterns bool
	asyncWorkers    int
	asyncQueue      int
}

// Option configures a Factory.
type Option func(*options)

// WithLogger sets the logger used for registration and shutdown events.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMode selects the transport variant of every client, default included.
func WithMode(mode pooled.Mode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithTLSBuilder sets the builder used for key and trust stores.
func WithTLSBuilder(b *tlscontext.Builder) Option {
	return func(o *options) {
		o.tls = b
	}
}

// WithLenientPatterns makes RegisterRaw register a configuration with an
// invalid pattern in its disabled form instead of rejecting it.
func WithLenientPatterns(lenient bool) Option {
	return func(o *options) {
		o.lenientPatterns = lenient
	}
}

// WithAsyncSizing sets the worker count and queue length of async dispatchers.
func WithAsyncSizing(workers, queue int) Option {
	return func(o *options) {
		o.asyncWorkers = workers
		o.asyncQueue = queue
	}
}
