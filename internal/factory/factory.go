// Package factory is the entry point for outbound calls: it resolves a
// target URL, optionally scoped by a WS-Addressing "To" URI, to the pooled
// client of the first matching configuration, and manages registration of
// those configurations at runtime.
package factory

import (
	stderrors "errors"
	"net/url"
	"sync"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/common/errors"
	"outbound-router/internal/common/logging"
	"outbound-router/internal/pooled"
	"outbound-router/internal/routing"
	"outbound-router/internal/tlscontext"
)

// Error codes of routing errors.
const (
	CodeInvalidURL    = "INVALID_URL"
	CodeFactoryClosed = "FACTORY_CLOSED"
)

// Entry is a registered configuration in evaluation order.
type Entry = routing.Entry[*pooled.Client]

// Factory resolves outbound requests to pooled clients.
type Factory struct {
	table        *routing.Table[*pooled.Client]
	opts         options
	logger       logging.Logger
	shutdownOnce sync.Once
}

// New builds the default client and returns an Active factory.
func New(opts ...Option) (*Factory, error) {
	o := options{mode: pooled.ModeSync}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.GetGlobalLogger()
	}
	if o.tls == nil {
		o.tls = tlscontext.NewBuilder(nil, tlscontext.WithLogger(o.logger))
	}

	f := &Factory{opts: o, logger: o.logger}

	def, err := f.build(clientconfig.DefaultID, clientconfig.Default(), true)
	if err != nil {
		return nil, err
	}
	f.table = routing.NewTable(def)

	f.logger.Info("Client factory started", logging.String("mode", string(o.mode)))
	return f, nil
}

func (f *Factory) build(id string, cfg clientconfig.Config, isDefault bool) (*pooled.Client, error) {
	return pooled.New(id, cfg, pooled.Options{
		Mode:         f.opts.mode,
		TLS:          f.opts.tls,
		Logger:       f.logger,
		Default:      isDefault,
		AsyncWorkers: f.opts.asyncWorkers,
		AsyncQueue:   f.opts.asyncQueue,
	})
}

// Get resolves the client for a plain HTTP call.
func (f *Factory) Get(targetURL string) (*pooled.Client, error) {
	return f.resolve(targetURL, "", false)
}

// GetForService resolves the client for a web-service call. An empty wsTo
// means the call carries no To header; it then matches only configurations
// without WS-Addressing URIs.
func (f *Factory) GetForService(targetURL, wsTo string) (*pooled.Client, error) {
	return f.resolve(targetURL, wsTo, true)
}

// DefaultRequestConfig returns the timeouts and cookie policy of the client
// targetURL resolves to.
func (f *Factory) DefaultRequestConfig(targetURL string) (clientconfig.RequestConfig, error) {
	c, err := f.Get(targetURL)
	if err != nil {
		return clientconfig.RequestConfig{}, err
	}
	return c.RequestConfig(), nil
}

func (f *Factory) resolve(targetURL, wsTo string, isWSCall bool) (*pooled.Client, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, errors.RoutingError("cannot parse target URL", err).
			WithCode(CodeInvalidURL).
			WithContext("url", targetURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.RoutingError("target URL must be absolute", nil).
			WithCode(CodeInvalidURL).
			WithContext("url", targetURL)
	}

	c, err := f.table.Resolve(u.Hostname(), wsTo, u.Path, isWSCall)
	if err != nil {
		return nil, errors.RoutingError("client factory is shut down", err).WithCode(CodeFactoryClosed)
	}
	return c, nil
}

// Register builds a client for cfg and publishes it under id, replacing any
// client registered under the same id. The table is only touched once the
// client is fully built; on error it is left unchanged.
func (f *Factory) Register(id string, cfg clientconfig.Config) error {
	if id == "" {
		id = cfg.ID
	}
	if err := clientconfig.ValidateID(id); err != nil {
		return err
	}
	if id == clientconfig.DefaultID {
		return errors.FieldError("id", "\""+id+"\" is reserved for the built-in default client", nil)
	}
	if f.Closed() {
		return errors.ConfigError("client factory is shut down").WithCode(CodeFactoryClosed)
	}
	cfg.ID = id

	client, err := f.build(id, cfg, false)
	if err != nil {
		f.logger.Error("Failed to build client", err, logging.ConfigID(id))
		return err
	}

	old, replaced, err := f.table.Insert(id, cfg.Rank, client)
	if err != nil {
		client.Close()
		if stderrors.Is(err, routing.ErrTableClosed) {
			return errors.ConfigError("client factory is shut down").WithCode(CodeFactoryClosed)
		}
		return errors.InternalError("failed to publish client", err)
	}

	if replaced {
		old.Close()
	}

	f.logger.Info("Registered client configuration",
		logging.ConfigID(id),
		logging.Int("rank", cfg.Rank),
		logging.Bool("enabled", cfg.Enabled),
		logging.Bool("replaced", replaced),
	)
	return nil
}

// RegisterRaw parses raw and registers the result. A configuration with an
// invalid pattern is rejected, unless lenient patterns are enabled, in which
// case its disabled form is registered and a warning is logged.
func (f *Factory) RegisterRaw(raw clientconfig.Raw) error {
	cfg, err := clientconfig.Parse(raw)
	if err != nil {
		if !clientconfig.IsInvalidPattern(err) || !f.opts.lenientPatterns {
			return err
		}
		f.logger.Warn("Registering configuration disabled because of an invalid pattern",
			logging.ConfigID(cfg.ID),
			logging.Err(err),
		)
	}
	return f.Register(cfg.ID, cfg)
}

// Unregister removes the client registered under id and then closes it.
// Unregistering after Shutdown is a no-op.
func (f *Factory) Unregister(id string) error {
	client, err := f.table.Remove(id)
	switch {
	case stderrors.Is(err, routing.ErrTableClosed):
		return nil
	case stderrors.Is(err, routing.ErrEntryNotFound):
		return errors.NotFoundError("client configuration " + id)
	case err != nil:
		return errors.InternalError("failed to unpublish client", err)
	}

	client.Close()
	f.logger.Info("Unregistered client configuration", logging.ConfigID(id))
	return nil
}

// Entries returns the registered configurations in evaluation order.
func (f *Factory) Entries() []Entry {
	return f.table.Entries()
}

// Lookup returns the client registered under id.
func (f *Factory) Lookup(id string) (*pooled.Client, bool) {
	return f.table.Get(id)
}

// Default returns the fallback client.
func (f *Factory) Default() *pooled.Client {
	return f.table.Default()
}

// Closed reports whether Shutdown has run.
func (f *Factory) Closed() bool {
	return f.table.State() == routing.StateClosed
}

// Shutdown closes every client, the default included. Idempotent.
func (f *Factory) Shutdown() {
	f.shutdownOnce.Do(func() {
		clients := f.table.Close()
		for _, c := range clients {
			c.Close()
		}
		f.logger.Info("Client factory shut down", logging.Int("clients", len(clients)))
	})
}
