// Package pooled builds and owns the HTTP client of one client
// configuration: its TLS context, credentials, connection pool and, in
// async mode, its dispatcher.
package pooled

import (
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"

	"golang.org/x/net/publicsuffix"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/common/errors"
	"outbound-router/internal/common/logging"
	"outbound-router/internal/tlscontext"
)

// Mode selects the transport variant of a pooled client.
type Mode string

const (
	// ModeSync builds a plain *http.Client
	ModeSync Mode = "sync"
	// ModeAsync additionally starts an AsyncClient dispatcher
	ModeAsync Mode = "async"
)

// ParseMode maps a configuration value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSync:
		return ModeSync, nil
	case ModeAsync:
		return ModeAsync, nil
	default:
		return "", errors.ConfigError(fmt.Sprintf("unknown client mode %q", s))
	}
}

// Options controls how a Client is built.
type Options struct {
	Mode    Mode
	TLS     *tlscontext.Builder
	Logger  logging.Logger
	Default bool

	// Async dispatcher sizing; zero picks the per-route connection limit.
	AsyncWorkers int
	AsyncQueue   int
}

// Stats describes a Client for the admin surface.
type Stats struct {
	ID          string    `json:"id"`
	Mode        Mode      `json:"mode"`
	Default     bool      `json:"default"`
	Pool        PoolStats `json:"pool"`
	AsyncActive int64     `json:"async_active,omitempty"`
	Closed      bool      `json:"closed"`
}

// Client is one pooled HTTP client built from a configuration snapshot.
// It is never mutated after New returns.
type Client struct {
	id        string
	cfg       clientconfig.Config
	mode      Mode
	isDefault bool

	creds *CredentialsProvider
	pool  *Pool
	http  *http.Client
	async *AsyncClient

	logger    logging.Logger
	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a client in order: TLS context, credentials, connection pool,
// HTTP client and, for ModeAsync, the started dispatcher. A failure at any
// step releases what was built and returns a config or resource error.
func New(id string, cfg clientconfig.Config, opts Options) (*Client, error) {
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	builder := opts.TLS
	if builder == nil {
		builder = tlscontext.NewBuilder(nil, tlscontext.WithLogger(logger))
	}

	tlsConfig, err := builder.Build(cfg.TLS)
	if err != nil {
		return nil, err
	}

	creds := credentialsFor(cfg)

	proxy, err := proxyURL(cfg.Proxy)
	if err != nil {
		return nil, err
	}

	pool := NewPool(PoolConfig{
		MaxTotal:                 cfg.MaxTotalConnections,
		MaxPerRoute:              cfg.MaxConnectionsPerRoute,
		ConnectTimeout:           cfg.ConnectTimeout,
		SocketTimeout:            cfg.SocketTimeout,
		ConnectionRequestTimeout: cfg.ConnectionRequestTimeout,
		TLS:                      tlsConfig,
		Proxy:                    proxy,
	})

	jar, err := cookieJar(cfg.CookiePolicy)
	if err != nil {
		_ = pool.Close()
		return nil, errors.ResourceError("failed to create cookie store", err)
	}

	var transport http.RoundTripper = pool.Transport()
	if creds.Len() > 0 {
		transport = &authTransport{next: transport, creds: creds, proxy: proxyScope(cfg.Proxy)}
	}

	c := &Client{
		id:        id,
		cfg:       cfg,
		mode:      mode,
		isDefault: opts.Default,
		creds:     creds,
		pool:      pool,
		http:      &http.Client{Transport: transport, Jar: jar},
		logger:    logger.WithFields(logging.String("client_id", id)),
		closed:    make(chan struct{}),
	}

	if mode == ModeAsync {
		workers := opts.AsyncWorkers
		if workers == 0 {
			workers = cfg.MaxConnectionsPerRoute
		}
		c.async = newAsyncClient(c.http, workers, opts.AsyncQueue)
		if err := c.async.Start(); err != nil {
			_ = pool.Close()
			return nil, errors.ResourceError("failed to start async dispatcher", err)
		}
	}

	return c, nil
}

func proxyURL(p clientconfig.Proxy) (*url.URL, error) {
	if !p.Configured() {
		return nil, nil
	}
	host := p.Host
	if p.Port != 0 {
		host = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	}
	u := &url.URL{Scheme: "http", Host: host}
	if p.HasCredentials() {
		u.User = url.UserPassword(p.User, p.Password)
	}
	if _, err := url.Parse(u.String()); err != nil {
		return nil, errors.FieldError("proxy_host", "does not form a valid proxy URL", err)
	}
	return u, nil
}

func cookieJar(policy clientconfig.CookiePolicy) (http.CookieJar, error) {
	switch policy {
	case clientconfig.CookiePolicyIgnore:
		return nil, nil
	case clientconfig.CookiePolicyStandardStrict:
		return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	default:
		return cookiejar.New(nil)
	}
}

// ID returns the configuration id.
func (c *Client) ID() string { return c.id }

// Config returns the configuration snapshot the client was built from.
func (c *Client) Config() clientconfig.Config { return c.cfg }

// RequestConfig returns the timeouts and cookie policy of the client.
func (c *Client) RequestConfig() clientconfig.RequestConfig { return c.cfg.RequestConfig() }

// HTTPClient returns the synchronous client. It is available in both modes.
func (c *Client) HTTPClient() *http.Client { return c.http }

// Async returns the dispatcher, or nil in ModeSync.
func (c *Client) Async() *AsyncClient { return c.async }

// Mode returns the transport variant.
func (c *Client) Mode() Mode { return c.mode }

// IsDefault reports whether this is the factory fallback client.
func (c *Client) IsDefault() bool { return c.isDefault }

// Credentials returns the credentials bound for this client.
func (c *Client) Credentials() *CredentialsProvider { return c.creds }

// Matches evaluates the routing rule of the configuration.
func (c *Client) Matches(host, wsAddressingURI, path string, isWSCall bool) bool {
	return c.cfg.Matches(host, wsAddressingURI, path, isWSCall)
}

// Stats returns a snapshot for the admin surface.
func (c *Client) Stats() Stats {
	s := Stats{
		ID:      c.id,
		Mode:    c.mode,
		Default: c.isDefault,
		Pool:    c.pool.Stats(),
		Closed:  c.Closed(),
	}
	if c.async != nil {
		s.AsyncActive = c.async.Active()
	}
	return s
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Close shuts down the dispatcher and the pool. It is idempotent and never
// fails; errors are logged as warnings.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Warn("Recovered while closing pooled client", logging.Any("panic", r))
			}
		}()
		close(c.closed)

		if c.async != nil {
			c.async.Close()
		}
		c.http.CloseIdleConnections()
		if err := c.pool.Close(); err != nil {
			c.logger.Warn("Error closing connection pool", logging.Err(err))
			return
		}
		c.logger.Debug("Closed pooled client")
	})
}
