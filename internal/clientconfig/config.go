// Package clientconfig turns administrative client configuration records into
// validated, immutable routing rules plus the tuning parameters of the pooled
// client built for them.
package clientconfig

import (
	"time"

	"outbound-router/internal/pattern"
)

// DefaultID identifies the built-in fallback configuration.
const DefaultID = "default"

// Built-in defaults, used for blank fields and for the fallback client.
const (
	DefaultConnectTimeout           = 15000 * time.Millisecond
	DefaultSocketTimeout            = 60000 * time.Millisecond
	DefaultConnectionRequestTimeout = 15000 * time.Millisecond
	DefaultMaxConnectionsPerRoute   = 50
	DefaultMaxTotalConnections      = 50
	DefaultSSLContextType           = "TLS"
)

// CookiePolicy selects how the pooled client handles cookies.
type CookiePolicy string

const (
	CookiePolicyDefault        CookiePolicy = "default"
	CookiePolicyStandard       CookiePolicy = "standard"
	CookiePolicyStandardStrict CookiePolicy = "standard-strict"
	CookiePolicyNetscape       CookiePolicy = "netscape"
	CookiePolicyIgnore         CookiePolicy = "ignoreCookies"
)

var cookiePolicies = []string{
	string(CookiePolicyDefault),
	string(CookiePolicyStandard),
	string(CookiePolicyStandardStrict),
	string(CookiePolicyNetscape),
	string(CookiePolicyIgnore),
}

// SSL context types and the TLS versions they allow.
var sslContextTypes = []string{"TLS", "TLSv1.2", "TLSv1.3"}

var keyManagerTypes = []string{"", "SunX509", "X509", "PKIX"}

var trustManagerTypes = []string{"", "PKIX", "SunX509", "X509"}

// Proxy describes an upstream HTTP proxy. A blank Host means no proxy.
type Proxy struct {
	Host     string
	Port     int // 0 means the scheme default
	User     string
	Password string
}

// Configured reports whether a proxy host is set.
func (p Proxy) Configured() bool {
	return p.Host != ""
}

// HasCredentials reports whether proxy authentication is configured.
func (p Proxy) HasCredentials() bool {
	return p.User != ""
}

// Credentials is a user/password pair for basic authentication.
type Credentials struct {
	User     string
	Password string
}

// Configured reports whether a user is set.
func (c Credentials) Configured() bool {
	return c.User != ""
}

// StoreSettings locates and unlocks a key store or trust store.
type StoreSettings struct {
	Type        string
	Provider    string
	Path        string
	Password    string
	ManagerType string
}

// Configured reports whether the store has a path.
func (s StoreSettings) Configured() bool {
	return s.Path != ""
}

// TLS groups the TLS context settings of a configuration.
type TLS struct {
	ContextType string
	KeyStore    StoreSettings
	TrustStore  StoreSettings
}

// RequestConfig is the per-request policy of a pooled client.
type RequestConfig struct {
	ConnectTimeout           time.Duration
	SocketTimeout            time.Duration
	ConnectionRequestTimeout time.Duration
	CookiePolicy             CookiePolicy
}

// Config is a validated routing rule plus client tuning parameters.
//
// Config is a value: copying it yields an independent snapshot. The pattern
// sets are immutable and shared between copies.
type Config struct {
	ID      string
	Enabled bool
	Rank    int

	HostPatterns     *pattern.Set
	PathPatterns     *pattern.Set
	WSAddressingURIs *pattern.Literals

	ConnectTimeout           time.Duration
	SocketTimeout            time.Duration
	ConnectionRequestTimeout time.Duration

	MaxConnectionsPerRoute int
	MaxTotalConnections    int
	CookiePolicy           CookiePolicy

	Proxy     Proxy
	BasicAuth Credentials
	TLS       TLS
}

// Default returns the built-in fallback configuration. It matches everything.
func Default() Config {
	return Config{
		ID:                       DefaultID,
		Enabled:                  true,
		HostPatterns:             pattern.MustCompile("host"),
		PathPatterns:             pattern.MustCompile("path"),
		WSAddressingURIs:         pattern.NewLiterals(nil),
		ConnectTimeout:           DefaultConnectTimeout,
		SocketTimeout:            DefaultSocketTimeout,
		ConnectionRequestTimeout: DefaultConnectionRequestTimeout,
		MaxConnectionsPerRoute:   DefaultMaxConnectionsPerRoute,
		MaxTotalConnections:      DefaultMaxTotalConnections,
		CookiePolicy:             CookiePolicyDefault,
		TLS:                      TLS{ContextType: DefaultSSLContextType},
	}
}

// RequestConfig returns the timeout and cookie policy of the configuration.
func (c Config) RequestConfig() RequestConfig {
	return RequestConfig{
		ConnectTimeout:           c.ConnectTimeout,
		SocketTimeout:            c.SocketTimeout,
		ConnectionRequestTimeout: c.ConnectionRequestTimeout,
		CookiePolicy:             c.CookiePolicy,
	}
}

// Matches evaluates the routing rule. WS-Addressing URIs only restrict calls
// explicitly marked as web-service calls.
func (c Config) Matches(host, wsAddressingURI, path string, isWSCall bool) bool {
	if !c.Enabled {
		return false
	}
	if !c.HostPatterns.Matches(host) || !c.PathPatterns.Matches(path) {
		return false
	}
	if isWSCall && !c.WSAddressingURIs.Matches(wsAddressingURI) {
		return false
	}
	return true
}
