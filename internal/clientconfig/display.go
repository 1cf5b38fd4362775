package clientconfig

import (
	"strconv"
	"strings"
)

// Mask replaces secret values in display output.
const Mask = "*****"

// DisplayField is one named, printable configuration value.
type DisplayField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func secret(v string) string {
	if v == "" {
		return ""
	}
	return Mask
}

func millis(d interface{ Milliseconds() int64 }) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

// DisplayFields lists the configuration for logs and the admin API. The
// field list is explicit; every password is masked.
func (c Config) DisplayFields() []DisplayField {
	return []DisplayField{
		{"id", c.ID},
		{"enabled", strconv.FormatBool(c.Enabled)},
		{"rank", strconv.Itoa(c.Rank)},
		{"host_patterns", strings.Join(c.HostPatterns.Patterns(), ",")},
		{"path_patterns", strings.Join(c.PathPatterns.Patterns(), ",")},
		{"ws_addressing_uris", strings.Join(c.WSAddressingURIs.Values(), ",")},
		{"connect_timeout", millis(c.ConnectTimeout)},
		{"socket_timeout", millis(c.SocketTimeout)},
		{"connection_request_timeout", millis(c.ConnectionRequestTimeout)},
		{"max_connections_per_route", strconv.Itoa(c.MaxConnectionsPerRoute)},
		{"max_total_connections", strconv.Itoa(c.MaxTotalConnections)},
		{"cookie_policy", string(c.CookiePolicy)},
		{"proxy_host", c.Proxy.Host},
		{"proxy_port", strconv.Itoa(c.Proxy.Port)},
		{"proxy_user", c.Proxy.User},
		{"proxy_password", secret(c.Proxy.Password)},
		{"user", c.BasicAuth.User},
		{"password", secret(c.BasicAuth.Password)},
		{"ssl_context_type", c.TLS.ContextType},
		{"key_store_type", c.TLS.KeyStore.Type},
		{"key_store_provider", c.TLS.KeyStore.Provider},
		{"key_store_path", c.TLS.KeyStore.Path},
		{"key_store_password", secret(c.TLS.KeyStore.Password)},
		{"key_manager_type", c.TLS.KeyStore.ManagerType},
		{"trust_store_type", c.TLS.TrustStore.Type},
		{"trust_store_provider", c.TLS.TrustStore.Provider},
		{"trust_store_path", c.TLS.TrustStore.Path},
		{"trust_store_password", secret(c.TLS.TrustStore.Password)},
		{"trust_manager_type", c.TLS.TrustStore.ManagerType},
	}
}

// MaskRaw returns a copy of r with every password masked.
func MaskRaw(r Raw) Raw {
	r.ProxyPassword = secret(r.ProxyPassword)
	r.Password = secret(r.Password)
	r.KeyStorePassword = secret(r.KeyStorePassword)
	r.TrustStorePassword = secret(r.TrustStorePassword)
	return r
}

// String renders the non-empty display fields on one line.
func (c Config) String() string {
	var b strings.Builder
	for _, f := range c.DisplayFields() {
		if f.Value == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(f.Name)
		b.WriteString("=")
		b.WriteString(f.Value)
	}
	return b.String()
}
