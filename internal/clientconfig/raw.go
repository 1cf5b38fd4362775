package clientconfig

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Scalar holds a primitive configuration value as text. It decodes from JSON
// and YAML strings, numbers and booleans alike, so administrative records can
// write `rank: 10` or `rank: "10"`.
type Scalar string

// UnmarshalJSON accepts any JSON scalar.
func (s *Scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0, bytes.Equal(b, []byte("null")):
		*s = ""
	case b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = Scalar(v)
	case b[0] == '{' || b[0] == '[':
		return fmt.Errorf("expected a scalar value, got %s", string(b))
	default:
		*s = Scalar(b)
	}
	return nil
}

// UnmarshalYAML accepts any YAML scalar node.
func (s *Scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", node.Line)
	}
	if node.Tag == "!!null" {
		*s = ""
		return nil
	}
	*s = Scalar(node.Value)
	return nil
}

// String returns the raw text.
func (s Scalar) String() string {
	return string(s)
}

// Raw is one administrative client configuration record, as stored, edited
// and exchanged over the admin API. Parse turns it into a validated Config.
type Raw struct {
	ID      string `json:"id" yaml:"id"`
	Enabled Scalar `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Rank    Scalar `json:"rank,omitempty" yaml:"rank,omitempty"`

	HostPatterns     []string `json:"host_patterns,omitempty" yaml:"host_patterns,omitempty"`
	PathPatterns     []string `json:"path_patterns,omitempty" yaml:"path_patterns,omitempty"`
	WSAddressingURIs []string `json:"ws_addressing_uris,omitempty" yaml:"ws_addressing_uris,omitempty"`

	// Timeouts are in milliseconds.
	ConnectTimeout           Scalar `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	SocketTimeout            Scalar `json:"socket_timeout,omitempty" yaml:"socket_timeout,omitempty"`
	ConnectionRequestTimeout Scalar `json:"connection_request_timeout,omitempty" yaml:"connection_request_timeout,omitempty"`

	MaxConnectionsPerRoute Scalar `json:"max_connections_per_route,omitempty" yaml:"max_connections_per_route,omitempty"`
	MaxTotalConnections    Scalar `json:"max_total_connections,omitempty" yaml:"max_total_connections,omitempty"`
	CookiePolicy           string `json:"cookie_policy,omitempty" yaml:"cookie_policy,omitempty"`

	ProxyHost     string `json:"proxy_host,omitempty" yaml:"proxy_host,omitempty"`
	ProxyPort     Scalar `json:"proxy_port,omitempty" yaml:"proxy_port,omitempty"`
	ProxyUser     string `json:"proxy_user,omitempty" yaml:"proxy_user,omitempty"`
	ProxyPassword string `json:"proxy_password,omitempty" yaml:"proxy_password,omitempty"`

	User     string `json:"user,omitempty" yaml:"user,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	SSLContextType string `json:"ssl_context_type,omitempty" yaml:"ssl_context_type,omitempty"`

	KeyStoreType     string `json:"key_store_type,omitempty" yaml:"key_store_type,omitempty"`
	KeyStoreProvider string `json:"key_store_provider,omitempty" yaml:"key_store_provider,omitempty"`
	KeyStorePath     string `json:"key_store_path,omitempty" yaml:"key_store_path,omitempty"`
	KeyStorePassword string `json:"key_store_password,omitempty" yaml:"key_store_password,omitempty"`
	KeyManagerType   string `json:"key_manager_type,omitempty" yaml:"key_manager_type,omitempty"`

	TrustStoreType     string `json:"trust_store_type,omitempty" yaml:"trust_store_type,omitempty"`
	TrustStoreProvider string `json:"trust_store_provider,omitempty" yaml:"trust_store_provider,omitempty"`
	TrustStorePath     string `json:"trust_store_path,omitempty" yaml:"trust_store_path,omitempty"`
	TrustStorePassword string `json:"trust_store_password,omitempty" yaml:"trust_store_password,omitempty"`
	TrustManagerType   string `json:"trust_manager_type,omitempty" yaml:"trust_manager_type,omitempty"`
}
