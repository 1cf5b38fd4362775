package clientconfig

import (
	stderrors "errors"
	"fmt"
	"strings"

	"outbound-router/internal/common/errors"
	"outbound-router/internal/pattern"
)

// Parse validates a raw record and builds a Config. It performs no I/O;
// key and trust stores are only located here, never opened.
//
// Any invalid field other than a pattern yields a zero Config and a
// configuration error naming the field. An invalid host or path pattern
// yields a Config forced to Enabled=false together with the error, so a
// partially-dropped pattern set can never match more than intended.
func Parse(raw Raw) (Config, error) {
	cfg := Default()
	cfg.ID = strings.TrimSpace(raw.ID)

	err := RunValidators(
		func() error { return ValidateID(cfg.ID) },
		func() (e error) { cfg.Enabled, e = parseBool("enabled", raw.Enabled, true); return },
		func() (e error) { cfg.Rank, e = parseInt("rank", raw.Rank, 0); return },
		func() (e error) {
			cfg.ConnectTimeout, e = parseMillis("connect_timeout", raw.ConnectTimeout, DefaultConnectTimeout)
			return
		},
		func() (e error) {
			cfg.SocketTimeout, e = parseMillis("socket_timeout", raw.SocketTimeout, DefaultSocketTimeout)
			return
		},
		func() (e error) {
			cfg.ConnectionRequestTimeout, e = parseMillis("connection_request_timeout", raw.ConnectionRequestTimeout, DefaultConnectionRequestTimeout)
			return
		},
		func() (e error) {
			cfg.MaxConnectionsPerRoute, e = parsePositive("max_connections_per_route", raw.MaxConnectionsPerRoute, DefaultMaxConnectionsPerRoute)
			return
		},
		func() (e error) {
			cfg.MaxTotalConnections, e = parsePositive("max_total_connections", raw.MaxTotalConnections, DefaultMaxTotalConnections)
			return
		},
		func() error {
			policy := strings.TrimSpace(raw.CookiePolicy)
			if policy == "" {
				return nil
			}
			if err := ValidateInSet("cookie_policy", policy, cookiePolicies); err != nil {
				return err
			}
			cfg.CookiePolicy = CookiePolicy(policy)
			return nil
		},
		func() error { return parseProxy(raw, &cfg) },
		func() error { return parseBasicAuth(raw, &cfg) },
		func() error { return parseTLS(raw, &cfg) },
	)
	if err != nil {
		return Config{}, err
	}

	hosts, hostErrs := pattern.Compile("host", raw.HostPatterns)
	paths, pathErrs := pattern.Compile("path", raw.PathPatterns)
	cfg.HostPatterns = hosts
	cfg.PathPatterns = paths
	cfg.WSAddressingURIs = pattern.NewLiterals(raw.WSAddressingURIs)

	if len(hostErrs) > 0 || len(pathErrs) > 0 {
		cfg.Enabled = false
		field := "host_patterns"
		if len(hostErrs) == 0 {
			field = "path_patterns"
		}
		cause := stderrors.Join(append(hostErrs, pathErrs...)...)
		return cfg, errors.FieldError(field, "contains an invalid pattern; configuration disabled", cause).
			WithCode(CodeInvalidPattern)
	}

	return cfg, nil
}

// CodeInvalidPattern marks errors for which Parse still returns a disabled Config.
const CodeInvalidPattern = "INVALID_PATTERN"

// IsInvalidPattern reports whether err came from an unparsable pattern.
func IsInvalidPattern(err error) bool {
	return errors.GetCode(err) == CodeInvalidPattern
}

func parseProxy(raw Raw, cfg *Config) error {
	host := strings.TrimSpace(raw.ProxyHost)
	err := RunValidators(
		func() error {
			return ValidateRequiredWith("proxy_host", host,
				Dependent{"proxy_port", raw.ProxyPort.String()},
				Dependent{"proxy_user", raw.ProxyUser},
				Dependent{"proxy_password", raw.ProxyPassword},
			)
		},
		func() error {
			return ValidateRequiredWith("proxy_user", raw.ProxyUser, Dependent{"proxy_password", raw.ProxyPassword})
		},
		func() error {
			if strings.ContainsAny(host, "/:@") {
				return errors.FieldError("proxy_host", fmt.Sprintf("%q must be a bare host name", host), nil)
			}
			return nil
		},
	)
	if err != nil {
		return err
	}

	port, err := parsePort("proxy_port", raw.ProxyPort)
	if err != nil {
		return err
	}

	cfg.Proxy = Proxy{Host: host, Port: port, User: raw.ProxyUser, Password: raw.ProxyPassword}
	return nil
}

func parseBasicAuth(raw Raw, cfg *Config) error {
	if err := ValidateRequiredWith("user", raw.User, Dependent{"password", raw.Password}); err != nil {
		return err
	}
	cfg.BasicAuth = Credentials{User: raw.User, Password: raw.Password}
	return nil
}

func parseTLS(raw Raw, cfg *Config) error {
	contextType := strings.TrimSpace(raw.SSLContextType)
	if contextType == "" {
		contextType = DefaultSSLContextType
	}

	key := StoreSettings{
		Type:        strings.TrimSpace(raw.KeyStoreType),
		Provider:    strings.TrimSpace(raw.KeyStoreProvider),
		Path:        strings.TrimSpace(raw.KeyStorePath),
		Password:    raw.KeyStorePassword,
		ManagerType: strings.TrimSpace(raw.KeyManagerType),
	}
	trust := StoreSettings{
		Type:        strings.TrimSpace(raw.TrustStoreType),
		Provider:    strings.TrimSpace(raw.TrustStoreProvider),
		Path:        strings.TrimSpace(raw.TrustStorePath),
		Password:    raw.TrustStorePassword,
		ManagerType: strings.TrimSpace(raw.TrustManagerType),
	}

	err := RunValidators(
		func() error { return ValidateInSet("ssl_context_type", contextType, sslContextTypes) },
		func() error {
			return ValidateRequiredWith("key_store_path", key.Path,
				Dependent{"key_store_type", key.Type},
				Dependent{"key_store_provider", key.Provider},
				Dependent{"key_store_password", key.Password},
				Dependent{"key_manager_type", key.ManagerType},
			)
		},
		func() error {
			return ValidateRequiredWith("trust_store_path", trust.Path,
				Dependent{"trust_store_type", trust.Type},
				Dependent{"trust_store_provider", trust.Provider},
				Dependent{"trust_store_password", trust.Password},
				Dependent{"trust_manager_type", trust.ManagerType},
			)
		},
		func() error { return ValidateInSet("key_manager_type", key.ManagerType, keyManagerTypes) },
		func() error { return ValidateInSet("trust_manager_type", trust.ManagerType, trustManagerTypes) },
	)
	if err != nil {
		return err
	}

	cfg.TLS = TLS{ContextType: contextType, KeyStore: key, TrustStore: trust}
	return nil
}
