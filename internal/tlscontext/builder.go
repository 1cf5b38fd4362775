// Package tlscontext assembles the client TLS configuration of a pooled
// client from its key store and trust store settings.
package tlscontext

import (
	"crypto/tls"
	"crypto/x509"
	stderrors "errors"
	"path/filepath"
	"strings"

	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/common/errors"
	"outbound-router/internal/common/logging"
	"outbound-router/internal/common/registry"
)

// Store types understood by the default builder.
const (
	StoreTypePKCS12 = "PKCS12"
	StoreTypePEM    = "PEM"
)

// Error codes attached to resource errors.
const (
	CodeCertNotFound     = "CERT_NOT_FOUND"
	CodeWrongPassword    = "STORE_WRONG_PASSWORD"
	CodeInvalidStore     = "STORE_INVALID"
	CodeProviderMismatch = "STORE_PROVIDER_MISMATCH"
	CodeUnknownStoreType = "STORE_UNKNOWN_TYPE"
)

// Builder turns clientconfig.TLS settings into a *tls.Config.
type Builder struct {
	resources ResourceLoader
	loaders   *registry.Registry[StoreLoader]
	logger    logging.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithStoreLoader registers an additional store format, replacing any loader
// of the same type.
func WithStoreLoader(l StoreLoader) Option {
	return func(b *Builder) {
		b.loaders.Register(l)
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder creates a Builder. A nil resources loader reads the filesystem only.
func NewBuilder(resources ResourceLoader, opts ...Option) *Builder {
	if resources == nil {
		resources = FallbackLoader{}
	}
	b := &Builder{
		resources: resources,
		loaders:   registry.New[StoreLoader](),
		logger:    logging.GetGlobalLogger(),
	}
	b.loaders.Register(pkcs12Loader{})
	b.loaders.Register(pemLoader{})
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// StoreTypes lists the registered store formats.
func (b *Builder) StoreTypes() []string {
	return b.loaders.Types()
}

// Build returns a TLS configuration for the settings. Without any store the
// result uses the platform trust roots and presents no client certificate.
// Store failures are resource errors and never yield a partial configuration.
func (b *Builder) Build(settings clientconfig.TLS) (*tls.Config, error) {
	minVersion, maxVersion, err := VersionRange(settings.ContextType)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		MinVersion: minVersion,
		MaxVersion: maxVersion,
	}

	if settings.KeyStore.Configured() {
		loader, data, resolved, err := b.open(settings.KeyStore)
		if err != nil {
			return nil, err
		}
		pairs, err := loader.KeyPairs(data, settings.KeyStore.Password)
		if err != nil {
			return nil, storeError("key store", resolved, err)
		}
		cfg.Certificates = pairs
		b.logger.Debug("Loaded key store",
			logging.String("path", resolved),
			logging.String("type", loader.GetType()),
			logging.Int("certificates", len(pairs)),
		)
	}

	if settings.TrustStore.Configured() {
		loader, data, resolved, err := b.open(settings.TrustStore)
		if err != nil {
			return nil, err
		}
		certs, err := loader.Certificates(data, settings.TrustStore.Password)
		if err != nil {
			return nil, storeError("trust store", resolved, err)
		}
		pool := x509.NewCertPool()
		for _, c := range certs {
			pool.AddCert(c)
		}
		cfg.RootCAs = pool
		b.logger.Debug("Loaded trust store",
			logging.String("path", resolved),
			logging.String("type", loader.GetType()),
			logging.Int("certificates", len(certs)),
		)
	}

	return cfg, nil
}

func (b *Builder) open(store clientconfig.StoreSettings) (StoreLoader, []byte, string, error) {
	storeType := store.Type
	if storeType == "" {
		storeType = inferStoreType(store.Path)
	}

	loader, err := b.loaders.Get(storeType)
	if err != nil {
		return nil, nil, "", errors.ResourceError("unsupported store type "+storeType, err).
			WithCode(CodeUnknownStoreType).
			WithContext("path", store.Path)
	}

	if store.Provider != "" && !hasProvider(loader, store.Provider) {
		return nil, nil, "", errors.ResourceError("store provider "+store.Provider+" does not serve type "+loader.GetType(), nil).
			WithCode(CodeProviderMismatch).
			WithContext("providers", strings.Join(loader.Providers(), ","))
	}

	data, resolved, err := b.resources.Load(store.Path)
	if err != nil {
		return nil, nil, resolved, err
	}
	return loader, data, resolved, nil
}

func hasProvider(l StoreLoader, provider string) bool {
	for _, p := range l.Providers() {
		if strings.EqualFold(p, provider) {
			return true
		}
	}
	return false
}

func inferStoreType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pem", ".crt", ".cer":
		return StoreTypePEM
	default:
		return StoreTypePKCS12
	}
}

func storeError(what, resolved string, err error) error {
	code := CodeInvalidStore
	msg := "failed to decode " + what
	if stderrors.Is(err, pkcs12.ErrIncorrectPassword) {
		code = CodeWrongPassword
		msg = what + " password incorrect"
	}
	return errors.ResourceError(msg, err).
		WithCode(code).
		WithContext("path", resolved)
}

// VersionRange maps an SSL context type to the allowed TLS versions.
func VersionRange(contextType string) (uint16, uint16, error) {
	switch contextType {
	case "", "TLS":
		return tls.VersionTLS12, 0, nil
	case "TLSv1.2":
		return tls.VersionTLS12, tls.VersionTLS12, nil
	case "TLSv1.3":
		return tls.VersionTLS13, tls.VersionTLS13, nil
	default:
		return 0, 0, errors.FieldError("ssl_context_type", "unsupported SSL context type "+contextType, nil)
	}
}
