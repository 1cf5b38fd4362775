// Package storage persists administrative client configuration records.
//
// Backends register themselves with Register from their package init and are
// opened by DATABASE_TYPE:
//
//	import _ "outbound-router/internal/storage/sqlite"
//
//	store, err := storage.NewStorage(ctx, cfg)
package storage

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/common/errors"
	"outbound-router/internal/common/registry"
	"outbound-router/internal/config"
	"outbound-router/internal/crypto"
)

// Record is a stored configuration with its last modification time.
type Record struct {
	Raw       clientconfig.Raw `json:"config"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Store is a persistent set of configuration records keyed by id.
type Store interface {
	// List returns every record ordered by id.
	List(ctx context.Context) ([]Record, error)
	// Get returns the record stored under id, or a not_found error.
	Get(ctx context.Context, id string) (Record, error)
	// Save inserts or replaces the record stored under raw.ID.
	Save(ctx context.Context, raw clientconfig.Raw) error
	// Delete removes the record stored under id, or returns a not_found error.
	Delete(ctx context.Context, id string) error
	Health(ctx context.Context) error
	Close() error
}

// Settings carries the connection parameters of every backend. Each backend
// reads the fields it needs.
type Settings struct {
	Path string

	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

// PostgresURL renders the postgres fields as a connection URL.
func (s Settings) PostgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(s.Username, s.Password),
		Host:   net.JoinHostPort(s.Host, s.Port),
		Path:   "/" + s.Database,
	}
	if s.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {s.SSLMode}}.Encode()
	}
	return u.String()
}

// Backend opens a Store of one database type.
type Backend interface {
	GetType() string
	Open(ctx context.Context, settings Settings) (Store, error)
}

var backends = registry.New[Backend]()

// Register makes a backend available to Open.
func Register(b Backend) {
	backends.Register(b)
}

// Types returns the registered backend types.
func Types() []string {
	return backends.Types()
}

// Open opens a store of the given database type.
func Open(ctx context.Context, dbType string, settings Settings) (Store, error) {
	b, err := backends.Get(dbType)
	if err != nil {
		return nil, errors.ConfigError("unsupported database type: " + dbType).WithCause(err)
	}
	return b.Open(ctx, settings)
}

// NewStorage opens the store selected by cfg, sealing secrets when an
// encryption key is configured.
func NewStorage(ctx context.Context, cfg *config.Config) (Store, error) {
	dbType := cfg.DatabaseType
	if dbType == "postgresql" {
		dbType = "postgres"
	}

	store, err := Open(ctx, dbType, Settings{
		Path:     cfg.DatabasePath,
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		Database: cfg.PostgresDB,
		Username: cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		SSLMode:  cfg.PostgresSSLMode,
	})
	if err != nil {
		return nil, err
	}

	if cfg.ConfigEncryptionKey == "" {
		return store, nil
	}
	sealer, err := crypto.NewSealer(cfg.ConfigEncryptionKey)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return Sealed(store, sealer), nil
}

// EncodeDocument serializes a record for a document column.
func EncodeDocument(raw clientconfig.Raw) ([]byte, error) {
	if err := clientconfig.ValidateID(raw.ID); err != nil {
		return nil, err
	}
	doc, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.InternalError("failed to encode configuration", err)
	}
	return doc, nil
}

// DecodeDocument is the inverse of EncodeDocument.
func DecodeDocument(id string, doc []byte) (clientconfig.Raw, error) {
	var raw clientconfig.Raw
	if err := json.Unmarshal(doc, &raw); err != nil {
		return clientconfig.Raw{}, errors.InternalError("failed to decode stored configuration", err).
			WithContext("config_id", id)
	}
	raw.ID = id
	return raw, nil
}

// NotFound is the error returned for a missing record.
func NotFound(id string) error {
	return errors.NotFoundError("client configuration " + id)
}
