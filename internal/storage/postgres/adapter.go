// Package postgres stores client configurations in PostgreSQL through a
// pgx connection pool.
package postgres

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/common/errors"
	"outbound-router/internal/storage"
)

// Type is the DATABASE_TYPE value of this backend.
const Type = "postgres"

type Adapter struct {
	pool *pgxpool.Pool
}

// NewAdapter connects to connString, verifies the connection and migrates.
func NewAdapter(ctx context.Context, connString string) (*Adapter, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.ConfigError("invalid PostgreSQL connection settings").WithCause(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.InternalError("failed to create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.InternalError("failed to ping database", err)
	}

	a := &Adapter{pool: pool}
	if err := a.migrate(ctx); err != nil {
		pool.Close()
		return nil, errors.InternalError("failed to migrate database", err)
	}
	return a, nil
}

func (a *Adapter) migrate(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS client_configs (
		id TEXT PRIMARY KEY,
		document JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	return err
}

func (a *Adapter) List(ctx context.Context) ([]storage.Record, error) {
	rows, err := a.pool.Query(ctx, `SELECT id, document, updated_at FROM client_configs ORDER BY id`)
	if err != nil {
		return nil, errors.InternalError("failed to list configurations", err)
	}
	defer rows.Close()

	var records []storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError("failed to list configurations", err)
	}
	return records, nil
}

func (a *Adapter) Get(ctx context.Context, id string) (storage.Record, error) {
	row := a.pool.QueryRow(ctx, `SELECT id, document, updated_at FROM client_configs WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return storage.Record{}, storage.NotFound(id)
	}
	return rec, err
}

func (a *Adapter) Save(ctx context.Context, raw clientconfig.Raw) error {
	doc, err := storage.EncodeDocument(raw)
	if err != nil {
		return err
	}
	_, err = a.pool.Exec(ctx, `INSERT INTO client_configs (id, document, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		raw.ID, string(doc))
	if err != nil {
		return errors.InternalError("failed to save configuration", err).WithContext("config_id", raw.ID)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, id string) error {
	tag, err := a.pool.Exec(ctx, `DELETE FROM client_configs WHERE id = $1`, id)
	if err != nil {
		return errors.InternalError("failed to delete configuration", err).WithContext("config_id", id)
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound(id)
	}
	return nil
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (storage.Record, error) {
	var (
		id      string
		doc     []byte
		updated time.Time
	)
	if err := row.Scan(&id, &doc, &updated); err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return storage.Record{}, err
		}
		return storage.Record{}, errors.InternalError("failed to read configuration", err)
	}
	raw, err := storage.DecodeDocument(id, doc)
	if err != nil {
		return storage.Record{}, err
	}
	return storage.Record{Raw: raw, UpdatedAt: updated.UTC()}, nil
}

type backend struct{}

func (backend) GetType() string { return Type }

func (backend) Open(ctx context.Context, settings storage.Settings) (storage.Store, error) {
	return NewAdapter(ctx, settings.PostgresURL())
}

func init() {
	storage.Register(backend{})
}
