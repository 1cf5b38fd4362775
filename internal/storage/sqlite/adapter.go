// Package sqlite stores client configurations in a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/common/errors"
	"outbound-router/internal/storage"
)

// Type is the DATABASE_TYPE value of this backend.
const Type = "sqlite"

type Adapter struct {
	db   *sql.DB
	path string
}

// NewAdapter opens (creating if needed) the database at path and migrates it.
func NewAdapter(ctx context.Context, path string) (*Adapter, error) {
	if path == "" {
		return nil, errors.ConfigError("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.InternalError("failed to create database directory", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.InternalError("failed to open database", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.InternalError("failed to ping database", err)
	}

	a := &Adapter{db: db, path: path}
	if err := a.migrate(ctx); err != nil {
		db.Close()
		return nil, errors.InternalError("failed to migrate database", err)
	}
	return a, nil
}

func (a *Adapter) migrate(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS client_configs (
		id TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	return err
}

func (a *Adapter) List(ctx context.Context) ([]storage.Record, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT id, document, updated_at FROM client_configs ORDER BY id`)
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
	row := a.db.QueryRowContext(ctx, `SELECT id, document, updated_at FROM client_configs WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return storage.Record{}, storage.NotFound(id)
	}
	return rec, err
}

func (a *Adapter) Save(ctx context.Context, raw clientconfig.Raw) error {
	doc, err := storage.EncodeDocument(raw)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `INSERT INTO client_configs (id, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		raw.ID, string(doc), time.Now().UnixMilli())
	if err != nil {
		return errors.InternalError("failed to save configuration", err).WithContext("config_id", raw.ID)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, id string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM client_configs WHERE id = ?`, id)
	if err != nil {
		return errors.InternalError("failed to delete configuration", err).WithContext("config_id", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.NotFound(id)
	}
	return nil
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (storage.Record, error) {
	var (
		id      string
		doc     string
		updated int64
	)
	if err := s.Scan(&id, &doc, &updated); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return storage.Record{}, err
		}
		return storage.Record{}, errors.InternalError(fmt.Sprintf("failed to read configuration %s", id), err)
	}
	raw, err := storage.DecodeDocument(id, []byte(doc))
	if err != nil {
		return storage.Record{}, err
	}
	return storage.Record{Raw: raw, UpdatedAt: time.UnixMilli(updated).UTC()}, nil
}

type backend struct{}

func (backend) GetType() string { return Type }

func (backend) Open(ctx context.Context, settings storage.Settings) (storage.Store, error) {
	return NewAdapter(ctx, settings.Path)
}

func init() {
	storage.Register(backend{})
}
