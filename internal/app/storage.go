package app

import (
	"context"
	"fmt"

	"outbound-router/internal/common/logging"
	"outbound-router/internal/storage"
	_ "outbound-router/internal/storage/postgres"
	_ "outbound-router/internal/storage/sqlite"
)

func (app *App) initializeStorage(ctx context.Context) error {
	switch app.Config.DatabaseType {
	case "postgres", "postgresql":
		app.Logger.Info("Database: PostgreSQL",
			logging.String("host", app.Config.PostgresHost),
			logging.String("port", app.Config.PostgresPort),
			logging.String("database", app.Config.PostgresDB),
		)
	default:
		app.Logger.Info("Database: SQLite", logging.String("path", app.Config.DatabasePath))
	}

	store, err := storage.NewStorage(ctx, app.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if app.Config.ConfigEncryptionKey == "" {
		app.Logger.Info("Configuration encryption disabled (no encryption key provided)")
	} else {
		app.Logger.Info("Configuration encryption enabled")
	}

	app.Storage = store
	return nil
}
