package app

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"outbound-router/internal/common/logging"
	"outbound-router/internal/config"
)

// Version is reported at startup.
var Version = "dev"

const shutdownTimeout = 30 * time.Second

// Run starts the service and blocks until ctx is done or the admin API
// fails, then shuts everything down.
func Run(ctx context.Context, cfg *config.Config) error {
	if _, err := logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFileConfig()); err != nil {
		return err
	}
	defer logging.MustSync()

	logging.Info("Starting outbound router",
		logging.Int("cpus", runtime.NumCPU()),
		logging.String("version", Version),
		logging.String("mode", cfg.ClientMode),
	)

	app, err := New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	srv, err := app.RunServer()
	if err != nil {
		return err
	}
	errCh := srv.Start()
	logging.Info("Admin API listening", logging.String("addr", srv.Addr()), logging.Bool("tls", srv.TLS()))

	select {
	case err := <-errCh:
		logging.Error("Server failed", err)
		return fmt.Errorf("admin API failed: %w", err)
	case <-ctx.Done():
	}

	logging.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Error during app shutdown", logging.Err(err))
	}

	logging.Info("Server exited")
	return nil
}
