package app

import (
	"context"
	"fmt"
	"os"

	"github.com/robfig/cron/v3"

	"outbound-router/internal/auth"
	"outbound-router/internal/common/logging"
	"outbound-router/internal/config"
	"outbound-router/internal/factory"
	"outbound-router/internal/handlers"
	"outbound-router/internal/locks"
	"outbound-router/internal/pooled"
	"outbound-router/internal/redis"
	"outbound-router/internal/source"
	"outbound-router/internal/storage"
	"outbound-router/internal/tlscontext"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Factory     *factory.Factory
	Reconciler  *source.Reconciler
	Storage     storage.Store // nil with the file source
	Auth        *auth.Auth
	RedisClient *redis.Client
	Notifier    *redis.Notifier
	Locker      locks.Locker
	Logger      logging.Logger

	resync   handlers.ResyncFunc
	schedule *cron.Cron
	stop     context.CancelFunc
}

// New creates the application: the client factory, its configuration
// source and the optional change notifications. Background watchers run
// until Shutdown or Cleanup.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
	}

	ctx, app.stop = context.WithCancel(ctx)

	if err := app.initializeAuth(); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeFactory(); err != nil {
		app.Cleanup()
		return nil, err
	}

	var err error
	switch cfg.ConfigSource {
	case config.SourceFile:
		err = app.initializeFileSource(ctx)
	default:
		err = app.initializeStorage(ctx)
		if err == nil {
			err = app.initializeStoreSource(ctx)
		}
	}
	if err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

// newTLSBuilder returns the store builder of the service. Stores missing at
// their configured path are looked up under fallbackDir when it is set.
func newTLSBuilder(fallbackDir string, logger logging.Logger) *tlscontext.Builder {
	loader := tlscontext.FallbackLoader{}
	if fallbackDir != "" {
		loader.Fallback = os.DirFS(fallbackDir)
	}
	return tlscontext.NewBuilder(loader, tlscontext.WithLogger(logger))
}

// newFactory builds the client factory described by cfg.
func newFactory(cfg *config.Config, logger logging.Logger) (*factory.Factory, error) {
	mode, err := pooled.ParseMode(cfg.ClientMode)
	if err != nil {
		return nil, err
	}
	workers, queue := cfg.AsyncSizing()
	return factory.New(
		factory.WithLogger(logger),
		factory.WithMode(mode),
		factory.WithTLSBuilder(newTLSBuilder(cfg.CertFallbackDir, logger)),
		factory.WithLenientPatterns(cfg.LenientPatterns),
		factory.WithAsyncSizing(workers, queue),
	)
}

func (app *App) initializeFactory() error {
	f, err := newFactory(app.Config, app.Logger)
	if err != nil {
		return fmt.Errorf("failed to start client factory: %w", err)
	}
	app.Factory = f
	app.Reconciler = source.NewReconciler(f, app.Logger)
	return nil
}

func (app *App) initializeFileSource(ctx context.Context) error {
	src := source.NewFileSource(app.Config.ConfigFile, app.Reconciler, app.Logger)
	res, err := src.Sync()
	if err != nil {
		return err
	}
	app.logSyncResult(res)
	app.resync = func(context.Context) (source.Result, error) { return src.Sync() }

	go func() {
		if err := src.Watch(ctx); err != nil {
			app.Logger.Error("Configuration file watch stopped", err)
		}
	}()
	app.Logger.Info("Configuration source: file", logging.String("path", src.Path()))
	return nil
}

func (app *App) initializeStoreSource(ctx context.Context) error {
	src := source.NewStoreSource(app.Storage, app.Reconciler, app.Logger)
	res, err := src.Sync(ctx)
	if err != nil {
		return fmt.Errorf("initial configuration sync failed: %w", err)
	}
	app.logSyncResult(res)
	app.resync = src.Sync

	app.schedule, err = src.Schedule(app.Config.ResyncSchedule)
	if err != nil {
		return err
	}

	if err := app.initializeRedis(ctx, src); err != nil {
		return err
	}
	app.Logger.Info("Configuration source: store",
		logging.String("database", app.Config.DatabaseType),
		logging.String("resync", app.Config.ResyncSchedule),
	)
	return nil
}

func (app *App) logSyncResult(res source.Result) {
	if err := res.Err(); err != nil {
		app.Logger.Warn("Some configurations were not registered", logging.Err(err))
		return
	}
	app.Logger.Info("Configurations loaded",
		logging.Int("registered", len(res.Registered)),
		logging.Int("unchanged", len(res.Unchanged)),
		logging.Int("removed", len(res.Removed)),
	)
}

// Cleanup releases all resources. Safe to call more than once.
func (app *App) Cleanup() {
	if app.stop != nil {
		app.stop()
	}
	if app.schedule != nil {
		<-app.schedule.Stop().Done()
		app.schedule = nil
	}
	if app.Factory != nil {
		app.Factory.Shutdown()
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
		app.RedisClient = nil
	}
	if app.Storage != nil {
		app.Storage.Close()
		app.Storage = nil
	}
}
