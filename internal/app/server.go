package app

import (
	"context"

	"outbound-router/internal/common/logging"
	"outbound-router/internal/handlers"
	"outbound-router/internal/ratelimit"
	"outbound-router/internal/server"
)

// RunServer builds the admin API server. The caller starts it.
func (app *App) RunServer() (*server.Server, error) {
	limiter, err := app.initializeRateLimiter()
	if err != nil {
		return nil, err
	}

	h := handlers.New(handlers.Options{
		Factory:     app.Factory,
		Reconciler:  app.Reconciler,
		Store:       app.Storage,
		Notifier:    app.Notifier,
		Locker:      app.Locker,
		RateLimiter: limiter,
		Resync:      app.resync,
		Auth:        app.Auth,
		Logger:      app.Logger,
	})

	return server.New(h.Router(), app.Config.Port, app.Config.TLSCertFile, app.Config.TLSKeyFile), nil
}

func (app *App) initializeRateLimiter() (*ratelimit.Limiter, error) {
	rps, burst := app.Config.RateLimit()
	if rps == 0 {
		app.Logger.Info("Rate Limiting: Disabled")
		return nil, nil
	}

	cfg := ratelimit.DefaultConfig()
	cfg.RequestsPerSecond = rps
	cfg.BurstSize = burst
	limiter, err := ratelimit.NewLimiter(cfg)
	if err != nil {
		return nil, err
	}
	app.Logger.Info("Rate Limiting: Enabled",
		logging.Any("requests_per_second", rps),
		logging.Int("burst", burst),
	)
	return limiter, nil
}

// Shutdown stops the background watchers and every pooled client. The
// store and Redis connections are released by Cleanup.
func (app *App) Shutdown(ctx context.Context) error {
	app.stop()
	if app.schedule != nil {
		select {
		case <-app.schedule.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		app.schedule = nil
	}
	app.Factory.Shutdown()
	return nil
}
