package app

import (
	"context"

	"outbound-router/internal/common/logging"
	"outbound-router/internal/locks"
	"outbound-router/internal/redis"
	"outbound-router/internal/source"
)

func (app *App) initializeRedis(ctx context.Context, src *source.StoreSource) error {
	if app.Config.RedisAddress == "" {
		app.Logger.Info("Redis: Not configured (change notifications and distributed locks disabled)")
		return nil
	}

	redisClient, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDBNumber(),
	})
	if err != nil {
		return err
	}
	app.RedisClient = redisClient
	app.Notifier = redis.NewNotifier(redisClient, app.Config.RedisChannel, app.Logger)

	locker, err := locks.NewRedsyncLocker(redisClient, locks.DefaultExpiry)
	if err != nil {
		return err
	}
	app.Locker = locker

	go func() {
		err := app.Notifier.Listen(ctx, nil, func(c redis.Change) { src.HandleChange(ctx, c) })
		if err != nil {
			app.Logger.Error("Configuration change listener stopped", err)
		}
	}()

	app.Logger.Info("Redis: Connected",
		logging.String("address", app.Config.RedisAddress),
		logging.String("channel", app.Config.RedisChannel),
	)
	return nil
}
