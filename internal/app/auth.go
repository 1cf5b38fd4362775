package app

import (
	"outbound-router/internal/auth"
)

func (app *App) initializeAuth() error {
	authInstance, err := auth.New(app.Config.JWTSecret)
	if err != nil {
		return err
	}
	app.Auth = authInstance
	return nil
}
