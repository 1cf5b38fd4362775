// Package handlers serves the admin API of the outbound router: inspection of
// the registered clients, route resolution and, when configurations live in
// a store, their administration.
package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"outbound-router/internal/auth"
	"outbound-router/internal/common/logging"
	"outbound-router/internal/factory"
	"outbound-router/internal/locks"
	"outbound-router/internal/middleware"
	"outbound-router/internal/ratelimit"
	"outbound-router/internal/redis"
	"outbound-router/internal/source"
	"outbound-router/internal/storage"
)

// ResyncFunc reloads every configuration from its source.
type ResyncFunc func(ctx context.Context) (source.Result, error)

// Options wires the handlers to the running service. Store is nil when
// configurations are managed by a file; the API is then read-only. A nil
// Locker means a process-local locker and a nil RateLimiter disables
// throttling of /api callers.
type Options struct {
	Factory     *factory.Factory
	Reconciler  *source.Reconciler
	Store       storage.Store
	Notifier    *redis.Notifier
	Locker      locks.Locker
	RateLimiter *ratelimit.Limiter
	Resync      ResyncFunc
	Auth        *auth.Auth
	Logger      logging.Logger
}

type Handlers struct {
	factory  *factory.Factory
	rec      *source.Reconciler
	store    storage.Store
	notifier *redis.Notifier
	locker   locks.Locker
	limiter  *ratelimit.Limiter
	resync   ResyncFunc
	auth     *auth.Auth
	logger   logging.Logger
}

func New(opts Options) *Handlers {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	locker := opts.Locker
	if locker == nil {
		locker = locks.NewLocalLocker()
	}
	return &Handlers{
		factory:  opts.Factory,
		rec:      opts.Reconciler,
		store:    opts.Store,
		notifier: opts.Notifier,
		locker:   locker,
		limiter:  opts.RateLimiter,
		resync:   opts.Resync,
		auth:     opts.Auth,
		logger:   logger,
	}
}

// Router returns the HTTP routes. Everything under /api needs a bearer
// token; mutations need the write scope.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover(h.logger), middleware.Logging(h.logger))

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.auth.RequireAuth)
	if h.limiter != nil {
		api.Use(h.limiter.Middleware(subjectKey))
	}

	api.HandleFunc("/clients", h.ListClients).Methods(http.MethodGet)
	api.HandleFunc("/clients/{id}", h.GetClient).Methods(http.MethodGet)
	api.HandleFunc("/resolve", h.Resolve).Methods(http.MethodGet)

	api.HandleFunc("/configs", h.ListConfigs).Methods(http.MethodGet)
	api.HandleFunc("/configs/{id}", h.GetConfig).Methods(http.MethodGet)
	api.Handle("/configs/{id}", auth.RequireWrite(http.HandlerFunc(h.PutConfig))).Methods(http.MethodPut)
	api.Handle("/configs/{id}", auth.RequireWrite(http.HandlerFunc(h.DeleteConfig))).Methods(http.MethodDelete)
	api.Handle("/sync", auth.RequireWrite(http.HandlerFunc(h.Sync))).Methods(http.MethodPost)

	return r
}

// subjectKey rate limits authenticated callers by token subject.
func subjectKey(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.Subject != "" {
		return "subject:" + claims.Subject
	}
	return ratelimit.IPBasedKey(r)
}
