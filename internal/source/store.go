package source

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/common/errors"
	"outbound-router/internal/common/logging"
	"outbound-router/internal/redis"
	"outbound-router/internal/storage"
)

// syncTimeout bounds a scheduled resync.
const syncTimeout = time.Minute

// StoreSource reconciles the factory with a configuration store. It is driven
// by an initial Sync, a cron resync schedule and, when instances share the
// store, change notifications.
type StoreSource struct {
	store  storage.Store
	rec    *Reconciler
	logger logging.Logger
}

// NewStoreSource creates a source reading store.
func NewStoreSource(store storage.Store, rec *Reconciler, logger logging.Logger) *StoreSource {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &StoreSource{store: store, rec: rec, logger: logger}
}

// Sync reads every record and reconciles them. A store failure leaves the
// registered set untouched.
func (s *StoreSource) Sync(ctx context.Context) (Result, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return Result{}, err
	}
	raws := make([]clientconfig.Raw, len(records))
	for i, rec := range records {
		raws[i] = rec.Raw
	}
	return s.rec.Sync(raws), nil
}

// Refresh re-reads the single record id: a present record is applied and a
// missing one is removed.
func (s *StoreSource) Refresh(ctx context.Context, id string) error {
	rec, err := s.store.Get(ctx, id)
	if errors.IsType(err, errors.ErrTypeNotFound) {
		return s.rec.Remove(id)
	}
	if err != nil {
		return err
	}
	_, err = s.rec.Apply(rec.Raw)
	return err
}

// HandleChange applies a change notification. The store stays the source of
// truth: the record is re-read rather than trusted from the message.
func (s *StoreSource) HandleChange(ctx context.Context, change redis.Change) {
	if err := s.Refresh(ctx, change.ID); err != nil {
		s.logger.Warn("Failed to apply configuration change",
			logging.ConfigID(change.ID),
			logging.String("op", change.Op),
			logging.Err(err),
		)
		return
	}
	s.logger.Debug("Applied configuration change",
		logging.ConfigID(change.ID),
		logging.String("op", change.Op),
	)
}

// Schedule starts a cron runner that resyncs on schedule. Stop the returned
// runner to end the schedule.
func (s *StoreSource) Schedule(schedule string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		res, err := s.Sync(ctx)
		if err != nil {
			s.logger.Error("Scheduled configuration resync failed", err)
			return
		}
		if err := res.Err(); err != nil {
			s.logger.Warn("Scheduled configuration resync finished with errors", logging.Err(err))
		}
	})
	if err != nil {
		return nil, errors.ConfigError("invalid resync schedule " + schedule).WithCause(err)
	}
	c.Start()
	return c, nil
}
