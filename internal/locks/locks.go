// Package locks serializes read-modify-write cycles on stored client
// configurations. With Redis the locks are distributed across instances
// using the Redlock implementation of go-redsync; without it they only
// exclude goroutines of this process.
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"outbound-router/internal/common/errors"
	"outbound-router/internal/redis"
)

// DefaultExpiry bounds how long a crashed holder can block others.
const DefaultExpiry = 30 * time.Second

// Lock is a held lock.
type Lock interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker hands out exclusive locks by key.
type Locker interface {
	// Acquire blocks until the lock of key is held or ctx is done.
	Acquire(ctx context.Context, key string) (Lock, error)
}

// ConfigKey returns the lock key guarding the stored configuration id.
func ConfigKey(id string) string {
	return "config:" + id
}

// RedsyncLocker implements Locker on Redis.
type RedsyncLocker struct {
	redsync *redsync.Redsync
	expiry  time.Duration
}

// NewRedsyncLocker creates a distributed locker. A zero expiry means DefaultExpiry.
func NewRedsyncLocker(client *redis.Client, expiry time.Duration) (*RedsyncLocker, error) {
	if client == nil {
		return nil, errors.ConfigError("redis client is required")
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	pool := goredis.NewPool(client.GetGoRedisClient())
	return &RedsyncLocker{redsync: redsync.New(pool), expiry: expiry}, nil
}

// Acquire implements Locker. Contention is retried until ctx is done.
func (l *RedsyncLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	mutex := l.redsync.NewMutex(fmt.Sprintf("lock:%s", key),
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(1),
	)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		err := mutex.LockContext(ctx)
		if err == nil {
			return &redsyncLock{key: key, mutex: mutex}, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.InternalError("failed to acquire distributed lock", err).
				WithContext("key", key)
		case <-ticker.C:
		}
	}
}

type redsyncLock struct {
	key   string
	mutex *redsync.Mutex
}

func (l *redsyncLock) Key() string { return l.key }

func (l *redsyncLock) Release(ctx context.Context) error {
	if ok, err := l.mutex.UnlockContext(ctx); err != nil || !ok {
		return errors.InternalError("failed to release distributed lock", err).
			WithContext("key", l.key)
	}
	return nil
}

// LocalLocker implements Locker for a single process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocker returns an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[key] = s
	}
	return s
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	s := l.slot(key)
	select {
	case s <- struct{}{}:
		return &localLock{key: key, slot: s}, nil
	case <-ctx.Done():
		return nil, errors.InternalError("failed to acquire lock", ctx.Err()).WithContext("key", key)
	}
}

type localLock struct {
	key  string
	slot chan struct{}
	once sync.Once
}

func (l *localLock) Key() string { return l.key }

func (l *localLock) Release(context.Context) error {
	l.once.Do(func() { <-l.slot })
	return nil
}
