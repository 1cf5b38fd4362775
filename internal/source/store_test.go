package source

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/common/logging"
	"outbound-router/internal/redis"
	"outbound-router/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Adapter {
	t.Helper()
	a, err := sqlite.NewAdapter(context.Background(), filepath.Join(t.TempDir(), "configs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestStoreSource_Sync(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)
	store := newTestStore(t)
	require.NoError(t, store.Save(ctx, clientconfig.Raw{ID: "a", Rank: "20", HostPatterns: []string{"h"}}))
	require.NoError(t, store.Save(ctx, clientconfig.Raw{ID: "b", Rank: "10", HostPatterns: []string{"h"}}))

	src := NewStoreSource(store, NewReconciler(f, logging.NewNopLogger()), logging.NewNopLogger())
	res, err := src.Sync(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err())

	c, err := f.Get("http://h/")
	require.NoError(t, err)
	assert.Equal(t, "a", c.ID())

	require.NoError(t, store.Delete(ctx, "a"))
	res, err = src.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Removed)

	c, err = f.Get("http://h/")
	require.NoError(t, err)
	assert.Equal(t, "b", c.ID())
}

func TestStoreSource_Refresh(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)
	store := newTestStore(t)
	src := NewStoreSource(store, NewReconciler(f, logging.NewNopLogger()), logging.NewNopLogger())

	require.NoError(t, store.Save(ctx, clientconfig.Raw{ID: "x"}))
	require.NoError(t, src.Refresh(ctx, "x"))
	_, ok := f.Lookup("x")
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "x"))
	require.NoError(t, src.Refresh(ctx, "x"))
	_, ok = f.Lookup("x")
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, clientconfig.Raw{ID: "bad", HostPatterns: []string{"(["}}))
	assert.Error(t, src.Refresh(ctx, "bad"))
}

func TestStoreSource_Schedule(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)
	store := newTestStore(t)
	src := NewStoreSource(store, NewReconciler(f, logging.NewNopLogger()), logging.NewNopLogger())

	_, err := src.Schedule("not a schedule")
	require.Error(t, err)

	c, err := src.Schedule("@every 1s")
	require.NoError(t, err)
	defer c.Stop()

	require.NoError(t, store.Save(ctx, clientconfig.Raw{ID: "later"}))
	require.Eventually(t, func() bool {
		_, ok := f.Lookup("later")
		return ok
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStoreSource_ChangeNotifications(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newTestFactory(t)
	store := newTestStore(t)
	src := NewStoreSource(store, NewReconciler(f, logging.NewNopLogger()), logging.NewNopLogger())

	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()
	notifier := redis.NewNotifier(client, "configs", logging.NewNopLogger())

	ready := make(chan struct{})
	go func() {
		_ = notifier.Listen(ctx, ready, func(c redis.Change) { src.HandleChange(ctx, c) })
	}()
	<-ready

	require.NoError(t, store.Save(ctx, clientconfig.Raw{ID: "pushed", HostPatterns: []string{"h"}}))
	require.NoError(t, notifier.Notify(ctx, redis.OpUpsert, "pushed"))

	require.Eventually(t, func() bool {
		_, ok := f.Lookup("pushed")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, store.Delete(ctx, "pushed"))
	require.NoError(t, notifier.Notify(ctx, redis.OpDelete, "pushed"))

	require.Eventually(t, func() bool {
		_, ok := f.Lookup("pushed")
		return !ok
	}, 5*time.Second, 20*time.Millisecond)
}
