package factory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/common/errors"
	"outbound-router/internal/common/logging"
	"outbound-router/internal/pooled"
)

func newFactory(t *testing.T, opts ...Option) *Factory {
	t.Helper()
	f, err := New(append([]Option{WithLogger(logging.NewNopLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(f.Shutdown)
	return f
}

func mustGet(t *testing.T, f *Factory, target string) *pooled.Client {
	t.Helper()
	c, err := f.Get(target)
	require.NoError(t, err)
	return c
}

func TestFactory_FallbackToDefault(t *testing.T) {
	f := newFactory(t)

	for _, target := range []string{"http://a/x", "https://b.example.com:8443/y?q=1", "http://c"} {
		c := mustGet(t, f, target)
		assert.True(t, c.IsDefault(), target)
		assert.Same(t, f.Default(), c)
	}

	rc, err := f.DefaultRequestConfig("http://anything/")
	require.NoError(t, err)
	assert.Equal(t, 15000*time.Millisecond, rc.ConnectTimeout)
	assert.Equal(t, 60000*time.Millisecond, rc.SocketTimeout)
	assert.Equal(t, 15000*time.Millisecond, rc.ConnectionRequestTimeout)

	cfg := f.Default().Config()
	assert.Equal(t, 50, cfg.MaxConnectionsPerRoute)
	assert.Equal(t, 50, cfg.MaxTotalConnections)
}

func TestFactory_Scenario(t *testing.T) {
	f := newFactory(t)

	require.NoError(t, f.RegisterRaw(clientconfig.Raw{
		ID:             "host1-path1",
		HostPatterns:   []string{"host1"},
		PathPatterns:   []string{"/path1"},
		ConnectTimeout: "55",
		Rank:           "10",
	}))

	c := mustGet(t, f, "http://host1/path1")
	assert.Equal(t, "host1-path1", c.ID())
	assert.Equal(t, 55*time.Millisecond, c.RequestConfig().ConnectTimeout)

	other := mustGet(t, f, "http://host1/path2")
	assert.True(t, other.IsDefault())
	assert.Equal(t, 15000*time.Millisecond, other.RequestConfig().ConnectTimeout)

	assert.True(t, mustGet(t, f, "http://host2/path1").IsDefault())
}

func TestFactory_HigherRankWins(t *testing.T) {
	f := newFactory(t)

	require.NoError(t, f.RegisterRaw(clientconfig.Raw{ID: "b", Rank: "10", HostPatterns: []string{"h"}}))
	require.NoError(t, f.RegisterRaw(clientconfig.Raw{ID: "a", Rank: "20", HostPatterns: []string{"h"}}))

	assert.Equal(t, "a", mustGet(t, f, "http://h/x").ID())

	entries := f.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "b", entries[1].ID)
}

func TestFactory_EmptyPatternsMatchEverything(t *testing.T) {
	f := newFactory(t)
	require.NoError(t, f.RegisterRaw(clientconfig.Raw{ID: "catch-all"}))

	for _, target := range []string{"http://a/", "http://b/deep/path", "https://c:9443"} {
		assert.Equal(t, "catch-all", mustGet(t, f, target).ID(), target)
	}
}

func TestFactory_WSAddressingGating(t *testing.T) {
	f := newFactory(t)
	require.NoError(t, f.RegisterRaw(clientconfig.Raw{ID: "ws", WSAddressingURIs: []string{"u1"}}))

	c, err := f.GetForService("http://h/soap", "u1")
	require.NoError(t, err)
	assert.Equal(t, "ws", c.ID())

	c, err = f.GetForService("http://h/soap", "u2")
	require.NoError(t, err)
	assert.True(t, c.IsDefault())

	c, err = f.GetForService("http://h/soap", "")
	require.NoError(t, err)
	assert.True(t, c.IsDefault())

	assert.Equal(t, "ws", mustGet(t, f, "http://any-host/any/path").ID())
}

func TestFactory_InvalidPatternStrictRejects(t *testing.T) {
	f := newFactory(t)

	err := f.RegisterRaw(clientconfig.Raw{ID: "bad", HostPatterns: []string{"h", "(unclosed"}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	assert.Equal(t, "host_patterns", errors.GetField(err))

	assert.Empty(t, f.Entries())
	assert.True(t, mustGet(t, f, "http://h/").IsDefault())
}

func TestFactory_InvalidPatternLenientRegistersDisabled(t *testing.T) {
	f := newFactory(t, WithLenientPatterns(true))

	require.NoError(t, f.RegisterRaw(clientconfig.Raw{ID: "bad", HostPatterns: []string{"h", "(unclosed"}}))

	c, ok := f.Lookup("bad")
	require.True(t, ok)
	assert.False(t, c.Config().Enabled)

	assert.True(t, mustGet(t, f, "http://h/").IsDefault())
	assert.True(t, mustGet(t, f, "http://other/").IsDefault())
}

func TestFactory_FailedRegistrationLeavesTableUnchanged(t *testing.T) {
	f := newFactory(t)
	require.NoError(t, f.RegisterRaw(clientconfig.Raw{ID: "good", HostPatterns: []string{"h"}}))
	before := mustGet(t, f, "http://h/")

	err := f.RegisterRaw(clientconfig.Raw{
		ID:               "tls",
		Rank:             "100",
		HostPatterns:     []string{"h"},
		KeyStorePath:     "/does/not/exist.p12",
		KeyStorePassword: "x",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeResource))

	assert.Same(t, before, mustGet(t, f, "http://h/"))
	assert.Len(t, f.Entries(), 1)

	// A failed replacement keeps the running client.
	err = f.RegisterRaw(clientconfig.Raw{
		ID:           "good",
		HostPatterns: []string{"h"},
		KeyStorePath: "/does/not/exist.p12",
	})
	require.Error(t, err)
	assert.Same(t, before, mustGet(t, f, "http://h/"))
	assert.False(t, before.Closed())
}

func TestFactory_ReregisterReplacesAndClosesOld(t *testing.T) {
	f := newFactory(t)
	require.NoError(t, f.RegisterRaw(clientconfig.Raw{ID: "x", HostPatterns: []string{"h"}, ConnectTimeout: "10"}))
	old := mustGet(t, f, "http://h/")

	require.NoError(t, f.RegisterRaw(clientconfig.Raw{ID: "x", HostPatterns: []string{"h"}, ConnectTimeout: "20"}))
	current := mustGet(t, f, "http://h/")

	assert.NotSame(t, old, current)
	assert.True(t, old.Closed())
	assert.Equal(t, 20*time.Millisecond, current.RequestConfig().ConnectTimeout)
	assert.Len(t, f.Entries(), 1)
}

func TestFactory_UnregisterRemovesThenCloses(t *testing.T) {
	f := newFactory(t)
	require.NoError(t, f.RegisterRaw(clientconfig.Raw{ID: "x", HostPatterns: []string{"h"}}))
	c := mustGet(t, f, "http://h/")

	require.NoError(t, f.Unregister("x"))
	assert.True(t, c.Closed())
	assert.True(t, mustGet(t, f, "http://h/").IsDefault())

	c.Close()

	err := f.Unregister("x")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestFactory_ShutdownIdempotent(t *testing.T) {
	f := newFactory(t)
	require.NoError(t, f.RegisterRaw(clientconfig.Raw{ID: "x"}))
	c := mustGet(t, f, "http://h/")
	def := f.Default()

	f.Shutdown()
	f.Shutdown()

	assert.True(t, f.Closed())
	assert.True(t, c.Closed())
	assert.True(t, def.Closed())

	_, err := f.Get("http://h/")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeRouting))
	assert.Equal(t, CodeFactoryClosed, errors.GetCode(err))

	err = f.RegisterRaw(clientconfig.Raw{ID: "y"})
	assert.Equal(t, CodeFactoryClosed, errors.GetCode(err))

	assert.NoError(t, f.Unregister("x"))
}

func TestFactory_InvalidTargetURL(t *testing.T) {
	f := newFactory(t)

	for _, target := range []string{"http://[::1", "not a url", "/relative/path", ""} {
		_, err := f.Get(target)
		require.Error(t, err, target)
		assert.True(t, errors.IsType(err, errors.ErrTypeRouting), target)
		assert.Equal(t, CodeInvalidURL, errors.GetCode(err), target)
	}

	_, err := f.DefaultRequestConfig("::")
	assert.True(t, errors.IsType(err, errors.ErrTypeRouting))
}

func TestFactory_RegisterValidation(t *testing.T) {
	f := newFactory(t)

	err := f.Register("default", clientconfig.Default())
	assert.Equal(t, "id", errors.GetField(err))

	err = f.Register("bad id", clientconfig.Default())
	assert.Equal(t, "id", errors.GetField(err))

	err = f.RegisterRaw(clientconfig.Raw{ID: "x", Rank: "high"})
	assert.Equal(t, "rank", errors.GetField(err))
	assert.Empty(t, f.Entries())
}

func TestFactory_AsyncMode(t *testing.T) {
	f := newFactory(t, WithMode(pooled.ModeAsync), WithAsyncSizing(2, 2))
	require.NoError(t, f.RegisterRaw(clientconfig.Raw{ID: "x"}))

	c := mustGet(t, f, "http://h/")
	require.NotNil(t, c.Async())
	assert.True(t, c.Async().Running())
	assert.True(t, f.Default().Async().Running())

	f.Shutdown()
	assert.False(t, c.Async().Running())
}

func TestFactory_ConcurrentResolveDuringRegistration(t *testing.T) {
	f := newFactory(t)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				c, err := f.Get("http://h/x")
				if err != nil {
					t.Error(err)
					return
				}
				if c.IsDefault() && c.Closed() {
					t.Error("default client closed while factory active")
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("c%d", i%3)
		require.NoError(t, f.RegisterRaw(clientconfig.Raw{ID: id, Rank: clientconfig.Scalar(fmt.Sprint(i % 5)), HostPatterns: []string{"h"}}))
		if i%4 == 0 {
			require.NoError(t, f.Unregister(id))
		}
	}
	close(stop)
	wg.Wait()
}
