package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/common/errors"
	"outbound-router/internal/common/logging"
	"outbound-router/internal/factory"
)

const unknownKeyFile = `configs:
  - id: host1-path1
    host_patterns: ["host1"]
    path_patterns: ["/path1"]
    connect_timeout: 55
    rank: 10
  - id: soap
    ws_addressing_uris: ["urn:partner:orders"]
    basic_auth_user: ignored
`

func TestDecodeFile(t *testing.T) {
	raws, err := DecodeFile(strings.NewReader(`configs:
  - id: a
    rank: 10
    enabled: false
    host_patterns: ["api\\.example\\.com"]
  - id: b
    proxy_host: proxy
    proxy_port: "3128"
`))
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, clientconfig.Scalar("10"), raws[0].Rank)
	assert.Equal(t, clientconfig.Scalar("false"), raws[0].Enabled)
	assert.Equal(t, []string{`api\.example\.com`}, raws[0].HostPatterns)
	assert.Equal(t, clientconfig.Scalar("3128"), raws[1].ProxyPort)
}

func TestDecodeFile_RejectsUnknownKeys(t *testing.T) {
	_, err := DecodeFile(strings.NewReader(unknownKeyFile))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestDecodeFile_Empty(t *testing.T) {
	raws, err := DecodeFile(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, raws)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errors.IsType(err, errors.ErrTypeResource))
}

func newTestFactory(t *testing.T) *factory.Factory {
	t.Helper()
	f, err := factory.New(factory.WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)
	t.Cleanup(f.Shutdown)
	return f
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestFileSource_SyncRoutesFactory(t *testing.T) {
	f := newTestFactory(t)
	path := filepath.Join(t.TempDir(), "clients.yaml")
	writeFile(t, path, `configs:
  - id: host1-path1
    host_patterns: ["host1"]
    path_patterns: ["/path1"]
    connect_timeout: 55
`)

	src := NewFileSource(path, NewReconciler(f, logging.NewNopLogger()), logging.NewNopLogger())
	res, err := src.Sync()
	require.NoError(t, err)
	require.NoError(t, res.Err())

	c, err := f.Get("http://host1/path1")
	require.NoError(t, err)
	assert.Equal(t, "host1-path1", c.ID())
	assert.Equal(t, 55*time.Millisecond, c.RequestConfig().ConnectTimeout)
}

func TestFileSource_BrokenFileKeepsRegistrations(t *testing.T) {
	f := newTestFactory(t)
	path := filepath.Join(t.TempDir(), "clients.yaml")
	writeFile(t, path, "configs:\n  - id: a\n")

	src := NewFileSource(path, NewReconciler(f, logging.NewNopLogger()), logging.NewNopLogger())
	_, err := src.Sync()
	require.NoError(t, err)

	writeFile(t, path, "configs: [unterminated")
	_, err = src.Sync()
	require.Error(t, err)

	_, ok := f.Lookup("a")
	assert.True(t, ok)
}

func TestFileSource_WatchReloads(t *testing.T) {
	f := newTestFactory(t)
	path := filepath.Join(t.TempDir(), "clients.yaml")
	writeFile(t, path, "configs:\n  - id: a\n    host_patterns: [\"h\"]\n")

	src := NewFileSource(path, NewReconciler(f, logging.NewNopLogger()), logging.NewNopLogger())
	src.SetDebounce(20 * time.Millisecond)
	_, err := src.Sync()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx) }()

	// The watch is registered asynchronously; keep rewriting until it is seen.
	require.Eventually(t, func() bool {
		writeFile(t, path, "configs:\n  - id: b\n    host_patterns: [\"h\"]\n")
		_, hasB := f.Lookup("b")
		_, hasA := f.Lookup("a")
		return hasB && !hasA
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
