package pooled

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outbound-router/internal/clientconfig"
	"outbound-router/internal/common/errors"
	"outbound-router/internal/common/logging"
)

func parse(t *testing.T, raw clientconfig.Raw) clientconfig.Config {
	t.Helper()
	if raw.ID == "" {
		raw.ID = "test"
	}
	cfg, err := clientconfig.Parse(raw)
	require.NoError(t, err)
	return cfg
}

func newClient(t *testing.T, cfg clientconfig.Config, mode Mode) *Client {
	t.Helper()
	c, err := New(cfg.ID, cfg, Options{Mode: mode, Logger: logging.NewNopLogger()})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func get(t *testing.T, c *http.Client, target string) (string, http.Header) {
	t.Helper()
	resp, err := c.Get(target)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body), resp.Header
}

func TestNew_DefaultConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c := newClient(t, clientconfig.Default(), ModeSync)

	assert.Equal(t, "default", c.ID())
	assert.Equal(t, ModeSync, c.Mode())
	assert.Nil(t, c.Async())
	assert.Equal(t, clientconfig.Default().RequestConfig(), c.RequestConfig())
	assert.True(t, c.Matches("any", "", "/", false))

	body, _ := get(t, c.HTTPClient(), srv.URL)
	assert.Equal(t, "ok", body)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Pool.Dialed)
	assert.Equal(t, 50, stats.Pool.MaxTotal)
	assert.Equal(t, 50, stats.Pool.MaxPerRoute)
}

// challenging answers 401 with a Basic challenge until the request carries
// credentials, then echoes them with the request body.
func challenging(seen chan<- string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("Authorization")
		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="test"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = io.WriteString(w, user+":"+pass+string(body))
	}
}

func TestNew_BasicAuthAnswersChallenge(t *testing.T) {
	seen := make(chan string, 8)
	srv := httptest.NewServer(challenging(seen))
	defer srv.Close()

	c := newClient(t, parse(t, clientconfig.Raw{User: "alice", Password: "s3cret"}), ModeSync)

	body, _ := get(t, c.HTTPClient(), srv.URL)
	assert.Equal(t, "alice:s3cret", body)
	assert.Empty(t, <-seen, "credentials sent before the challenge")
	assert.NotEmpty(t, <-seen)

	resp, err := c.HTTPClient().Post(srv.URL, "text/plain", strings.NewReader("|payload"))
	require.NoError(t, err)
	defer resp.Body.Close()
	posted, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "alice:s3cret|payload", string(posted))

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.SetBasicAuth("bob", "own")
	own, err := c.HTTPClient().Do(req)
	require.NoError(t, err)
	defer own.Body.Close()
	ownBody, _ := io.ReadAll(own.Body)
	assert.Equal(t, "bob:own", string(ownBody))

	creds, ok := c.Credentials().Get("other.example", 443)
	require.True(t, ok)
	assert.Equal(t, "alice", creds.User)
}

func TestNew_BasicAuthWithoutChallengeSendsNothing(t *testing.T) {
	seen := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("Authorization")
		_, _ = io.WriteString(w, "open")
	}))
	defer srv.Close()

	c := newClient(t, parse(t, clientconfig.Raw{User: "alice", Password: "s3cret"}), ModeSync)

	body, _ := get(t, c.HTTPClient(), srv.URL)
	assert.Equal(t, "open", body)
	assert.Empty(t, <-seen)
}

func TestNew_BasicAuthNotSentAfterCrossOriginRedirect(t *testing.T) {
	seen := make(chan string, 8)
	other := httptest.NewServer(challenging(seen))
	defer other.Close()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, other.URL+"/landing", http.StatusFound)
	}))
	defer origin.Close()

	c := newClient(t, parse(t, clientconfig.Raw{User: "svc", Password: "s3cret"}), ModeSync)

	resp, err := c.HTTPClient().Get(origin.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Len(t, seen, 1)
	assert.Empty(t, <-seen)
}

func TestNew_ProxyWithCredentials(t *testing.T) {
	type seen struct {
		uri, proxyAuth, auth string
	}
	got := make(chan seen, 1)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- seen{uri: r.RequestURI, proxyAuth: r.Header.Get("Proxy-Authorization"), auth: r.Header.Get("Authorization")}
		_, _ = io.WriteString(w, "via proxy")
	}))
	defer proxy.Close()

	u, err := url.Parse(proxy.URL)
	require.NoError(t, err)

	cfg := parse(t, clientconfig.Raw{
		ProxyHost:     u.Hostname(),
		ProxyPort:     clientconfig.Scalar(u.Port()),
		ProxyUser:     "pu",
		ProxyPassword: "pp",
	})
	c := newClient(t, cfg, ModeSync)

	port, _ := strconv.Atoi(u.Port())
	_, ok := c.Credentials().Get(u.Hostname(), port)
	assert.True(t, ok)
	_, ok = c.Credentials().Get("upstream.invalid", 80)
	assert.False(t, ok)

	body, _ := get(t, c.HTTPClient(), "http://upstream.invalid/resource")
	assert.Equal(t, "via proxy", body)

	s := <-got
	assert.Equal(t, "http://upstream.invalid/resource", s.uri)
	assert.NotEmpty(t, s.proxyAuth)
	assert.Empty(t, s.auth)
}

func TestNew_ProxyWithoutCredentialsSendsNoProxyAuth(t *testing.T) {
	u, err := proxyURL(clientconfig.Proxy{Host: "proxy.local", Port: 3128})
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.local:3128", u.String())
	assert.Nil(t, u.User)

	u, err = proxyURL(clientconfig.Proxy{Host: "proxy.local"})
	require.NoError(t, err)
	assert.Equal(t, "proxy.local", u.Host)

	u, err = proxyURL(clientconfig.Proxy{})
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestPool_TotalCapTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = io.WriteString(w, "done")
	}))
	defer srv.Close()
	defer close(release)

	c := newClient(t, parse(t, clientconfig.Raw{
		MaxTotalConnections:      "1",
		ConnectionRequestTimeout: "50",
	}), ModeSync)

	first := make(chan error, 1)
	go func() {
		resp, err := c.HTTPClient().Get(srv.URL)
		if err == nil {
			_ = resp.Body.Close()
		}
		first <- err
	}()

	require.Eventually(t, func() bool { return c.Stats().Pool.Open == 1 }, time.Second, 5*time.Millisecond)

	_, err := c.HTTPClient().Get(srv.URL + "/second")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrPoolTimeout), err.Error())
	assert.Equal(t, int64(1), c.Stats().Pool.Timeouts)
}

func TestPool_IdleConnectionsYieldToOtherRoutes(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	a := httptest.NewServer(handler)
	defer a.Close()
	b := httptest.NewServer(handler)
	defer b.Close()

	c := newClient(t, parse(t, clientconfig.Raw{
		MaxTotalConnections:      "1",
		MaxConnectionsPerRoute:   "1",
		ConnectionRequestTimeout: "200",
	}), ModeSync)

	for _, target := range []string{a.URL, b.URL, a.URL} {
		body, _ := get(t, c.HTTPClient(), target)
		assert.Equal(t, "ok", body, target)
	}

	stats := c.Stats().Pool
	assert.Equal(t, int64(3), stats.Dialed)
	assert.LessOrEqual(t, stats.Open, int64(1))
	assert.Zero(t, stats.Timeouts)
	assert.Positive(t, stats.IdleSweeps)
}

func TestPool_SocketTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := newClient(t, parse(t, clientconfig.Raw{SocketTimeout: "50"}), ModeSync)

	_, err := c.HTTPClient().Get(srv.URL)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, os.ErrDeadlineExceeded), err.Error())
}

func TestClose_ReleasesConnectionsAndIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c, err := New("closing", parse(t, clientconfig.Raw{ID: "closing"}), Options{Logger: logging.NewNopLogger()})
	require.NoError(t, err)

	get(t, c.HTTPClient(), srv.URL)
	assert.Equal(t, int64(1), c.Stats().Pool.Open)

	c.Close()
	c.Close()

	assert.True(t, c.Closed())
	assert.Equal(t, int64(0), c.Stats().Pool.Open)

	_, err = c.HTTPClient().Get(srv.URL)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrPoolClosed), err.Error())
}

func TestAsyncMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.URL.Path)
	}))
	defer srv.Close()

	c, err := New("async", parse(t, clientconfig.Raw{ID: "async"}), Options{
		Mode:         ModeAsync,
		Logger:       logging.NewNopLogger(),
		AsyncWorkers: 2,
		AsyncQueue:   4,
	})
	require.NoError(t, err)
	require.NotNil(t, c.Async())
	assert.True(t, c.Async().Running())

	var wg sync.WaitGroup
	bodies := make([]string, 3)
	for i := range bodies {
		i := i
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/r"+strconv.Itoa(i), nil)
		require.NoError(t, err)
		wg.Add(1)
		require.NoError(t, c.Async().Execute(context.Background(), req, func(r Result) {
			defer wg.Done()
			if r.Err != nil {
				return
			}
			defer r.Response.Body.Close()
			b, _ := io.ReadAll(r.Response.Body)
			bodies[i] = string(b)
		}))
	}
	wg.Wait()
	assert.Equal(t, []string{"/r0", "/r1", "/r2"}, bodies)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/do", nil)
	require.NoError(t, err)
	res := <-c.Async().Do(context.Background(), req)
	require.NoError(t, res.Err)
	_ = res.Response.Body.Close()

	c.Close()
	assert.False(t, c.Async().Running())
	err = c.Async().Execute(context.Background(), req, func(Result) {})
	assert.ErrorIs(t, err, ErrAsyncClosed)
}

func TestAsyncClient_NotStarted(t *testing.T) {
	a := newAsyncClient(http.DefaultClient, 1, 0)
	req, err := http.NewRequest(http.MethodGet, "http://example.invalid", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, a.Execute(context.Background(), req, func(Result) {}), ErrAsyncNotStarted)
	a.Close()
	assert.ErrorIs(t, a.Start(), ErrAsyncClosed)
}

func TestCookiePolicies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/set" {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
			return
		}
		_, _ = io.WriteString(w, r.Header.Get("Cookie"))
	}))
	defer srv.Close()

	tests := []struct {
		policy string
		want   string
	}{
		{"default", "session=abc"},
		{"standard-strict", "session=abc"},
		{"ignoreCookies", ""},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			c := newClient(t, parse(t, clientconfig.Raw{CookiePolicy: tt.policy}), ModeSync)
			get(t, c.HTTPClient(), srv.URL+"/set")
			body, _ := get(t, c.HTTPClient(), srv.URL+"/echo")
			assert.Equal(t, tt.want, body)
		})
	}
}

func TestNew_TLSFailureIsResourceError(t *testing.T) {
	cfg := parse(t, clientconfig.Raw{KeyStorePath: "/nonexistent/client.p12", KeyStorePassword: "x"})

	c, err := New(cfg.ID, cfg, Options{Logger: logging.NewNopLogger()})
	require.Error(t, err)
	assert.Nil(t, c)
	assert.True(t, errors.IsType(err, errors.ErrTypeResource))
	assert.Equal(t, "CERT_NOT_FOUND", errors.GetCode(err))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSync, m)

	m, err = ParseMode("async")
	require.NoError(t, err)
	assert.Equal(t, ModeAsync, m)

	_, err = ParseMode("reactive")
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestAuthScope_Specificity(t *testing.T) {
	p := NewCredentialsProvider()
	p.Set(AnyScope, clientconfig.Credentials{User: "any"})
	p.Set(AuthScope{Host: "api.example.com"}, clientconfig.Credentials{User: "host"})
	p.Set(AuthScope{Host: "api.example.com", Port: 8443}, clientconfig.Credentials{User: "hostport"})

	tests := []struct {
		host string
		port int
		want string
	}{
		{"other", 80, "any"},
		{"api.example.com", 443, "host"},
		{"API.example.com", 8443, "hostport"},
	}
	for _, tt := range tests {
		creds, ok := p.Get(tt.host, tt.port)
		require.True(t, ok)
		assert.Equal(t, tt.want, creds.User)
	}

	assert.Equal(t, "<any>", AnyScope.String())
	assert.Equal(t, "proxy:3128", AuthScope{Host: "proxy", Port: 3128}.String())
	assert.Len(t, p.Scopes(), 3)
}
