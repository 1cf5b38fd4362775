package pooled

import (
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"outbound-router/internal/clientconfig"
)

// AuthScope restricts credentials to a host and port. The zero value is the
// any-scope and matches every target.
type AuthScope struct {
	Host string
	Port int // 0 matches any port
}

// AnyScope matches every host and port.
var AnyScope = AuthScope{}

func (s AuthScope) String() string {
	if s == AnyScope {
		return "<any>"
	}
	host := s.Host
	if host == "" {
		host = "<any>"
	}
	if s.Port == 0 {
		return host + ":<any>"
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}

// score ranks how specifically the scope matches host:port; -1 means no match.
func (s AuthScope) score(host string, port int) int {
	score := 0
	if s.Host != "" {
		if !strings.EqualFold(s.Host, host) {
			return -1
		}
		score += 2
	}
	if s.Port != 0 {
		if s.Port != port {
			return -1
		}
		score++
	}
	return score
}

// CredentialsProvider maps auth scopes to credentials.
type CredentialsProvider struct {
	mu      sync.RWMutex
	entries map[AuthScope]clientconfig.Credentials
}

// NewCredentialsProvider creates an empty provider.
func NewCredentialsProvider() *CredentialsProvider {
	return &CredentialsProvider{entries: make(map[AuthScope]clientconfig.Credentials)}
}

// Set binds credentials to a scope, replacing any previous binding.
func (p *CredentialsProvider) Set(scope AuthScope, creds clientconfig.Credentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[scope] = creds
}

// Get returns the credentials of the most specific scope matching host:port.
func (p *CredentialsProvider) Get(host string, port int) (clientconfig.Credentials, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	best := -1
	var found clientconfig.Credentials
	for scope, creds := range p.entries {
		if s := scope.score(host, port); s > best {
			best, found = s, creds
		}
	}
	return found, best >= 0
}

// Scopes returns the bound scopes.
func (p *CredentialsProvider) Scopes() []AuthScope {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]AuthScope, 0, len(p.entries))
	for s := range p.entries {
		out = append(out, s)
	}
	return out
}

// Len returns the number of bindings.
func (p *CredentialsProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// credentialsFor builds the provider for a configuration: proxy credentials
// bound to the proxy host:port, basic auth bound to the any-scope.
func credentialsFor(cfg clientconfig.Config) *CredentialsProvider {
	p := NewCredentialsProvider()
	if cfg.Proxy.Configured() && cfg.Proxy.HasCredentials() {
		p.Set(proxyScope(cfg.Proxy), clientconfig.Credentials{User: cfg.Proxy.User, Password: cfg.Proxy.Password})
	}
	if cfg.BasicAuth.Configured() {
		p.Set(AnyScope, cfg.BasicAuth)
	}
	return p
}

func proxyScope(p clientconfig.Proxy) AuthScope {
	return AuthScope{Host: p.Host, Port: p.Port}
}

// authTransport answers Basic challenges of the target with the target
// host's credentials. Nothing is sent before a 401, requests that already
// carry Authorization are left alone, and a redirect hop that leaves the
// origin of the first request is never answered. Proxy credentials travel
// in the proxy URL and are never sent to the target.
type authTransport struct {
	next  http.RoundTripper
	creds *CredentialsProvider
	proxy AuthScope
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Header.Get("Authorization") != "" || leavesOrigin(req) || !basicChallenge(resp.Header) {
		return resp, nil
	}

	host, port := hostPort(req)
	creds, found := t.creds.lookupTarget(host, port, t.proxy)
	if !found {
		return resp, nil
	}
	retry, ok := rewindable(req)
	if !ok {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()

	retry.SetBasicAuth(creds.User, creds.Password)
	return t.next.RoundTrip(retry)
}

// rewindable clones req with a fresh copy of its body for a second attempt.
// RoundTrippers must not modify the caller's request.
func rewindable(req *http.Request) (*http.Request, bool) {
	r := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return r, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	r.Body = body
	return r, true
}

// leavesOrigin reports whether req is a redirect hop to a scheme, host or
// port other than those of the request that started the chain.
func leavesOrigin(req *http.Request) bool {
	first := req
	for first.Response != nil && first.Response.Request != nil {
		first = first.Response.Request
	}
	if first == req {
		return false
	}
	h1, p1 := hostPort(first)
	h2, p2 := hostPort(req)
	return first.URL.Scheme != req.URL.Scheme || !strings.EqualFold(h1, h2) || p1 != p2
}

// basicChallenge reports whether any WWW-Authenticate challenge uses the
// Basic scheme.
func basicChallenge(h http.Header) bool {
	for _, v := range h.Values("WWW-Authenticate") {
		for _, part := range strings.Split(v, ",") {
			scheme, _, _ := strings.Cut(strings.TrimSpace(part), " ")
			if strings.EqualFold(scheme, "Basic") {
				return true
			}
		}
	}
	return false
}

// lookupTarget resolves credentials for a target, skipping the proxy binding
// unless the proxy scope is itself the target.
func (p *CredentialsProvider) lookupTarget(host string, port int, proxy AuthScope) (clientconfig.Credentials, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	best := -1
	var found clientconfig.Credentials
	for scope, creds := range p.entries {
		if scope != AnyScope && scope == proxy {
			continue
		}
		if s := scope.score(host, port); s > best {
			best, found = s, creds
		}
	}
	return found, best >= 0
}

func hostPort(req *http.Request) (string, int) {
	host := req.URL.Hostname()
	port, err := strconv.Atoi(req.URL.Port())
	if err != nil {
		switch req.URL.Scheme {
		case "https":
			port = 443
		default:
			port = 80
		}
	}
	return host, port
}
