package pooled

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrPoolClosed is returned for connections requested after Close
	ErrPoolClosed = stderrors.New("connection pool closed")
	// ErrPoolTimeout is returned when no connection slot frees up within the
	// connection request timeout
	ErrPoolTimeout = stderrors.New("timeout waiting for connection from pool")
)

const evictInterval = 20 * time.Millisecond

// PoolConfig sizes a connection pool.
type PoolConfig struct {
	MaxTotal                 int
	MaxPerRoute              int
	ConnectTimeout           time.Duration
	SocketTimeout            time.Duration
	ConnectionRequestTimeout time.Duration
	TLS                      *tls.Config
	Proxy                    *url.URL
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	Open        int64 `json:"open"`
	Dialed      int64 `json:"dialed"`
	Timeouts    int64 `json:"timeouts"`
	IdleSweeps  int64 `json:"idle_sweeps"`
	MaxTotal    int   `json:"max_total"`
	MaxPerRoute int   `json:"max_per_route"`
}

// Pool is the connection manager of one pooled client. It serves plain
// http and TLS-wrapped https, caps open connections per route through the
// transport and in total through a weighted semaphore, and applies the
// socket timeout to every read. Idle connections count against the total
// until evicted.
type Pool struct {
	cfg       PoolConfig
	transport *http.Transport
	slots     *semaphore.Weighted
	dialer    *net.Dialer

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conns  map[*trackedConn]struct{}
	closed bool

	open       atomic.Int64
	dialed     atomic.Int64
	timeouts   atomic.Int64
	idleSweeps atomic.Int64
}

// NewPool creates a pool. Nothing is dialed until the first request.
func NewPool(cfg PoolConfig) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:    cfg,
		slots:  semaphore.NewWeighted(int64(cfg.MaxTotal)),
		dialer: &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[*trackedConn]struct{}),
	}

	t := &http.Transport{
		DialContext:           p.dialContext,
		TLSClientConfig:       cfg.TLS,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		MaxIdleConns:          cfg.MaxTotal,
		MaxIdleConnsPerHost:   cfg.MaxPerRoute,
		MaxConnsPerHost:       cfg.MaxPerRoute,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if cfg.Proxy != nil {
		t.Proxy = http.ProxyURL(cfg.Proxy)
	}
	p.transport = t
	return p
}

// Transport returns the round tripper backed by the pool.
func (p *Pool) Transport() *http.Transport {
	return p.transport
}

// Stats returns the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Open:        p.open.Load(),
		Dialed:      p.dialed.Load(),
		Timeouts:    p.timeouts.Load(),
		IdleSweeps:  p.idleSweeps.Load(),
		MaxTotal:    p.cfg.MaxTotal,
		MaxPerRoute: p.cfg.MaxPerRoute,
	}
}

func (p *Pool) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	if err := p.acquire(ctx); err != nil {
		return nil, err
	}

	raw, err := p.dialer.DialContext(ctx, network, addr)
	if err != nil {
		p.slots.Release(1)
		if p.ctx.Err() != nil {
			return nil, ErrPoolClosed
		}
		return nil, err
	}

	c := &trackedConn{Conn: raw, pool: p}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = raw.Close()
		p.slots.Release(1)
		return nil, ErrPoolClosed
	}
	p.conns[c] = struct{}{}
	p.mu.Unlock()

	p.open.Add(1)
	p.dialed.Add(1)
	return c, nil
}

// acquire takes a connection slot. When the pool is full, idle keep-alive
// connections are evicted first, since they hold slots other routes can use.
func (p *Pool) acquire(ctx context.Context) error {
	if p.ctx.Err() != nil {
		return ErrPoolClosed
	}

	wait := ctx
	if p.cfg.ConnectionRequestTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, p.cfg.ConnectionRequestTimeout)
		defer cancel()
	}

	for {
		if p.slots.TryAcquire(1) {
			return nil
		}
		p.transport.CloseIdleConnections()
		p.idleSweeps.Add(1)

		// A response body closed just before this call returns its connection
		// to the idle set asynchronously, so evict again after a short wait.
		step, cancel := context.WithTimeout(wait, evictInterval)
		err := p.slots.Acquire(step, 1)
		cancel()
		if err == nil {
			return nil
		}
		if wait.Err() == nil {
			continue
		}

		switch {
		case p.ctx.Err() != nil:
			return ErrPoolClosed
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			p.timeouts.Add(1)
			return ErrPoolTimeout
		}
	}
}

func (p *Pool) release(c *trackedConn) {
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
	p.open.Add(-1)
	p.slots.Release(1)
}

// Close drains idle connections, closes every open connection and fails any
// caller still waiting for a slot. It returns the joined close errors.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]*trackedConn, 0, len(p.conns))
	for c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	p.cancel()
	p.transport.CloseIdleConnections()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// trackedConn holds one pool slot until closed and extends the read
// deadline by the socket timeout on every read and write.
type trackedConn struct {
	net.Conn
	pool *Pool
	once sync.Once
}

func (c *trackedConn) Read(b []byte) (int, error) {
	if d := c.pool.cfg.SocketTimeout; d > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(d)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *trackedConn) Write(b []byte) (int, error) {
	if d := c.pool.cfg.SocketTimeout; d > 0 {
		// Also moves the deadline of a read already blocked waiting for the response.
		_ = c.Conn.SetReadDeadline(time.Now().Add(d))
	}
	return c.Conn.Write(b)
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { c.pool.release(c) })
	return err
}
