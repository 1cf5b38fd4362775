package pooled

import (
	"context"
	stderrors "errors"
	"net/http"
	"sync"
	"sync/atomic"
)

var (
	// ErrAsyncNotStarted is returned by Execute before Start
	ErrAsyncNotStarted = stderrors.New("async client not started")
	// ErrAsyncClosed is returned by Execute after Close
	ErrAsyncClosed = stderrors.New("async client closed")
)

// Result is the outcome of an asynchronous request. The caller owns
// Response.Body.
type Result struct {
	Response *http.Response
	Err      error
}

// Callback receives the Result of an asynchronous request.
type Callback func(Result)

type job struct {
	req *http.Request
	cb  Callback
}

// AsyncClient dispatches requests on a fixed set of worker goroutines that
// share the pooled client's connections.
type AsyncClient struct {
	client  *http.Client
	workers int
	queue   chan job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool

	active atomic.Int64
}

func newAsyncClient(client *http.Client, workers, queueSize int) *AsyncClient {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncClient{
		client:  client,
		workers: workers,
		queue:   make(chan job, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. It fails after Close and is a no-op when
// already started.
func (a *AsyncClient) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAsyncClosed
	}
	if a.started {
		return nil
	}
	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go a.worker()
	}
	a.started = true
	return nil
}

// Running reports whether the workers accept requests.
func (a *AsyncClient) Running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.started && !a.closed
}

// Active returns the number of requests currently in flight.
func (a *AsyncClient) Active() int64 {
	return a.active.Load()
}

func (a *AsyncClient) worker() {
	defer a.wg.Done()
	for j := range a.queue {
		a.active.Add(1)
		resp, err := a.client.Do(j.req)
		a.active.Add(-1)
		j.cb(Result{Response: resp, Err: err})
	}
}

// Execute queues req and returns immediately; cb runs on a worker once the
// request completes. It blocks while the queue is full, until ctx is done.
func (a *AsyncClient) Execute(ctx context.Context, req *http.Request, cb Callback) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	switch {
	case a.closed:
		return ErrAsyncClosed
	case !a.started:
		return ErrAsyncNotStarted
	}

	select {
	case a.queue <- job{req: req, cb: cb}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ctx.Done():
		return ErrAsyncClosed
	}
}

// Do queues req and returns a channel that receives exactly one Result.
func (a *AsyncClient) Do(ctx context.Context, req *http.Request) <-chan Result {
	ch := make(chan Result, 1)
	if err := a.Execute(ctx, req, func(r Result) { ch <- r }); err != nil {
		ch <- Result{Err: err}
	}
	return ch
}

// Close stops accepting requests, lets queued requests finish and waits for
// the workers. Idempotent.
func (a *AsyncClient) Close() {
	a.cancel()

	// Execute holds the read lock while enqueueing, so the queue is closed
	// only once no sender can still be using it.
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	started := a.started
	close(a.queue)
	a.mu.Unlock()

	if started {
		a.wg.Wait()
	}
}
