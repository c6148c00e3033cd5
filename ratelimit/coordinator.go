// Package ratelimit coordinates outbound REST requests against Discord's
// per-route and global HTTP rate limits.
//
// Grounded in original_source/twilight-http-ratelimiting/src/in_memory/bucket.rs
// and mod.rs: one worker goroutine per route, a FIFO queue of admission
// requests, a process-wide global lock, idle-bucket eviction, and a
// header-reply timeout bounding how long an admitted caller has to report
// what the response actually said before the worker assumes the worst and
// moves on.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/ravenbound/shardwire"
)

const (
	idleEvictionAfter = 10 * time.Second
	headerReplyWindow = 10 * time.Second
)

// RoutePath identifies a rate-limit bucket. Two requests that share a
// RoutePath share a Bucket; requests with different RoutePaths are never
// ordered against each other.
type RoutePath string

// Ticket is granted admission to send one request. The caller must call
// Report exactly once after the request completes (or was never sent), so
// the owning worker can account for the observed (or absent) headers and
// release the next queued ticket.
type Ticket struct {
	Correlation string

	report chan<- *Headers
}

// Report delivers the response headers observed for this ticket's request,
// or nil if the request failed before headers could be read (the bucket is
// then conservatively decremented by one, per Bucket.Update).
func (t Ticket) Report(h *Headers) {
	t.report <- h
}

// Coordinator admits outbound requests one RoutePath at a time, applying
// Discord's per-route and global rate limits.
type Coordinator struct {
	mu      sync.Mutex
	workers map[RoutePath]*bucketWorker

	globalMu       sync.Mutex
	globalLockedAt time.Time
	globalFor      time.Duration
}

// New creates an idle Coordinator. No goroutines run until Ticket is
// called.
func New() *Coordinator {
	return &Coordinator{workers: make(map[RoutePath]*bucketWorker)}
}

type ticketRequest struct {
	ctx  context.Context
	resp chan ticketResponse
}

type ticketResponse struct {
	ticket Ticket
	err    error
}

type bucketWorker struct {
	path    RoutePath
	bucket  *Bucket
	pending chan ticketRequest

	mu       sync.Mutex
	lastUsed time.Time
}

// Ticket requests admission to send a request against path, blocking until
// the route's bucket (and the global lock) allow it or ctx is canceled.
func (c *Coordinator) Ticket(ctx context.Context, path RoutePath) (Ticket, error) {
	w := c.workerFor(path)

	req := ticketRequest{ctx: ctx, resp: make(chan ticketResponse, 1)}

	select {
	case w.pending <- req:
	case <-ctx.Done():
		return Ticket{}, ctx.Err()
	}

	select {
	case resp := <-req.resp:
		return resp.ticket, resp.err
	case <-ctx.Done():
		return Ticket{}, ctx.Err()
	}
}

func (c *Coordinator) workerFor(path RoutePath) *bucketWorker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.workers[path]; ok {
		return w
	}

	w := &bucketWorker{
		path:     path,
		bucket:   NewBucket(),
		pending:  make(chan ticketRequest),
		lastUsed: time.Now(),
	}
	c.workers[path] = w

	go c.run(w)

	return w
}

// run serves one route's FIFO queue until it sits idle for
// idleEvictionAfter, at which point it tears itself down and removes
// itself from the registry (a later Ticket call rebuilds a fresh worker).
func (c *Coordinator) run(w *bucketWorker) {
	idle := time.NewTimer(idleEvictionAfter)
	defer idle.Stop()

	for {
		select {
		case req := <-w.pending:
			idle.Stop()

			c.admit(w, req)

			idle.Reset(idleEvictionAfter)

		case <-idle.C:
			c.mu.Lock()
			if current, ok := c.workers[w.path]; ok && current == w {
				delete(c.workers, w.path)
			}
			c.mu.Unlock()

			return
		}
	}
}

// admit waits out the bucket's reset cycle and the global lock, then grants
// a ticket and waits up to headerReplyWindow for the caller's Report.
func (c *Coordinator) admit(w *bucketWorker, req ticketRequest) {
	w.mu.Lock()
	w.lastUsed = time.Now()
	w.mu.Unlock()

	if err := c.waitBucket(req.ctx, w.bucket); err != nil {
		req.resp <- ticketResponse{err: err}
		return
	}

	if err := c.waitGlobal(req.ctx); err != nil {
		req.resp <- ticketResponse{err: err}
		return
	}

	w.bucket.markStarted()

	correlation := xid.New().String()

	report := make(chan *Headers, 1)
	req.resp <- ticketResponse{ticket: Ticket{Correlation: correlation, report: report}}

	shardwire.LogTicket(shardwire.Logger.Debug(), string(w.path), correlation).Msg("ticket admitted")

	select {
	case h := <-report:
		c.applyHeaders(w, h)

	case <-time.After(headerReplyWindow):
		w.bucket.Update(nil)
	}
}

func (c *Coordinator) applyHeaders(w *bucketWorker, h *Headers) {
	if h != nil && h.Global {
		c.lockGlobal(h.RetryAfter)
		return
	}

	w.bucket.Update(h)

	shardwire.LogBucket(shardwire.Logger.Debug(), string(w.path), w.bucket.Limit(), w.bucket.Remaining()).Msg("bucket updated")
}

// waitBucket blocks until b has a ticket to give or ctx is done. When the
// current cycle has no tickets left it sleeps out the rest of the cycle,
// then loops so TryReset refills the bucket before admitting.
func (c *Coordinator) waitBucket(ctx context.Context, b *Bucket) error {
	for {
		b.TryReset()

		state, remaining := b.TimeRemaining()

		switch state {
		case NotStarted, Finished:
			return nil
		case Remaining:
			if b.Remaining() > 0 {
				return nil
			}

			if err := sleepCtx(ctx, remaining); err != nil {
				return err
			}
		}
	}
}

func (c *Coordinator) waitGlobal(ctx context.Context) error {
	for {
		c.globalMu.Lock()
		wait := time.Duration(0)
		if !c.globalLockedAt.IsZero() {
			elapsed := time.Since(c.globalLockedAt)
			if elapsed < c.globalFor {
				wait = c.globalFor - elapsed
			} else {
				c.globalLockedAt = time.Time{}
			}
		}
		c.globalMu.Unlock()

		if wait == 0 {
			return nil
		}

		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func (c *Coordinator) lockGlobal(retryAfter time.Duration) {
	c.globalMu.Lock()
	defer c.globalMu.Unlock()

	c.globalLockedAt = time.Now()
	c.globalFor = retryAfter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
