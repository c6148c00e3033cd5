// Package queue serializes the identify step across shards that share a
// Discord gateway session-start bucket.
//
// Discord allows max_concurrency concurrent identifies per bucket, where a
// shard's bucket is shard_index mod max_concurrency. Between two identifies
// in the same bucket, 5 seconds must elapse.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Window is the exclusive duration a caller holds its bucket for after its
// Ticket resolves, per Discord's identify rate limit.
const Window = 5 * time.Second

// Ticket is resolved once the caller may identify. Its Correlation ID
// allows a single identify attempt to be traced through logs.
type Ticket struct {
	Correlation string
	// Err is non-nil if the queue was closed, or ctx was canceled, before
	// this ticket could be admitted.
	Err error
}

// IdentifyQueue serializes identify admission per bucket. The default
// implementation is in-process (Queue below); multi-process deployments
// substitute an implementation that shares state externally (e.g. over
// Redis), selected at construction time and injected — the core only ever
// references this narrow interface.
type IdentifyQueue interface {
	// Request blocks until the caller may identify for the given bucket,
	// or the queue is closed.
	Request(ctx context.Context, bucket uint32) Ticket

	// Close drains pending waiters with a cancellation signal.
	Close()
}

// Queue is the default in-process IdentifyQueue. Requests for the same
// bucket are served strictly FIFO; requests across different buckets never
// block one another.
type Queue struct {
	mu      sync.Mutex
	buckets map[uint32]*bucketQueue
	closed  bool
}

// waiter is a single caller's place in a bucket's FIFO line. It is only
// ever mutated under its owning bucketQueue's mu, which is what makes
// Close race-free against Request: both the enqueue and the cancellation
// of an already-queued waiter happen under the same lock, so neither can
// observe a half-closed bucket.
type waiter struct {
	reply chan Ticket
}

type bucketQueue struct {
	mu       sync.Mutex
	lastUsed time.Time
	started  bool
	closed   bool
	waiting  []*waiter

	// wake is signaled whenever waiting gains an entry or the bucket is
	// closed, so run's timer-or-wake select notices promptly instead of
	// only re-checking on its own timeout.
	wake chan struct{}
}

func newBucketQueue() *bucketQueue {
	return &bucketQueue{wake: make(chan struct{}, 1)}
}

func (bq *bucketQueue) notify() {
	select {
	case bq.wake <- struct{}{}:
	default:
	}
}

// New creates an empty in-process Queue.
func New() *Queue {
	return &Queue{buckets: make(map[uint32]*bucketQueue)}
}

// Request implements IdentifyQueue.
func (q *Queue) Request(ctx context.Context, bucket uint32) Ticket {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()

		return Ticket{Err: context.Canceled}
	}

	bq, ok := q.buckets[bucket]
	if !ok {
		bq = newBucketQueue()
		q.buckets[bucket] = bq

		go bq.run()
	}

	q.mu.Unlock()

	w := &waiter{reply: make(chan Ticket, 1)}

	bq.mu.Lock()
	if bq.closed {
		bq.mu.Unlock()

		return Ticket{Err: context.Canceled}
	}

	bq.waiting = append(bq.waiting, w)
	bq.mu.Unlock()
	bq.notify()

	select {
	case ticket := <-w.reply:
		return ticket
	case <-ctx.Done():
		bq.forget(w)

		return Ticket{Err: ctx.Err()}
	}
}

// forget removes w from the bucket's FIFO line if it hasn't been admitted
// yet. If run already popped w (it's mid-admission or already replied),
// forget is a no-op: w.reply has a one-slot buffer, so run's send never
// blocks even though nobody is left to read it.
func (bq *bucketQueue) forget(w *waiter) {
	bq.mu.Lock()
	defer bq.mu.Unlock()

	for i, cur := range bq.waiting {
		if cur == w {
			bq.waiting = append(bq.waiting[:i], bq.waiting[i+1:]...)

			return
		}
	}
}

// run serves one bucket's FIFO queue, enforcing the 5s identify window
// between successive admissions, until the bucket is closed.
func (bq *bucketQueue) run() {
	for {
		bq.mu.Lock()

		if bq.closed {
			bq.failAllLocked(context.Canceled)
			bq.mu.Unlock()

			return
		}

		if len(bq.waiting) == 0 {
			bq.mu.Unlock()
			<-bq.wake

			continue
		}

		var wait time.Duration
		if bq.started {
			wait = Window - time.Since(bq.lastUsed)
		}

		if wait > 0 {
			bq.mu.Unlock()

			timer := time.NewTimer(wait)

			select {
			case <-timer.C:
			case <-bq.wake:
				timer.Stop()
			}

			continue
		}

		w := bq.waiting[0]
		bq.waiting = bq.waiting[1:]
		bq.started = true
		bq.lastUsed = time.Now()
		bq.mu.Unlock()

		w.reply <- Ticket{Correlation: xid.New().String()}
	}
}

// failAllLocked replies to every still-queued waiter with err. Called with
// bq.mu held.
func (bq *bucketQueue) failAllLocked(err error) {
	for _, w := range bq.waiting {
		w.reply <- Ticket{Err: err}
	}

	bq.waiting = nil
}

// Close marks the queue and every bucket closed, canceling both requests
// already queued and any future Request call. Each bucket's run goroutine
// observes bq.closed under its own mu — the same lock Request checks
// before enqueuing — so a request can never be enqueued after, or be left
// stranded in, a closed bucket.
func (q *Queue) Close() {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()

		return
	}

	q.closed = true

	buckets := make([]*bucketQueue, 0, len(q.buckets))
	for _, bq := range q.buckets {
		buckets = append(buckets, bq)
	}

	q.mu.Unlock()

	for _, bq := range buckets {
		bq.mu.Lock()
		bq.closed = true
		bq.mu.Unlock()
		bq.notify()
	}
}

var _ IdentifyQueue = (*Queue)(nil)
