package ratelimit

import (
	"math"
	"sync"
	"time"
)

// unbounded marks a bucket's limit/resetAfter as not yet observed from a
// response, mirroring the Rust source's use of u64::MAX as a sentinel.
const unbounded = math.MaxInt64

// TimeRemaining describes a Bucket's position in its reset cycle.
type TimeRemaining int

const (
	// Finished means the current cycle has elapsed; a caller should reset
	// the bucket before relying on Remaining.
	Finished TimeRemaining = iota
	// NotStarted means the bucket has never admitted a ticket.
	NotStarted
	// Remaining means time is still left in the current cycle; see
	// Bucket.TimeRemaining's returned duration.
	Remaining
)

// Bucket tracks one RoutePath's rate-limit accounting.
//
// Grounded in original_source/twilight-http-ratelimiting/src/in_memory/bucket.rs's
// Bucket: limit/remaining/reset_after/started_at, plus TryReset/Update/
// TimeRemaining exactly as there, adapted from atomics-plus-a-mutex to a
// single mutex since this coordinator's worker-per-bucket design never
// contends on a bucket's fields from more than one goroutine at a time
// except for inspection via TimeRemaining.
type Bucket struct {
	mu sync.Mutex

	limit      int64
	remaining  int64
	resetAfter time.Duration
	startedAt  time.Time
}

// NewBucket creates a bucket with no observed rate-limit state yet.
func NewBucket() *Bucket {
	return &Bucket{limit: unbounded, remaining: unbounded, resetAfter: unbounded}
}

// Limit returns the bucket's allotted tickets per cycle.
func (b *Bucket) Limit() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.limit
}

// Remaining returns the tickets left in the current cycle.
func (b *Bucket) Remaining() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.remaining
}

// TimeRemaining reports where the bucket sits in its reset cycle.
func (b *Bucket) TimeRemaining() (TimeRemaining, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.timeRemainingLocked()
}

func (b *Bucket) timeRemainingLocked() (TimeRemaining, time.Duration) {
	if b.startedAt.IsZero() {
		return NotStarted, 0
	}

	elapsed := time.Since(b.startedAt)
	if elapsed >= b.resetAfter {
		return Finished, 0
	}

	return Remaining, b.resetAfter - elapsed
}

// TryReset resets remaining to limit and clears startedAt if the current
// cycle has finished. Reports whether a reset happened.
func (b *Bucket) TryReset() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.startedAt.IsZero() {
		return false
	}

	if state, _ := b.timeRemainingLocked(); state == Finished {
		b.remaining = b.limit
		b.startedAt = time.Time{}

		return true
	}

	return false
}

// markStarted sets startedAt to now if this is the first admission of a
// fresh cycle.
func (b *Bucket) markStarted() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.startedAt.IsZero() {
		b.startedAt = time.Now()
	}
}

// Update applies observed response headers (present=true) or, absent any
// headers, conservatively decrements remaining by one. limit/resetAfter are
// only overwritten on the first observation (while still unbounded);
// remaining is always overwritten when headers are present.
func (b *Bucket) Update(h *Headers) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if h == nil {
		if b.remaining > 0 {
			b.remaining--
		}

		return
	}

	if b.limit == unbounded {
		b.limit = h.Limit
		b.resetAfter = h.ResetAfter
	}

	b.remaining = h.Remaining
}
