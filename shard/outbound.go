package shard

import (
	"context"
	"sync"
	"time"
)

// outboundWindow and outboundLimit are Discord's documented outbound
// gateway command budget: 120 commands per rolling 60s window.
const (
	outboundLimit  = 120
	outboundWindow = 60 * time.Second
)

// outboundLimiter is a token bucket gating outbound frames, refilling to
// full every outboundWindow. Heartbeats bypass it entirely (§9 Open
// Question: exempt heartbeats from starvation). Grounded in the teacher's
// Bucket token-accounting idiom (wrapper/ratelimit.go), adapted from HTTP
// buckets to a single outbound frame bucket.
type outboundLimiter struct {
	mu        sync.Mutex
	remaining int
	resetAt   time.Time
	disabled  bool
}

func newOutboundLimiter(disabled bool) *outboundLimiter {
	return &outboundLimiter{
		remaining: outboundLimit,
		resetAt:   time.Now().Add(outboundWindow),
		disabled:  disabled,
	}
}

// Use blocks until a token is available, or ctx is done.
func (l *outboundLimiter) Use(ctx context.Context) error {
	if l.disabled {
		return nil
	}

	for {
		l.mu.Lock()

		now := time.Now()
		if now.After(l.resetAt) {
			l.remaining = outboundLimit
			l.resetAt = now.Add(outboundWindow)
		}

		if l.remaining > 0 {
			l.remaining--
			l.mu.Unlock()

			return nil
		}

		wait := l.resetAt.Sub(now)
		l.mu.Unlock()

		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		}
	}
}
