package shard

import (
	"context"
	"testing"
	"time"

	"github.com/ravenbound/shardwire"
)

func TestConfigValidateRejectsLargeThresholdOutOfRange(t *testing.T) {
	cfg := DefaultConfig("T")

	cfg.LargeThreshold = 49
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for large_threshold below minimum")
	}

	cfg.LargeThreshold = 251
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for large_threshold above maximum")
	}

	cfg.LargeThreshold = 250
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected 250 to be valid: %v", err)
	}
}

func TestConfigValidateRequiresToken(t *testing.T) {
	cfg := DefaultConfig("")
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing token")
	}
}

func TestBearerTokenPrefix(t *testing.T) {
	cfg := DefaultConfig("abc123")
	if got := cfg.bearerToken(); got != "Bot abc123" {
		t.Fatalf("expected prefixed token, got %q", got)
	}

	cfg.Token = "Bot abc123"
	if got := cfg.bearerToken(); got != "Bot abc123" {
		t.Fatalf("expected prefix to not be doubled, got %q", got)
	}
}

func TestOutboundLimiterGrantsWithinBudget(t *testing.T) {
	l := newOutboundLimiter(false)
	l.remaining = 2

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := l.Use(ctx); err != nil {
		t.Fatalf("first use: %v", err)
	}

	if err := l.Use(ctx); err != nil {
		t.Fatalf("second use: %v", err)
	}

	if l.remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", l.remaining)
	}
}

func TestOutboundLimiterDisabledNeverBlocks(t *testing.T) {
	l := newOutboundLimiter(true)
	l.remaining = 0

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := l.Use(ctx); err != nil {
		t.Fatalf("expected disabled limiter to never block: %v", err)
	}
}

func TestOutboundLimiterBlocksUntilReset(t *testing.T) {
	l := newOutboundLimiter(false)
	l.remaining = 0
	l.resetAt = time.Now().Add(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()

	if err := l.Use(ctx); err != nil {
		t.Fatalf("use: %v", err)
	}

	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("expected use to wait for reset, only waited %s", elapsed)
	}
}

func TestSubscriberDeliverRespectsFilter(t *testing.T) {
	sub := &subscriber{filter: Only("READY"), sink: make(chan Event, 1)}

	sub.deliver(Event{Kind: "MESSAGE_CREATE"})

	select {
	case <-sub.sink:
		t.Fatalf("expected filtered-out event to not be delivered")
	default:
	}

	sub.deliver(Event{Kind: "READY"})

	select {
	case ev := <-sub.sink:
		if ev.Kind != "READY" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatalf("expected matching event to be delivered")
	}
}

func TestSubscriberDeliverMarksFullSinkForRemoval(t *testing.T) {
	sub := &subscriber{filter: AllEvents, sink: make(chan Event, 1)}

	sub.deliver(Event{Kind: "A"})
	sub.deliver(Event{Kind: "B"})

	if !sub.removed {
		t.Fatalf("expected subscriber with a full sink to be marked removed")
	}
}

func TestDefaultFilterExcludesRawPayload(t *testing.T) {
	if DefaultFilter(KindShardPayload) {
		t.Fatalf("expected default filter to exclude raw payload events")
	}

	if !DefaultFilter("READY") {
		t.Fatalf("expected default filter to include dispatch events")
	}
}

func TestShutdownResumableWithNoSessionReturnsNilRecord(t *testing.T) {
	id, _ := shardwire.NewShardID(0, 1)

	s := New(DefaultConfig("T"), nil)
	s.cfg.Shard = id
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	index, record := s.ShutdownResumable()
	if record != nil {
		t.Fatalf("expected nil record for a shard that never connected, got %+v", record)
	}

	if index != 0 {
		t.Fatalf("unexpected shard index: %d", index)
	}
}

func TestShutdownResumableWithSessionReturnsRecord(t *testing.T) {
	s := New(DefaultConfig("T"), nil)
	s.started = true
	s.sessionID = "abc"
	s.seq = 42
	s.ctx, s.cancel = context.WithCancel(context.Background())

	_, record := s.ShutdownResumable()
	if record == nil {
		t.Fatalf("expected a resume record")
	}

	if record.SessionID != "abc" || record.Seq != 42 {
		t.Fatalf("unexpected record: %+v", record)
	}
}
