package ratelimit

import (
	"testing"
	"time"
)

func TestBucketFirstObservationInitializesLimitAndResetAfter(t *testing.T) {
	b := NewBucket()

	b.Update(&Headers{Limit: 2, Remaining: 1, ResetAfter: 2 * time.Second})

	if got := b.Limit(); got != 2 {
		t.Fatalf("limit = %d, want 2", got)
	}

	if got := b.Remaining(); got != 1 {
		t.Fatalf("remaining = %d, want 1", got)
	}
}

func TestBucketSubsequentResponseOverwritesRemainingOnly(t *testing.T) {
	b := NewBucket()

	b.Update(&Headers{Limit: 2, Remaining: 1, ResetAfter: 2 * time.Second})
	b.Update(&Headers{Limit: 99, Remaining: 0, ResetAfter: 99 * time.Second})

	if got := b.Limit(); got != 2 {
		t.Fatalf("limit = %d, want 2 (should not be overwritten after first observation)", got)
	}

	if got := b.Remaining(); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}
}

func TestBucketNilHeadersDecrementsRemaining(t *testing.T) {
	b := NewBucket()

	b.Update(&Headers{Limit: 2, Remaining: 2, ResetAfter: time.Second})
	b.Update(nil)

	if got := b.Remaining(); got != 1 {
		t.Fatalf("remaining = %d, want 1", got)
	}
}

func TestBucketNilHeadersNeverGoesNegative(t *testing.T) {
	b := NewBucket()

	b.Update(&Headers{Limit: 1, Remaining: 0, ResetAfter: time.Second})
	b.Update(nil)

	if got := b.Remaining(); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}
}

func TestBucketTimeRemainingNotStartedBeforeFirstAdmission(t *testing.T) {
	b := NewBucket()

	state, _ := b.TimeRemaining()
	if state != NotStarted {
		t.Fatalf("state = %v, want NotStarted", state)
	}
}

func TestBucketTimeRemainingReportsElapsedAsFinished(t *testing.T) {
	b := NewBucket()
	b.Update(&Headers{Limit: 2, Remaining: 0, ResetAfter: 10 * time.Millisecond})
	b.markStarted()

	time.Sleep(20 * time.Millisecond)

	state, _ := b.TimeRemaining()
	if state != Finished {
		t.Fatalf("state = %v, want Finished", state)
	}
}

func TestBucketTryResetAtCycleBoundary(t *testing.T) {
	b := NewBucket()
	b.Update(&Headers{Limit: 2, Remaining: 0, ResetAfter: 10 * time.Millisecond})
	b.markStarted()

	time.Sleep(20 * time.Millisecond)

	if !b.TryReset() {
		t.Fatalf("expected TryReset to reset an elapsed cycle")
	}

	if got := b.Remaining(); got != 2 {
		t.Fatalf("remaining after reset = %d, want 2 (back to limit)", got)
	}

	state, _ := b.TimeRemaining()
	if state != NotStarted {
		t.Fatalf("state after reset = %v, want NotStarted", state)
	}
}

func TestBucketTryResetNoopBeforeCycleElapses(t *testing.T) {
	b := NewBucket()
	b.Update(&Headers{Limit: 2, Remaining: 0, ResetAfter: time.Minute})
	b.markStarted()

	if b.TryReset() {
		t.Fatalf("expected TryReset to be a no-op before reset_after elapses")
	}

	if got := b.Remaining(); got != 0 {
		t.Fatalf("remaining should be untouched, got %d", got)
	}
}

func TestBucketRemainingNeverExceedsLimitAcrossUpdates(t *testing.T) {
	b := NewBucket()
	b.Update(&Headers{Limit: 5, Remaining: 5, ResetAfter: time.Second})

	for i := 0; i < 10; i++ {
		b.Update(nil)

		if got := b.Remaining(); got < 0 || got > b.Limit() {
			t.Fatalf("remaining %d out of bounds [0, %d]", got, b.Limit())
		}
	}
}
