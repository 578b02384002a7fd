package ratelimit

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestTokenBucket(t *testing.T) {
	mock := clock.NewMock()
	bucket := newTokenBucket(mock, 2, 5) // 2 tokens per second, capacity of 5

	// Initial tokens should be at capacity
	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("Expected initial request %d to be allowed", i)
		}
	}

	// Next request should be denied (bucket empty)
	if bucket.Allow() {
		t.Error("Expected request to be denied when bucket is empty")
	}

	mock.Add(time.Second)

	// Should have 2 tokens available now
	if !bucket.Allow() {
		t.Error("Expected request to be allowed after token refill")
	}
	if !bucket.Allow() {
		t.Error("Expected second request to be allowed after token refill")
	}

	// Third request should be denied
	if bucket.Allow() {
		t.Error("Expected third request to be denied")
	}
}

func TestTokenBucketFractionalRefill(t *testing.T) {
	mock := clock.NewMock()
	bucket := newTokenBucket(mock, 2, 1)
	if !bucket.Allow() {
		t.Fatal("Expected first request to be allowed")
	}

	// Two quarter-second steps add up to one token at 2/s.
	mock.Add(250 * time.Millisecond)
	if bucket.Allow() {
		t.Error("Expected request to be denied before a full token accrued")
	}
	mock.Add(250 * time.Millisecond)
	if !bucket.Allow() {
		t.Error("Expected request to be allowed once a token accrued")
	}
}

func TestLimiterPerSource(t *testing.T) {
	mock := clock.NewMock()
	l := NewLimiterWithClock(mock, 0, 2, 3) // global disabled; per-source 2/s, burst 3

	src := "10.0.0.1"
	for i := 0; i < 3; i++ {
		if !l.AllowConnection(src) {
			t.Errorf("Expected connection %d to be allowed for %s", i, src)
		}
	}
	if l.AllowConnection(src) {
		t.Error("Expected connection to be denied due to per-source limit")
	}

	if !l.AllowConnection("10.0.0.2") {
		t.Error("Expected connection to be allowed for a different source")
	}

	// UNIX socket peers have no source and skip the per-source tier.
	for i := 0; i < 10; i++ {
		if !l.AllowConnection("") {
			t.Errorf("Expected sourceless connection %d to be allowed", i)
		}
	}
}

func TestLimiterGlobal(t *testing.T) {
	mock := clock.NewMock()
	l := NewLimiterWithClock(mock, 2, 0, 2)

	if !l.AllowConnection("a") || !l.AllowConnection("b") {
		t.Fatal("Expected initial global burst to be allowed")
	}
	if l.AllowConnection("a") {
		t.Error("Expected connection to be denied due to global limit")
	}
	mock.Add(time.Second)
	if !l.AllowConnection("c") {
		t.Error("Expected connection to be allowed after refill")
	}
}

func TestLimiterSweep(t *testing.T) {
	mock := clock.NewMock()
	l := NewLimiterWithClock(mock, 0, 1, 1)

	l.AllowConnection("a")
	mock.Add(time.Minute)
	l.AllowConnection("b")

	if got := l.Sources(); got != 2 {
		t.Fatalf("Expected 2 source buckets, got %d", got)
	}
	if removed := l.Sweep(30 * time.Second); removed != 1 {
		t.Errorf("Expected 1 bucket swept, got %d", removed)
	}
	if got := l.Sources(); got != 1 {
		t.Errorf("Expected 1 source bucket after sweep, got %d", got)
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0, 0, 5)
	for i := 0; i < 100; i++ {
		if !l.AllowConnection("x") {
			t.Errorf("Expected connection %d to be allowed when limits disabled", i)
		}
	}
}

func TestLimiterRefusedSourceKeepsGlobalTokens(t *testing.T) {
	mock := clock.NewMock()
	l := NewLimiterWithClock(mock, 10, 1, 2) // global 10/s, per-source 1/s, burst 2

	for i := 0; i < 2; i++ {
		if !l.AllowConnection("flooder") {
			t.Fatalf("Expected flooder connection %d to be allowed", i)
		}
	}

	// One global token comes back; the flooder's bucket is still empty.
	mock.Add(100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		if l.AllowConnection("flooder") {
			t.Fatalf("Expected flooder connection to be denied by its source bucket")
		}
	}

	if !l.AllowConnection("innocent") {
		t.Error("Expected other source to get the global token the flooder was refused")
	}
}
