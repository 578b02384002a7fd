package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	clock      clock.Clock
	tokens     int
	capacity   int
	rate       int // tokens per second
	lastRefill time.Time
}

func newTokenBucket(c clock.Clock, rate, capacity int) *TokenBucket {
	return &TokenBucket{
		clock:      c,
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: c.Now(),
	}
}

// Allow checks if a request can be allowed and consumes a token if available
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// refund returns a token taken by Allow, never beyond capacity.
func (tb *TokenBucket) refund() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.tokens < tb.capacity {
		tb.tokens++
	}
}

// refill credits whole tokens for the elapsed time; the fractional remainder
// stays on lastRefill so slow trickles still accumulate.
func (tb *TokenBucket) refill() {
	if tb.rate <= 0 {
		return
	}
	now := tb.clock.Now()
	elapsed := now.Sub(tb.lastRefill)
	add := int(elapsed.Seconds() * float64(tb.rate))
	if add <= 0 {
		return
	}
	tb.tokens += add
	if tb.tokens >= tb.capacity {
		tb.tokens = tb.capacity
		tb.lastRefill = now
		return
	}
	tb.lastRefill = tb.lastRefill.Add(time.Duration(add) * time.Second / time.Duration(tb.rate))
}

type sourceBucket struct {
	bucket   *TokenBucket
	lastUsed time.Time
}

// Limiter admits accepted connections against a global bucket and a bucket
// per source host. A zero rate disables that tier.
type Limiter struct {
	mu         sync.Mutex
	clock      clock.Clock
	global     *TokenBucket
	perSource  map[string]*sourceBucket
	sourceRate int
	burst      int
}

// NewLimiter creates a limiter; globalRate and sourceRate are connections per second.
func NewLimiter(globalRate, sourceRate, burst int) *Limiter {
	return NewLimiterWithClock(clock.New(), globalRate, sourceRate, burst)
}

// NewLimiterWithClock is NewLimiter driven by c.
func NewLimiterWithClock(c clock.Clock, globalRate, sourceRate, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		clock:      c,
		perSource:  make(map[string]*sourceBucket),
		sourceRate: sourceRate,
		burst:      burst,
	}
	if globalRate > 0 {
		l.global = newTokenBucket(c, globalRate, burst)
	}
	return l
}

// AllowConnection reports whether a connection from source may be relayed.
// Connections without a source (UNIX sockets) only hit the global tier. A
// connection refused by its source bucket never spends a global token, so
// one noisy source cannot starve the others.
func (l *Limiter) AllowConnection(source string) bool {
	if l.sourceRate <= 0 || source == "" {
		return l.global == nil || l.global.Allow()
	}

	l.mu.Lock()
	sb, ok := l.perSource[source]
	if !ok {
		sb = &sourceBucket{bucket: newTokenBucket(l.clock, l.sourceRate, l.burst)}
		l.perSource[source] = sb
	}
	sb.lastUsed = l.clock.Now()
	l.mu.Unlock()

	if !sb.bucket.Allow() {
		return false
	}
	if l.global != nil && !l.global.Allow() {
		sb.bucket.refund()
		return false
	}
	return true
}

// Sweep drops per-source buckets unused for longer than idle and returns how
// many were removed.
func (l *Limiter) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock.Now().Add(-idle)
	removed := 0
	for source, sb := range l.perSource {
		if sb.lastUsed.Before(cutoff) {
			delete(l.perSource, source)
			removed++
		}
	}
	return removed
}

// Sources returns the number of tracked source buckets.
func (l *Limiter) Sources() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perSource)
}
