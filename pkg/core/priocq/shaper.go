// Package priocq provides TokenBucket, reused here as the DispatcherLoop's
// optional poll-rate shaper (SPEC_FULL.md's supplemented token-bucket poll
// shaping, composing with, not replacing, spec.md §4.5's geometric
// back-off): a burst of many concurrently-registered handlers would
// otherwise issue one ListResults call per sub-batch back-to-back, which
// this smooths against an idle server the same way the teacher's packet
// shaper smoothed bursts against a congested link.
package priocq

import (
	"sync"
	"time"
)

// TokenBucket is a leaky bucket: Allow consumes n tokens if available, or
// reports how long the caller should wait for them to accumulate.
type TokenBucket struct {
	mu       sync.Mutex
	capacity int64
	tokens   int64
	rate     int64 // tokens per second
	last     time.Time
}

// NewTokenBucket constructs a bucket refilling at ratePerSec, holding at
// most capacity tokens (capacity <= 0 defaults to ratePerSec).
func NewTokenBucket(ratePerSec, capacity int64) *TokenBucket {
	if capacity <= 0 {
		capacity = ratePerSec
	}
	return &TokenBucket{capacity: capacity, tokens: capacity, rate: ratePerSec, last: time.Now()}
}

// Allow tries to consume n tokens. If the bucket can't cover n right now,
// it reports how long the caller should wait before the tokens would be
// available, without mutating the bucket's state for that failed attempt.
func (b *TokenBucket) Allow(n int64) (ok bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if b.last.IsZero() {
		b.last = now
	}
	if dt := now.Sub(b.last); dt > 0 {
		if add := (b.rate * dt.Nanoseconds()) / int64(time.Second); add > 0 {
			b.tokens += add
			if b.tokens > b.capacity {
				b.tokens = b.capacity
			}
			b.last = now
		}
	}
	if b.tokens >= n {
		b.tokens -= n
		return true, 0
	}
	need := n - b.tokens
	nanos := (need * int64(time.Second)) / b.rate
	return false, time.Duration(nanos)
}
