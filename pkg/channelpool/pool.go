// Package channelpool implements a pool of reusable RPC channels: lease,
// return, and per-channel fault tagging (spec.md §4.2). Stream-based RPC
// clients are expensive to construct and a channel that faulted mid-stream
// can be left holding a half-closed stream, so a faulted channel is
// destroyed rather than returned to the free list.
//
// Grounded on the teacher's transport.Manager canonical-session election
// (pkg/transport/manager.go): the soft-close-after-grace-period goroutine
// and the free-list-under-a-short-critical-section shape are carried over
// here, simplified from "rank competing sessions per peer" down to "lease
// one of up to N channels, recreate on demand."
package channelpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Channel is anything the pool can lease out: a gRPC connection wrapper in
// production, a fake in tests. Close must be idempotent.
type Channel interface {
	Close() error
}

// Factory constructs a new Channel on demand, up to MaxParallel of them.
type Factory func(ctx context.Context) (Channel, error)

// Pool leases and returns Channels, recreating them on demand up to a
// configurable concurrency cap (max-parallel-channels, spec.md §6).
type Pool struct {
	mu      sync.Mutex
	free    []Channel
	created int
	max     int
	factory Factory

	// waiters are notified (closed channel) when a slot may have freed up.
	waiters []chan struct{}
}

// New constructs a Pool bounded at max concurrently-created channels.
func New(max int, factory Factory) *Pool {
	if max <= 0 {
		max = 4
	}
	return &Pool{max: max, factory: factory}
}

// Lease returns an exclusively-owned Channel. The caller must call Return
// (or Discard for a faulted channel; WithChannel does this) when done. Lease blocks until a
// free channel is available, a new one can be created under the cap, or
// ctx is cancelled.
func (p *Pool) Lease(ctx context.Context) (Channel, error) {
	for {
		p.mu.Lock()
		if n := len(p.free); n > 0 {
			ch := p.free[n-1]
			p.free = p.free[:n-1]
			p.mu.Unlock()
			return ch, nil
		}
		if p.created < p.max {
			p.created++
			p.mu.Unlock()
			ch, err := p.factory(ctx)
			if err != nil {
				p.mu.Lock()
				p.created--
				p.mu.Unlock()
				return nil, fmt.Errorf("channelpool: create channel: %w", err)
			}
			return ch, nil
		}
		wait := make(chan struct{})
		p.waiters = append(p.waiters, wait)
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Return gives a healthy channel back to the free list.
func (p *Pool) Return(ch Channel) {
	p.mu.Lock()
	p.free = append(p.free, ch)
	p.notifyLocked()
	p.mu.Unlock()
}

// Discard destroys a faulted channel instead of re-pooling it (spec.md
// §4.2: "a faulted channel is destroyed, not re-pooled"). Close runs in the
// background after a short grace period, mirroring the teacher's
// soft-close-on-replacement goroutine, so Discard never blocks the caller
// on a slow peer teardown.
func (p *Pool) Discard(ch Channel) {
	p.mu.Lock()
	p.created--
	p.notifyLocked()
	p.mu.Unlock()
	go func() {
		time.Sleep(50 * time.Millisecond)
		if err := ch.Close(); err != nil {
			zap.L().Debug("channelpool: close discarded channel", zap.Error(err))
		}
	}()
}

func (p *Pool) notifyLocked() {
	for _, w := range p.waiters {
		close(w)
	}
	p.waiters = nil
}

// WithChannel leases a channel, runs fn, and returns it healthy on success
// or discards it on failure — the exception-tagging contract of spec.md
// §4.2 ("if fn raises, the caller tags the channel as faulted before
// returning").
func WithChannel[T Channel](ctx context.Context, p *Pool, fn func(T) error) error {
	raw, err := p.Lease(ctx)
	if err != nil {
		return err
	}
	ch, ok := raw.(T)
	if !ok {
		p.Discard(raw)
		return fmt.Errorf("channelpool: leased channel has unexpected type %T", raw)
	}
	if err := fn(ch); err != nil {
		p.Discard(ch)
		return err
	}
	p.Return(ch)
	return nil
}

// Do leases a channel, runs fn, and returns fn's value alongside the same
// healthy-return/discard-on-failure discipline as WithChannel. Used where
// the caller needs a result back, not just an error (e.g. an RPC reply).
func Do[T any, C Channel](ctx context.Context, p *Pool, fn func(C) (T, error)) (T, error) {
	var zero T
	raw, err := p.Lease(ctx)
	if err != nil {
		return zero, err
	}
	ch, ok := raw.(C)
	if !ok {
		p.Discard(raw)
		return zero, fmt.Errorf("channelpool: leased channel has unexpected type %T", raw)
	}
	v, err := fn(ch)
	if err != nil {
		p.Discard(ch)
		return zero, err
	}
	p.Return(ch)
	return v, nil
}

// Close discards every currently-free channel. In-flight leased channels
// are closed by their holder via Return/Discard as usual.
func (p *Pool) Close() error {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.mu.Unlock()
	var firstErr error
	for _, ch := range free {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
