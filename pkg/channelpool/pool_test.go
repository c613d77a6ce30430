package channelpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeChannel struct {
	id     int
	closed atomic.Bool
}

func (f *fakeChannel) Close() error {
	f.closed.Store(true)
	return nil
}

func newCountingFactory() (Factory, *atomic.Int32) {
	var n atomic.Int32
	return func(ctx context.Context) (Channel, error) {
		id := n.Add(1)
		return &fakeChannel{id: int(id)}, nil
	}, &n
}

func TestLeaseReturnReusesChannel(t *testing.T) {
	factory, created := newCountingFactory()
	p := New(2, factory)

	ch, err := p.Lease(context.Background())
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	p.Return(ch)

	ch2, err := p.Lease(context.Background())
	if err != nil {
		t.Fatalf("lease 2: %v", err)
	}
	if ch2 != ch {
		t.Fatalf("expected the returned channel to be reused")
	}
	if created.Load() != 1 {
		t.Fatalf("created = %d, want 1", created.Load())
	}
}

func TestLeaseRespectsMaxParallel(t *testing.T) {
	factory, created := newCountingFactory()
	p := New(1, factory)

	ch, err := p.Lease(context.Background())
	if err != nil {
		t.Fatalf("lease: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Lease(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded waiting for the single slot, got %v", err)
	}

	p.Return(ch)
	if created.Load() != 1 {
		t.Fatalf("created = %d, want 1", created.Load())
	}
}

func TestDiscardDoesNotRepoolAndFreesSlot(t *testing.T) {
	factory, created := newCountingFactory()
	p := New(1, factory)

	ch, err := p.Lease(context.Background())
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	p.Discard(ch)

	ch2, err := p.Lease(context.Background())
	if err != nil {
		t.Fatalf("lease after discard: %v", err)
	}
	if ch2 == ch {
		t.Fatalf("discarded channel must not be reused")
	}
	if created.Load() != 2 {
		t.Fatalf("created = %d, want 2 (one discarded, one fresh)", created.Load())
	}
}

func TestWithChannelDiscardsOnError(t *testing.T) {
	factory, created := newCountingFactory()
	p := New(1, factory)

	boom := errors.New("boom")
	err := WithChannel(context.Background(), p, func(ch *fakeChannel) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	// The faulted channel must not come back from the free list.
	ch, err := p.Lease(context.Background())
	if err != nil {
		t.Fatalf("lease after fault: %v", err)
	}
	if ch.(*fakeChannel).closed.Load() {
		t.Fatalf("freshly created channel should not already be closed")
	}
	if created.Load() != 2 {
		t.Fatalf("created = %d, want 2", created.Load())
	}
}

func TestWithChannelReturnsHealthyChannel(t *testing.T) {
	factory, created := newCountingFactory()
	p := New(2, factory)

	err := WithChannel(context.Background(), p, func(ch *fakeChannel) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := p.Lease(context.Background()); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if created.Load() != 1 {
		t.Fatalf("created = %d, want 1 (channel was returned healthy, not recreated)", created.Load())
	}
}
