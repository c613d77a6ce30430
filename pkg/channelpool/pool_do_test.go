package channelpool

import (
	"context"
	"errors"
	"testing"
)

func TestDoReturnsValueAndHealthyChannel(t *testing.T) {
	factory, created := newCountingFactory()
	p := New(2, factory)
	ctx := context.Background()

	got, err := Do[int](ctx, p, func(ch *fakeChannel) (int, error) {
		return ch.id, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got == 0 {
		t.Fatal("expected a non-zero channel id")
	}
	if created.Load() != 1 {
		t.Fatalf("created = %d, want 1", created.Load())
	}
	if len(p.free) != 1 {
		t.Fatalf("expected channel returned to free list, free=%d", len(p.free))
	}
}

func TestDoDiscardsOnError(t *testing.T) {
	factory, _ := newCountingFactory()
	p := New(2, factory)
	ctx := context.Background()

	_, err := Do[int](ctx, p, func(ch *fakeChannel) (int, error) {
		return 0, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if len(p.free) != 0 {
		t.Fatalf("faulted channel must not be re-pooled, free=%d", len(p.free))
	}
}
