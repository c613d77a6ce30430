package priocq

import "testing"

func TestTokenBucketAllowsUpToCapacity(t *testing.T) {
	b := NewTokenBucket(10, 5)
	for i := 0; i < 5; i++ {
		if ok, _ := b.Allow(1); !ok {
			t.Fatalf("expected token %d to be allowed", i)
		}
	}
	if ok, wait := b.Allow(1); ok || wait <= 0 {
		t.Fatalf("expected bucket exhausted with positive wait, got ok=%v wait=%v", ok, wait)
	}
}

func TestTokenBucketReportsWaitProportionalToDeficit(t *testing.T) {
	b := NewTokenBucket(10, 1)
	b.Allow(1) // drain the single token
	_, wait := b.Allow(1)
	if wait <= 0 {
		t.Fatal("expected a positive wait for a fully-drained bucket")
	}
}
