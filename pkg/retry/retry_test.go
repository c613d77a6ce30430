package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"gridclient/pkg/graderr"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	var calls int
	got, err := Do(context.Background(), 5, time.Millisecond, []graderr.Kind{graderr.KindTransportTransient}, true,
		func(ctx context.Context, attempt int) (int, error) {
			calls++
			if attempt < 4 {
				return 0, graderr.New(graderr.KindTransportTransient, "unavailable")
			}
			return 42, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
}

func TestDoNeverSwallowsFinalAttemptError(t *testing.T) {
	var calls int
	_, err := Do(context.Background(), 3, time.Millisecond, nil, false,
		func(ctx context.Context, attempt int) (int, error) {
			calls++
			return 0, errors.New("boom")
		})
	if err == nil {
		t.Fatal("expected error from final attempt")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (all attempts exhausted)", calls)
	}
}

func TestDoStopsOnNonRetriableError(t *testing.T) {
	var calls int
	fatal := graderr.New(graderr.KindTransportFatal, "auth failed")
	_, err := Do(context.Background(), 5, time.Millisecond, []graderr.Kind{graderr.KindTransportTransient}, false,
		func(ctx context.Context, attempt int) (int, error) {
			calls++
			return 0, fatal
		})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error to propagate, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on non-retriable error)", calls)
	}
}

func TestDoBoundedLatency(t *testing.T) {
	base := 10 * time.Millisecond
	start := time.Now()
	_, _ = Do(context.Background(), 4, base, nil, false,
		func(ctx context.Context, attempt int) (int, error) {
			return 0, errors.New("always fails")
		})
	elapsed := time.Since(start)
	max := time.Duration(3) * base * 3 // generous slack for scheduler jitter
	if elapsed > max {
		t.Fatalf("elapsed %v exceeds bound %v", elapsed, max)
	}
}

func TestDoCancellationPropagatesThroughSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, 5, time.Second, nil, false,
		func(ctx context.Context, attempt int) (int, error) {
			return 0, errors.New("retriable")
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIsRetriableEmptyWhitelistRetriesEverything(t *testing.T) {
	if !IsRetriable(errors.New("anything"), false, nil) {
		t.Fatal("empty whitelist should retry any error")
	}
}

func TestIsRetriableDerivedOkFollowsUnwrapChain(t *testing.T) {
	inner := graderr.New(graderr.KindTransportTransient, "dial refused")
	outer := graderr.Wrap(graderr.KindSubmissionExhausted, "submit failed", inner)
	if IsRetriable(outer, false, []graderr.Kind{graderr.KindTransportTransient}) {
		t.Fatal("derivedOk=false should not follow the unwrap chain")
	}
	if !IsRetriable(outer, true, []graderr.Kind{graderr.KindTransportTransient}) {
		t.Fatal("derivedOk=true should follow the unwrap chain to the whitelisted kind")
	}
}

func TestIsRetriableAggregatedErrorChecksPrimary(t *testing.T) {
	primary := graderr.New(graderr.KindTransportTransient, "first failed")
	agg := graderr.NewClientResults([]string{"r1"}, []string{"t1"}, primary)
	if !IsRetriable(agg, false, []graderr.Kind{graderr.KindTransportTransient}) {
		t.Fatal("aggregated error should classify by its primary cause")
	}
}

func TestAsyncDeliversResultOnce(t *testing.T) {
	ch := Async(context.Background(), 1, time.Millisecond, nil, false,
		func(ctx context.Context, attempt int) (string, error) {
			return "done", nil
		})
	res, ok := <-ch
	if !ok || res.Err != nil || res.Value != "done" {
		t.Fatalf("unexpected result: %+v ok=%v", res, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after delivering exactly one result")
	}
}
