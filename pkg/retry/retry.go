// Package retry implements the generic attempt/backoff loop used around
// every RPC in the submission and result pipelines (spec.md §4.1).
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gridclient/pkg/graderr"
)

// Op is one attempt of a retried operation. attempt is 1-indexed.
type Op[T any] func(ctx context.Context, attempt int) (T, error)

// VoidOp is the fire-and-forget shape of Op, for operations with no result
// value (e.g. UploadResultData).
type VoidOp func(ctx context.Context, attempt int) error

// Do runs op up to attempts times. On each non-final attempt, a retriable
// error (per IsRetriable) sleeps baseDelay and continues; a non-retriable
// error returns immediately. The final attempt runs uncaught — its error,
// retriable or not, propagates unchanged (spec.md §4.1: "never swallows the
// last attempt's error").
//
// Bounded latency: at most (attempts-1) * baseDelay is spent sleeping
// (spec.md §8 invariant 5).
func Do[T any](ctx context.Context, attempts int, baseDelay time.Duration, whitelist []graderr.Kind, derivedOk bool, op Op[T]) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == attempts {
			return zero, err
		}
		if !IsRetriable(err, derivedOk, whitelist) {
			return zero, err
		}
		zap.L().Debug("retrying operation",
			zap.Int("attempt", attempt),
			zap.Int("attempts", attempts),
			zap.Duration("delay", baseDelay),
			zap.Error(err),
		)
		if err := sleep(ctx, baseDelay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// DoVoid is Do specialized to operations with no return value.
func DoVoid(ctx context.Context, attempts int, baseDelay time.Duration, whitelist []graderr.Kind, derivedOk bool, op VoidOp) error {
	_, err := Do(ctx, attempts, baseDelay, whitelist, derivedOk, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, op(ctx, attempt)
	})
	return err
}

// Async runs Do in a background goroutine and returns a channel that
// receives exactly one (result, error) pair. Cancelling ctx propagates
// through to the in-flight sleep (spec.md §4.1: "passes cancellation
// through to the async variant's sleeps").
func Async[T any](ctx context.Context, attempts int, baseDelay time.Duration, whitelist []graderr.Kind, derivedOk bool, op Op[T]) <-chan Result[T] {
	out := make(chan Result[T], 1)
	go func() {
		v, err := Do(ctx, attempts, baseDelay, whitelist, derivedOk, op)
		out <- Result[T]{Value: v, Err: err}
		close(out)
	}()
	return out
}

// Result is the value sent on an Async channel.
type Result[T any] struct {
	Value T
	Err   error
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRetriable classifies err per spec.md §4.1:
//
//	(a) the whitelist is empty — all errors retried;
//	(b) the error's concrete Kind is in the whitelist;
//	(c) derivedOk is set and some Kind in err's unwrap chain is whitelisted
//	    (modeling "a subkind of some whitelisted kind" without a Go class
//	    hierarchy — the chain from Wrap/graderr.Error carries the true
//	    origin kind even when an outer wrapper changes it);
//	(d) err is an aggregated *graderr.ClientResults whose Primary matches
//	    (b)/(c).
func IsRetriable(err error, derivedOk bool, whitelist []graderr.Kind) bool {
	if err == nil {
		return false
	}
	if len(whitelist) == 0 {
		return true
	}
	if agg, ok := err.(*graderr.ClientResults); ok {
		if agg.Primary == nil {
			return false
		}
		return IsRetriable(agg.Primary, derivedOk, whitelist)
	}
	kind := graderr.KindOf(err)
	if kindIn(kind, whitelist) {
		return true
	}
	if !derivedOk {
		return false
	}
	for cause := unwrap(err); cause != nil; cause = unwrap(cause) {
		if kindIn(graderr.KindOf(cause), whitelist) {
			return true
		}
	}
	return false
}

func kindIn(k graderr.Kind, whitelist []graderr.Kind) bool {
	for _, w := range whitelist {
		if k == w {
			return true
		}
	}
	return false
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}
