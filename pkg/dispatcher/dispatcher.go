// Package dispatcher implements DispatcherLoop (spec.md §4.5): a single
// cooperative worker that drains the ResultRegistry by polling for ready
// results and invoking the caller's registered handler exactly once per
// id.
//
// No teacher file polls anything (urands-ttmesh is push-based, peer to
// peer), so the loop shape itself is grounded directly on spec.md §4.5.
// The "one TryGetResults call per sub-batch of 100, fanned out across
// max-parallel-channels" design-level RPC is realized here as a status
// batch (wire.GridClient.ListResults, one call per sub-batch) followed by
// a pooled TryGetResultStream download per id found ready in that
// sub-batch — the wire surface spec.md §6 defines has no single
// batch-bytes RPC, so this composes the two RPCs it does define rather
// than inventing a new one.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gridclient/pkg/api"
	"gridclient/pkg/channelpool"
	"gridclient/pkg/core/priocq"
	"gridclient/pkg/graderr"
	"gridclient/pkg/registry"
	"gridclient/pkg/wire"
)

// DefaultPollInterval is the suspension interval while the registry is
// empty (spec.md §4.5: "100 ms").
const DefaultPollInterval = 100 * time.Millisecond

// DefaultMaxBatch bounds how many ids one pass considers (spec.md §4.5:
// "up to 10 000 ids").
const DefaultMaxBatch = 10000

// SubBatchSize bounds how many ids ride one ListResults call within a
// pass (spec.md §4.5: "sub-batch of 100").
const SubBatchSize = 100

// BackoffSchedule is the geometric back-off spec.md §4.5 mandates for
// passes that found no newly-ready result.
var BackoffSchedule = []time.Duration{1 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second}

// Config parameterizes a Loop.
type Config struct {
	SessionID    string
	PollInterval time.Duration // default DefaultPollInterval
	MaxBatch     int           // default DefaultMaxBatch

	// PollRateLimiter smooths bursts of per-sub-batch ListResults calls
	// across many concurrently-registered handlers (SPEC_FULL.md's
	// supplemented token-bucket poll shaping); nil disables shaping.
	PollRateLimiter *priocq.TokenBucket
}

// Loop is the DispatcherLoop: a single cooperative worker over one
// session's ResultRegistry.
type Loop struct {
	client wire.GridClient
	pool   *channelpool.Pool
	reg    *registry.Registry
	cfg    Config

	backoffIdx int
}

// New constructs a Loop. pool bounds the concurrent fan-out across
// sub-batches (max-parallel-channels, spec.md §5).
func New(client wire.GridClient, pool *channelpool.Pool, reg *registry.Registry, cfg Config) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	return &Loop{client: client, pool: pool, reg: reg, cfg: cfg}
}

// Run drives the loop until ctx is cancelled, joining on the current pass
// before returning (spec.md §5: "a top-level cancellation token ends the
// loop after the current pass; the loop joins on dispose"). Outstanding
// handlers are not invoked on return — the caller controls their lifetime.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		ids := l.reg.IDs()
		if len(ids) == 0 {
			if !sleepCtx(ctx, l.cfg.PollInterval) {
				return nil
			}
			continue
		}
		if len(ids) > l.cfg.MaxBatch {
			ids = ids[:l.cfg.MaxBatch]
		}

		readyCount := l.runPass(ctx, ids)

		delay := l.cfg.PollInterval
		if readyCount == 0 {
			delay = l.nextBackoff()
		} else {
			l.backoffIdx = 0
		}
		if !sleepCtx(ctx, delay) {
			return nil
		}
	}
}

func (l *Loop) nextBackoff() time.Duration {
	d := BackoffSchedule[l.backoffIdx]
	if l.backoffIdx < len(BackoffSchedule)-1 {
		l.backoffIdx++
	}
	return d
}

// runPass issues one ListResults+download round over ids, sub-batched by
// SubBatchSize and fanned out across the channel pool, and returns how
// many ids newly resolved to a ready result this pass.
func (l *Loop) runPass(ctx context.Context, ids []string) int {
	var wg sync.WaitGroup
	var readyCount int
	var mu sync.Mutex

	for start := 0; start < len(ids); start += SubBatchSize {
		end := start + SubBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		sub := ids[start:end]

		wg.Add(1)
		go func(sub []string) {
			defer wg.Done()
			n := l.runSubBatch(ctx, sub)
			mu.Lock()
			readyCount += n
			mu.Unlock()
		}(sub)
	}
	wg.Wait()
	return readyCount
}

func (l *Loop) runSubBatch(ctx context.Context, sub []string) int {
	if l.cfg.PollRateLimiter != nil {
		if ok, wait := l.cfg.PollRateLimiter.Allow(1); !ok {
			sleepCtx(ctx, wait)
		}
	}

	statuses, err := channelpool.Do[wire.ListResultsReply](ctx, l.pool, func(c wire.GridClient) (wire.ListResultsReply, error) {
		return c.ListResults(ctx, wire.ListResultsRequest{SessionID: l.cfg.SessionID, ResultIDs: sub})
	})
	if err != nil {
		// "Transport faults on a sub-batch route to on-error for the first
		// id in that sub-batch" (spec.md §4.5); the sub-batch is abandoned
		// on this pass — its ids remain registered and are retried next pass.
		l.deliverError(sub[0], graderr.Wrap(graderr.KindTransportTransient, "ListResults", err))
		return 0
	}

	ready := 0
	for _, entry := range statuses.Entries {
		if !entry.Found {
			continue
		}
		switch entry.Status {
		case wire.ServerResultCompleted:
			if l.downloadAndDeliver(ctx, entry.ResultID) {
				ready++
			}
		case wire.ServerResultAborted:
			l.deliverAbort(ctx, entry.ResultID)
		}
	}
	return ready
}

func (l *Loop) downloadAndDeliver(ctx context.Context, resultID string) bool {
	taskID, handler, ok := l.reg.Take(resultID)
	if !ok {
		return false
	}
	var data []byte
	err := channelpool.WithChannel(ctx, l.pool, func(c wire.GridClient) error {
		var downloadErr error
		data, downloadErr = downloadViaStream(ctx, c, l.cfg.SessionID, resultID)
		return downloadErr
	})
	if err != nil {
		invokeOnError(handler, err, taskID)
		return false
	}
	invokeOnResponse(handler, data, taskID)
	return true
}

func (l *Loop) deliverAbort(ctx context.Context, resultID string) {
	taskID, handler, ok := l.reg.Take(resultID)
	if !ok {
		return
	}
	invokeOnError(handler, graderr.New(graderr.KindResultAborted, "result "+resultID+" aborted"), taskID)
}

func (l *Loop) deliverError(resultID string, err error) {
	taskID, handler, ok := l.reg.Take(resultID)
	if !ok {
		return
	}
	invokeOnError(handler, err, taskID)
}

func downloadViaStream(ctx context.Context, c wire.GridClient, sessionID, resultID string) ([]byte, error) {
	var reasm wire.Reassembler
	var streamErr *graderr.Error
	err := c.TryGetResultStream(ctx, wire.TryGetResultStreamRequest{SessionID: sessionID, ResultID: resultID},
		func(msg wire.ResultStreamMessage) error {
			switch msg.Kind {
			case wire.StreamResultData:
				reasm.Append(msg.Data, msg.DataComplete)
			case wire.StreamError:
				streamErr = graderr.NewResultInError(resultID, msg.ErrorDetails)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	if streamErr != nil {
		return nil, streamErr
	}
	if !reasm.Complete() {
		return nil, graderr.New(graderr.KindResultIncomplete, "stream closed before dataComplete for result "+resultID)
	}
	return reasm.Bytes(), nil
}

// invokeOnResponse/invokeOnError call the handler synchronously: spec.md
// §4.5 requires the callbacks themselves be non-blocking, not that the
// dispatcher hand them off to another goroutine. taskID, not the result id
// the registry is keyed by, is what the GLOSSARY's on-response(bytes,
// taskId)/on-error(err, taskId) signature names.
func invokeOnResponse(h api.InvocationHandler, data []byte, taskID string) {
	if h.OnResponse != nil {
		h.OnResponse(data, taskID)
	}
}

func invokeOnError(h api.InvocationHandler, err error, taskID string) {
	if h.OnError != nil {
		h.OnError(err, taskID)
	} else {
		zap.L().Warn("dispatcher: unhandled error for task", zap.String("task_id", taskID), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
