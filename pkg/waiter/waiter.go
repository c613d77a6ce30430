// Package waiter implements ResultWaiter (spec.md §4.4): availability
// waiting, chunked result download with reassembly, and result-status
// classification into a ResultStatusCollection.
//
// No teacher file waits on or downloads results (urands-ttmesh has no
// result concept at all), so this package's control flow is grounded
// directly on spec.md §4.4, reusing already-adapted collaborators:
// pkg/retry for the WaitForReady retry wrapping, pkg/wire.Reassembler for
// the chunked download invariant, and the GetResultIds RPC for task-id
// resolution in GetResult.
// A result downloaded once is served from memory on a repeat
// GetResult/DownloadResult for the same id via the small resultCache
// below.
package waiter

import (
	"context"
	"sync"
	"time"

	"gridclient/pkg/api"
	"gridclient/pkg/graderr"
	"gridclient/pkg/retry"
	"gridclient/pkg/wire"
)

// transportWhitelist mirrors pkg/submitter's retry classification: only
// transport errors are retried, never a terminal server classification
// like ResultInError.
var transportWhitelist = []graderr.Kind{graderr.KindTransportTransient}

// Config parameterizes a Waiter instance.
type Config struct {
	SessionID      string
	MaxRetries     int
	RetryBaseDelay time.Duration

	// CacheTTL bounds how long a downloaded result's bytes stay in the
	// in-memory cache after being served; 0 disables caching. Caching is
	// only safe because results are immutable once complete: a result id
	// never changes its bytes after DownloadResult first returns them.
	CacheTTL time.Duration
}

// Waiter implements ResultWaiter against one session.
type Waiter struct {
	client wire.GridClient
	cfg    Config
	cache  *resultCache
}

// New constructs a Waiter.
func New(client wire.GridClient, cfg Config) *Waiter {
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	w := &Waiter{client: client, cfg: cfg}
	if cfg.CacheTTL > 0 {
		w.cache = newResultCache()
	}
	return w
}

// Close is a no-op kept for API stability; the result cache holds no
// background goroutine or connection to release.
func (w *Waiter) Close() {}

// WaitForReady blocks until every id in resultIDs is terminal (ready or
// errored) or ctx is cancelled (spec.md §4.4: "issues a server-side
// availability wait ... wrapped in RetryHarness over transport errors").
func (w *Waiter) WaitForReady(ctx context.Context, resultIDs []string) (api.ResultStatusCollection, error) {
	reply, err := retry.Do(ctx, w.cfg.MaxRetries, w.cfg.RetryBaseDelay, transportWhitelist, true,
		func(ctx context.Context, attempt int) (wire.WaitForCompletionReply, error) {
			return w.client.WaitForCompletion(ctx, wire.WaitForCompletionRequest{
				SessionID:                   w.cfg.SessionID,
				ResultIDs:                   resultIDs,
				StopOnFirstTaskError:        true,
				StopOnFirstTaskCancellation: true,
			})
		})
	if err != nil {
		return api.ResultStatusCollection{}, graderr.Wrap(graderr.KindTransportFatal, "WaitForCompletion", err)
	}
	return classify(resultIDs, reply.Entries), nil
}

// GetResultStatus classifies each of the supplied ids without waiting,
// against the server's raw status (spec.md §4.4). The ids are queried as
// result ids exactly as given; task ids are not translated, so a task id
// the server does not know as a result id lands in Missing.
func (w *Waiter) GetResultStatus(ctx context.Context, ids []string) (api.ResultStatusCollection, error) {
	reply, err := retry.Do(ctx, w.cfg.MaxRetries, w.cfg.RetryBaseDelay, transportWhitelist, true,
		func(ctx context.Context, attempt int) (wire.ListResultsReply, error) {
			return w.client.ListResults(ctx, wire.ListResultsRequest{SessionID: w.cfg.SessionID, ResultIDs: ids})
		})
	if err != nil {
		return api.ResultStatusCollection{}, graderr.Wrap(graderr.KindTransportFatal, "ListResults", err)
	}
	return classify(ids, reply.Entries), nil
}

// classify partitions entries by server status, preserving query order
// (spec.md §8 invariant 8).
func classify(queried []string, entries []wire.ResultStatusEntry) api.ResultStatusCollection {
	byID := make(map[string]wire.ResultStatusEntry, len(entries))
	for _, e := range entries {
		byID[e.ResultID] = e
	}
	var out api.ResultStatusCollection
	for _, id := range queried {
		e, ok := byID[id]
		if !ok || !e.Found {
			out.Add(id, api.StatusMissing)
			continue
		}
		switch e.Status {
		case wire.ServerResultCreated:
			out.Add(id, api.StatusNotReady)
		case wire.ServerResultCompleted:
			out.Add(id, api.StatusReady)
		default: // Aborted or Unknown
			out.Add(id, api.StatusResultError)
		}
	}
	return out
}

// GetResult resolves taskID's result id, waits for it to become ready, and
// downloads it. Download invariants (spec.md §4.4): bytes accumulate in
// order; a data chunk received after dataComplete resets the completion
// flag (corrupt stream); a stream that ends without a final dataComplete
// raises ResultIncomplete.
func (w *Waiter) GetResult(ctx context.Context, taskID string) ([]byte, error) {
	idsReply, err := w.client.GetResultIds(ctx, wire.GetResultIdsRequest{SessionID: w.cfg.SessionID, TaskIDs: []string{taskID}})
	if err != nil {
		return nil, graderr.Wrap(graderr.KindTransportFatal, "GetResultIds", err)
	}
	var resultID string
	for _, e := range idsReply.Entries {
		if e.TaskID == taskID && len(e.ResultIDs) > 0 {
			resultID = e.ResultIDs[0]
			break
		}
	}
	if resultID == "" {
		return nil, graderr.New(graderr.KindTransportFatal, "no result id recorded for task "+taskID)
	}

	if _, err := w.WaitForReady(ctx, []string{resultID}); err != nil {
		return nil, err
	}
	return w.DownloadResult(ctx, resultID)
}

// DownloadResult streams resultID and reassembles it per spec.md §4.4's
// chunking invariants. Returns (nil, nil) for None/NotCompletedTask (the
// "not-ready" case returned as absent to the caller).
func (w *Waiter) DownloadResult(ctx context.Context, resultID string) ([]byte, error) {
	if w.cache != nil {
		if cached, ok := w.cache.get(resultID); ok {
			return cached, nil
		}
	}

	var reasm wire.Reassembler
	var notReady bool
	var resultErr *graderr.Error

	err := w.client.TryGetResultStream(ctx, wire.TryGetResultStreamRequest{SessionID: w.cfg.SessionID, ResultID: resultID},
		func(msg wire.ResultStreamMessage) error {
			switch msg.Kind {
			case wire.StreamResultData:
				reasm.Append(msg.Data, msg.DataComplete)
			case wire.StreamNotCompletedTask, wire.StreamNone:
				notReady = true
			case wire.StreamError:
				resultErr = graderr.NewResultInError(resultID, msg.ErrorDetails)
			}
			return nil
		})
	if err != nil {
		return nil, graderr.Wrap(graderr.KindTransportFatal, "TryGetResultStream", err)
	}
	if resultErr != nil {
		return nil, resultErr
	}
	if notReady {
		return nil, nil
	}
	if !reasm.Complete() {
		return nil, graderr.New(graderr.KindResultIncomplete, "stream closed before dataComplete for result "+resultID)
	}
	data := reasm.Bytes()
	if w.cache != nil {
		w.cache.set(resultID, data, w.cfg.CacheTTL)
	}
	return data, nil
}

// cachedResult is one entry in a resultCache.
type cachedResult struct {
	data      []byte
	expiresAt time.Time
}

// resultCache is a small in-memory cache of downloaded result bytes,
// keyed by result id. It exists only because results are immutable once
// complete (spec.md §4.4), so a repeat GetResult/DownloadResult for the
// same id never needs another round trip. Expired entries are dropped
// lazily on get rather than by a background sweep: nothing here runs
// long enough, or holds enough distinct result ids, to need proactive
// eviction.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cachedResult
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[string]cachedResult)}
}

func (c *resultCache) get(resultID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[resultID]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(c.entries, resultID)
		return nil, false
	}
	return e.data, true
}

func (c *resultCache) set(resultID string, data []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.entries[resultID] = cachedResult{data: data, expiresAt: expiresAt}
}
