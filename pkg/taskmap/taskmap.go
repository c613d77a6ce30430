// Package taskmap implements TaskId2OutputId (spec.md §3, §4.7): a
// flat, append-only task-id -> result-id mapping used by the worker-side
// Submitter to translate a caller-supplied dependency on a task id into a
// dependency on that task's result id. There are no cycles to manage
// (spec.md §9): this is a lookup table, not a graph.
package taskmap

import (
	"sync"

	"gridclient/pkg/graderr"
)

// Map is safe for concurrent use. Per spec.md §5, writes are expected from
// a single owning submission component by convention, but reads are
// concurrent; the exclusion guard below makes the compound
// check-and-insert itself safe even if that convention is violated.
type Map struct {
	mu sync.RWMutex
	m  map[string]string
}

// New constructs an empty Map.
func New() *Map {
	return &Map{m: make(map[string]string)}
}

// Put records taskID -> resultID. Safe to call concurrently with Get.
func (t *Map) Put(taskID, resultID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[taskID] = resultID
}

// Get resolves a task id to its result id. ok is false if taskID has not
// been recorded.
func (t *Map) Get(taskID string) (resultID string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	resultID, ok = t.m[taskID]
	return
}

// Resolve translates a list of task-id dependencies into result-id
// dependencies. It fails fast on the first unknown task id, matching
// spec.md §4.3's "a missing key is a fatal DependencyUnknown error for
// this submission" and invariant 2 (no partial state is visible to the
// caller): the returned slice is only valid when err is nil.
func (t *Map) Resolve(taskIDs []string) ([]string, error) {
	out := make([]string, 0, len(taskIDs))
	for _, id := range taskIDs {
		resultID, ok := t.Get(id)
		if !ok {
			return nil, graderr.DependencyUnknown(id)
		}
		out = append(out, resultID)
	}
	return out, nil
}

// Len reports the number of recorded mappings (test/diagnostic use).
func (t *Map) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}
