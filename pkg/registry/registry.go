// Package registry implements the ResultRegistry (spec.md §3, §4.5): a
// concurrent map from result id to the caller's invocation handler, used by
// fire-and-forget submissions and drained by the DispatcherLoop.
//
// Grounded on the shape of the teacher's worker-capability registry
// (originally pkg/registry/store.go: an RWMutex-guarded map with a
// single-writer-per-key discipline) — repurposed here from "worker
// capability bookkeeping" to "pending handler bookkeeping," which is why
// the map value changed from a JSON document to an in-memory callback pair
// and the KV-backed persistence was dropped (nothing here needs to survive
// a restart; spec.md §3 "Lifecycles" says entries are purged on dispose).
package registry

import (
	"sync"

	"gridclient/pkg/api"
)

// entry pairs a handler with the task id it was registered for: the
// registry is keyed and polled by result id (spec.md §3: "(resultId ->
// user callback)"), but on-response/on-error are invoked with the task id
// (spec.md §3 GLOSSARY: "on-response(bytes, taskId)").
type entry struct {
	taskID  string
	handler api.InvocationHandler
}

// Registry maps result id -> (task id, invocation handler). Insertion is
// single-writer per id, enforced by uniqueness of result ids (spec.md §5);
// removal and lookup are concurrent-safe.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register associates resultID with taskID and handler. Registering the
// same id twice overwrites the previous entry (callers should not do
// this; result ids are unique per task).
func (r *Registry) Register(resultID, taskID string, handler api.InvocationHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[resultID] = entry{taskID: taskID, handler: handler}
}

// Take atomically looks up and removes the entry for resultID, enforcing
// "invoked at most once ... removed after invocation" (spec.md §3).
func (r *Registry) Take(resultID string) (taskID string, handler api.InvocationHandler, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[resultID]
	if ok {
		delete(r.entries, resultID)
	}
	return e.taskID, e.handler, ok
}

// IDs returns a snapshot of all currently-registered result ids, in no
// particular order. Used by the DispatcherLoop to build its next polling
// batch.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	return out
}

// Len reports the number of pending handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Purge removes every pending entry without invoking handlers (spec.md §3:
// "orphan entries are purged on dispose" — the DispatcherLoop's design
// decision is that the caller controls handler lifetime, so dispose does
// not fire on-error for what's left).
func (r *Registry) Purge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]entry)
}
