// Package worker implements WorkerContext (SPEC_FULL.md §4.8): a thin
// façade bundling a running task's own payload and expected-output-keys
// with a worker-scoped Submitter wired to the session's shared
// TaskId2OutputId map, so task-execution code can submit dependent child
// tasks (spec.md §4.3's "worker-side submitter").
//
// The dynamic reflection-based dispatch that would invoke a user's task
// handler is out of scope (spec.md §1, §9); this package only prepares the
// submission-side collaborators a handler would use once invoked.
package worker

import (
	"gridclient/pkg/api"
	"gridclient/pkg/channelpool"
	"gridclient/pkg/submitter"
	"gridclient/pkg/taskmap"
	"gridclient/pkg/wire"
)

// Context bundles what a running task's handler needs to submit child
// tasks that depend on the task's own output.
type Context struct {
	// Payload is the bytes the server dispatched to this task.
	Payload []byte
	// ExpectedOutputKeys are this task's own expected-output result ids,
	// consulted by Submit when resultForParent is set (the "child produces
	// parent's output" pattern, spec.md §4.3).
	ExpectedOutputKeys []string

	// Submit is a worker-scoped Submitter: task-id dependencies a child
	// submission names are translated through TaskMap, and new
	// task-id -> result-id pairs are recorded into it as they're created.
	Submit *submitter.Submitter
}

// New constructs a Context for one running task. taskMap is the session's
// shared TaskId2OutputId map (one per session, per spec.md §5's "one
// writer per session by convention"); resultForParent controls whether
// child submissions default to producing this task's own output instead
// of a freshly allocated one.
func New(
	client wire.GridClient,
	pool *channelpool.Pool,
	taskMap *taskmap.Map,
	sessionID string,
	payload []byte,
	expectedOutputKeys []string,
	resultForParent bool,
	defaultOptions api.TaskOptions,
	engineType api.EngineType,
	chunkMaxSize int,
) *Context {
	cfg := submitter.Config{
		SessionID:       sessionID,
		EngineType:      engineType,
		ChunkMaxSize:    chunkMaxSize,
		DefaultOptions:  defaultOptions,
		TaskMap:         taskMap,
		ResultForParent: resultForParent,
		ParentExpected:  expectedOutputKeys,
	}
	return &Context{
		Payload:            payload,
		ExpectedOutputKeys: expectedOutputKeys,
		Submit:             submitter.New(client, pool, cfg),
	}
}
