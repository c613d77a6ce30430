// Package wiretest provides an in-memory wire.GridClient for exercising
// pkg/submitter, pkg/waiter, pkg/dispatcher, and pkg/session without a
// network endpoint. Grounded on the teacher's habit of testing against a
// hand-rolled fake transport rather than a mock-generator (no
// mockery/gomock anywhere in the example pack): Fake keeps real state
// (sessions, results, tasks) behind a mutex and lets a test script that
// state directly, the same way the teacher's in-repo fakes expose their
// backing maps for assertions.
package wiretest

import (
	"context"
	"fmt"
	"sync"

	"gridclient/pkg/graderr"
	"gridclient/pkg/wire"
)

type resultRecord struct {
	status ServerResultStatus
	data   []byte
	errs   []string
}

// ServerResultStatus re-exports wire.ServerResultStatus for callers that
// only import wiretest.
type ServerResultStatus = wire.ServerResultStatus

const (
	ResultCreated   = wire.ServerResultCreated
	ResultCompleted = wire.ServerResultCompleted
	ResultAborted   = wire.ServerResultAborted
)

type taskRecord struct {
	sessionID          string
	payloadID          string
	dataDependencies   []string
	expectedOutputKeys []string
	status             string
}

// Fake is a minimal, fully in-process GridClient. Zero value is not
// usable; construct with New.
type Fake struct {
	mu sync.Mutex

	nextID    int
	sessions  map[string]wire.CreateSessionRequest
	results   map[string]*resultRecord
	tasks     map[string]*taskRecord
	uploading map[string][]byte // resultID -> bytes accumulated so far

	// StreamChunkSize bounds how many bytes TryGetResultStream delivers
	// per message; 0 means "whole payload in one message."
	StreamChunkSize int
}

// New constructs an empty Fake.
func New() *Fake {
	return &Fake{
		sessions:  make(map[string]wire.CreateSessionRequest),
		results:   make(map[string]*resultRecord),
		tasks:     make(map[string]*taskRecord),
		uploading: make(map[string][]byte),
	}
}

func (f *Fake) genID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *Fake) CreateSession(ctx context.Context, req wire.CreateSessionRequest) (wire.CreateSessionReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.genID("session")
	f.sessions[id] = req
	return wire.CreateSessionReply{SessionID: id}, nil
}

func (f *Fake) GetSession(ctx context.Context, req wire.GetSessionRequest) (wire.GetSessionReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[req.SessionID]; !ok {
		return wire.GetSessionReply{}, graderr.New(graderr.KindSessionNotOpenable, "unknown session "+req.SessionID)
	}
	return wire.GetSessionReply{SessionID: req.SessionID, Status: 1}, nil
}

func (f *Fake) GetServiceConfiguration(ctx context.Context) (wire.GetServiceConfigurationReply, error) {
	return wire.GetServiceConfigurationReply{DataChunkMaxSize: 80000}, nil
}

func (f *Fake) CreateResultsMetadata(ctx context.Context, req wire.CreateResultsMetadataRequest) (wire.CreateResultsMetadataReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := req.Count
	if len(req.Names) > n {
		n = len(req.Names)
	}
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := f.genID("result")
		f.results[id] = &resultRecord{status: ResultCreated}
		ids[i] = id
	}
	return wire.CreateResultsMetadataReply{ResultIDs: ids}, nil
}

func (f *Fake) CreateResults(ctx context.Context, req wire.CreateResultsRequest) (wire.CreateResultsReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		id := f.genID("result")
		f.results[id] = &resultRecord{status: ResultCompleted, data: item.Data}
		ids[i] = id
	}
	return wire.CreateResultsReply{ResultIDs: ids}, nil
}

func (f *Fake) UploadResultData(ctx context.Context, sessionID, resultID string, chunks []wire.UploadResultDataChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := f.uploading[resultID]
	var complete bool
	for _, c := range chunks {
		buf = append(buf, c.Data...)
		if c.Complete {
			complete = true
		}
	}
	if complete {
		delete(f.uploading, resultID)
		r, ok := f.results[resultID]
		if !ok {
			r = &resultRecord{}
			f.results[resultID] = r
		}
		r.status = ResultCompleted
		r.data = buf
	} else {
		f.uploading[resultID] = buf
	}
	return nil
}

func (f *Fake) GetResultIds(ctx context.Context, req wire.GetResultIdsRequest) (wire.GetResultIdsReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]wire.TaskResultIDs, 0, len(req.TaskIDs))
	for _, tid := range req.TaskIDs {
		t, ok := f.tasks[tid]
		if !ok {
			continue
		}
		entries = append(entries, wire.TaskResultIDs{TaskID: tid, ResultIDs: t.expectedOutputKeys})
	}
	return wire.GetResultIdsReply{Entries: entries}, nil
}

func (f *Fake) SubmitTasks(ctx context.Context, req wire.SubmitTasksRequest) (wire.SubmitTasksReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.SubmittedTaskWire, len(req.Tasks))
	for i, tc := range req.Tasks {
		id := f.genID("task")
		f.tasks[id] = &taskRecord{
			sessionID:          req.SessionID,
			payloadID:          tc.PayloadID,
			dataDependencies:   tc.DataDependencies,
			expectedOutputKeys: tc.ExpectedOutputKeys,
			status:             "submitted",
		}
		// Echo: a completed payload's bytes become every expected output.
		if p, ok := f.results[tc.PayloadID]; ok && p.status == ResultCompleted {
			for _, key := range tc.ExpectedOutputKeys {
				f.results[key] = &resultRecord{status: ResultCompleted, data: append([]byte(nil), p.data...)}
			}
		}
		var expected string
		if len(tc.ExpectedOutputKeys) > 0 {
			expected = tc.ExpectedOutputKeys[0]
		}
		out[i] = wire.SubmittedTaskWire{TaskID: id, ExpectedOutputID: expected}
	}
	return wire.SubmitTasksReply{Tasks: out}, nil
}

// CreateLargeTaskStream reproduces the legacy bidirectional-stream path's
// observable effect without actually streaming: each unit's payload is
// stored as a completed result in one step, then a task record is created
// referencing it, mirroring what the real server does frame-by-frame.
func (f *Fake) CreateLargeTaskStream(ctx context.Context, sessionID string, defaultOptions wire.TaskOptionsWire, units []wire.LargeTaskUnit, chunkSize int) ([]wire.CreateLargeTaskReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.CreateLargeTaskReply, len(units))
	for i, u := range units {
		resultID := f.genID("result")
		f.results[resultID] = &resultRecord{status: ResultCompleted, data: u.Payload}

		taskID := f.genID("task")
		f.tasks[taskID] = &taskRecord{
			sessionID:          sessionID,
			payloadID:          resultID,
			dataDependencies:   u.Header.DataDependencies,
			expectedOutputKeys: u.Header.ExpectedOutputKeys,
			status:             "submitted",
		}
		out[i] = wire.CreateLargeTaskReply{TaskID: taskID, ResultID: resultID}
	}
	return out, nil
}

func (f *Fake) ListResults(ctx context.Context, req wire.ListResultsRequest) (wire.ListResultsReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]wire.ResultStatusEntry, len(req.ResultIDs))
	for i, id := range req.ResultIDs {
		r, ok := f.results[id]
		if !ok {
			entries[i] = wire.ResultStatusEntry{ResultID: id, Found: false}
			continue
		}
		entries[i] = wire.ResultStatusEntry{ResultID: id, Status: r.status, Found: true}
	}
	return wire.ListResultsReply{Entries: entries}, nil
}

func (f *Fake) WaitForCompletion(ctx context.Context, req wire.WaitForCompletionRequest) (wire.WaitForCompletionReply, error) {
	reply, err := f.ListResults(ctx, wire.ListResultsRequest{SessionID: req.SessionID, ResultIDs: req.ResultIDs})
	return wire.WaitForCompletionReply{Entries: reply.Entries}, err
}

func (f *Fake) WaitForAvailability(ctx context.Context, sessionID, resultID string) (wire.ResultStatusEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[resultID]
	if !ok {
		return wire.ResultStatusEntry{ResultID: resultID, Found: false}, nil
	}
	return wire.ResultStatusEntry{ResultID: resultID, Status: r.status, Found: true}, nil
}

func (f *Fake) TryGetResultStream(ctx context.Context, req wire.TryGetResultStreamRequest, onChunk func(wire.ResultStreamMessage) error) error {
	f.mu.Lock()
	r, ok := f.results[req.ResultID]
	chunkSize := f.StreamChunkSize
	f.mu.Unlock()
	if !ok {
		return onChunk(wire.ResultStreamMessage{Kind: wire.StreamError, ErrorDetails: []string{"unknown result " + req.ResultID}})
	}
	switch r.status {
	case ResultAborted:
		return onChunk(wire.ResultStreamMessage{Kind: wire.StreamError, ErrorDetails: r.errs})
	case ResultCreated:
		return onChunk(wire.ResultStreamMessage{Kind: wire.StreamNotCompletedTask})
	}
	data := r.data
	if chunkSize <= 0 || len(data) == 0 {
		return onChunk(wire.ResultStreamMessage{Kind: wire.StreamResultData, Data: data, DataComplete: true})
	}
	for start := 0; start < len(data); start += chunkSize {
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onChunk(wire.ResultStreamMessage{Kind: wire.StreamResultData, Data: data[start:end], DataComplete: end == len(data)}); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) GetTaskStatus(ctx context.Context, req wire.GetTaskStatusRequest) (wire.GetTaskStatusReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]wire.TaskStatusEntry, 0, len(req.TaskIDs))
	for _, id := range req.TaskIDs {
		t, ok := f.tasks[id]
		if !ok {
			continue
		}
		entries = append(entries, wire.TaskStatusEntry{TaskID: id, Status: t.status})
	}
	return wire.GetTaskStatusReply{Entries: entries}, nil
}

func (f *Fake) TryGetTaskOutput(ctx context.Context, req wire.TryGetTaskOutputRequest) (wire.TryGetTaskOutputReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[req.TaskID]
	if !ok || len(t.expectedOutputKeys) == 0 {
		return wire.TryGetTaskOutputReply{}, nil
	}
	return wire.TryGetTaskOutputReply{ResultID: t.expectedOutputKeys[0], Ready: true}, nil
}

func (f *Fake) ListTasks(ctx context.Context, req wire.ListTasksRequest) (wire.ListTasksReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0)
	for id, t := range f.tasks {
		if req.SessionID != "" && t.sessionID != req.SessionID {
			continue
		}
		ids = append(ids, id)
	}
	return wire.ListTasksReply{TaskIDs: ids}, nil
}

func (f *Fake) GetTask(ctx context.Context, req wire.GetTaskRequest) (wire.GetTaskReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[req.TaskID]
	if !ok {
		return wire.GetTaskReply{}, graderr.New(graderr.KindMethodDispatchError, "unknown task "+req.TaskID)
	}
	return wire.GetTaskReply{
		TaskID:             req.TaskID,
		SessionID:          t.sessionID,
		PayloadID:          t.payloadID,
		DataDependencies:   t.dataDependencies,
		ExpectedOutputKeys: t.expectedOutputKeys,
		Status:             t.status,
	}, nil
}

func (f *Fake) Close() error { return nil }

// --- Test-driver helpers, not part of wire.GridClient ---

// SetResult forces a result's server-side state directly, for tests that
// need to simulate completion, error, or abort without going through
// UploadResultData.
func (f *Fake) SetResult(resultID string, status ServerResultStatus, data []byte, errDetails []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[resultID] = &resultRecord{status: status, data: data, errs: errDetails}
}

// SetTaskStatus overrides a submitted task's status string (e.g.
// "completed", "error") for dispatcher/waiter polling tests.
func (f *Fake) SetTaskStatus(taskID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[taskID]; ok {
		t.status = status
	}
}

var _ wire.GridClient = (*Fake)(nil)
