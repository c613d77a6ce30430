package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gridclient/pkg/api"
	"gridclient/pkg/channelpool"
	"gridclient/pkg/graderr"
	"gridclient/pkg/wire"
	"gridclient/pkg/wire/wiretest"
)

type channelWrapper struct{ wire.GridClient }

func (channelWrapper) Close() error { return nil }

func newTestClient(t *testing.T, fake *wiretest.Fake) *Client {
	t.Helper()
	factory := func(ctx context.Context) (channelpool.Channel, error) {
		return channelWrapper{fake}, nil
	}
	c, err := New(context.Background(), fake, Config{
		EngineType:          api.EngineSymphony,
		ChunkMaxSize:        16,
		MaxParallelChannels: 2,
		MaxRetries:          3,
		RetryBaseDelay:      time.Millisecond,
		PollInterval:        5 * time.Millisecond,
		PoolFactory:         factory,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// Scenario A: two independent submissions, echoed back unchanged.
func TestSubmitTasksEchoRoundTrip(t *testing.T) {
	fake := wiretest.New()
	c := newTestClient(t, fake)
	ctx := context.Background()

	ids, err := c.SubmitTasks(ctx, [][]byte{{0x01}, {0x02}})
	if err != nil {
		t.Fatalf("SubmitTasks: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 task ids, got %d", len(ids))
	}

	got0, err := c.GetResult(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetResult(0): %v", err)
	}
	got1, err := c.GetResult(ctx, ids[1])
	if err != nil {
		t.Fatalf("GetResult(1): %v", err)
	}
	if len(got0) != 1 || got0[0] != 0x01 {
		t.Fatalf("got0 = %v, want [0x01]", got0)
	}
	if len(got1) != 1 || got1[0] != 0x02 {
		t.Fatalf("got1 = %v, want [0x02]", got1)
	}
}

// Scenario B: a dependent task's server-side data-dependencies resolve to
// the parent's result id.
func TestSubmitTaskWithDependenciesBindsParentResultID(t *testing.T) {
	fake := wiretest.New()
	c := newTestClient(t, fake)
	ctx := context.Background()

	taskA, err := c.SubmitTask(ctx, []byte{0xAA})
	if err != nil {
		t.Fatalf("SubmitTask(A): %v", err)
	}
	taskB, err := c.SubmitTaskWithDependencies(ctx, []byte{0xBB}, []string{taskA})
	if err != nil {
		t.Fatalf("SubmitTaskWithDependencies(B): %v", err)
	}

	resultA, err := c.resultIDFor(ctx, taskA)
	if err != nil {
		t.Fatalf("resultIDFor(A): %v", err)
	}
	task, err := fake.GetTask(ctx, wire.GetTaskRequest{TaskID: taskB})
	if err != nil {
		t.Fatalf("GetTask(B): %v", err)
	}
	if len(task.DataDependencies) != 1 || task.DataDependencies[0] != resultA {
		t.Fatalf("B's data-dependencies = %v, want [%s]", task.DataDependencies, resultA)
	}
}

// Scenario C: a dependency on an unknown task id is a fatal
// DependencyUnknown error, with no task-creation RPC issued.
func TestSubmitTaskWithDependenciesUnknownTaskIsFatal(t *testing.T) {
	fake := wiretest.New()
	c := newTestClient(t, fake)
	ctx := context.Background()

	before, _ := fake.ListTasks(ctx, wire.ListTasksRequest{})

	_, err := c.SubmitTaskWithDependencies(ctx, []byte{0xCC}, []string{"nonexistent-task-id"})
	if err == nil {
		t.Fatal("expected DependencyUnknown error")
	}
	if !errors.Is(err, graderr.ErrDependencyUnknown) {
		t.Fatalf("expected DependencyUnknown, got %v", err)
	}

	after, _ := fake.ListTasks(ctx, wire.ListTasksRequest{})
	if len(after.TaskIDs) != len(before.TaskIDs) {
		t.Fatalf("expected no task created, before=%d after=%d", len(before.TaskIDs), len(after.TaskIDs))
	}
}

// Large payload submission routes through the chunked-upload path and
// round-trips intact.
func TestSubmitTaskLargePayloadRoundTrips(t *testing.T) {
	fake := wiretest.New()
	c := newTestClient(t, fake)
	ctx := context.Background()

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}

	taskID, err := c.SubmitTask(ctx, payload)
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	got, err := c.GetResult(ctx, taskID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if len(got) != len(payload) {
		t.Fatalf("got %d bytes, want %d", len(got), len(payload))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d mismatch: got %x want %x", i, got[i], payload[i])
		}
	}
}

// Scenario E: every registered handler fires exactly once, delivered by
// the background DispatcherLoop, with the registry left empty afterwards.
func TestSubmitTasksAsyncDeliversEveryHandlerExactlyOnce(t *testing.T) {
	fake := wiretest.New()
	c := newTestClient(t, fake)
	ctx := context.Background()

	const n = 20
	items := make([]TaskInput, n)
	for i := range items {
		items[i] = TaskInput{Payload: []byte{byte(i)}}
	}

	var mu sync.Mutex
	calls := make(map[string]int)
	var wg sync.WaitGroup
	wg.Add(n)
	handlers := make([]api.InvocationHandler, n)
	for i := range handlers {
		handlers[i] = api.InvocationHandler{
			OnResponse: func(payload []byte, taskID string) {
				mu.Lock()
				calls[taskID]++
				mu.Unlock()
				wg.Done()
			},
		}
	}

	ids, err := c.SubmitTasksWithDependenciesAsync(ctx, items, handlers)
	if err != nil {
		t.Fatalf("SubmitTasksWithDependenciesAsync: %v", err)
	}
	if len(ids) != n {
		t.Fatalf("expected %d task ids, got %d", n, len(ids))
	}

	waitWithTimeout(t, &wg, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != n {
		t.Fatalf("expected %d distinct tasks delivered, got %d", n, len(calls))
	}
	for id, count := range calls {
		if count != 1 {
			t.Fatalf("task %s delivered %d times, want 1", id, count)
		}
	}
}

// Scenario F: a result whose producing task errored raises ResultInError
// without entering the download path.
func TestWaitForReadyResultInErrorSkipsDownload(t *testing.T) {
	fake := wiretest.New()
	c := newTestClient(t, fake)
	ctx := context.Background()

	fake.SetResult("r1", wiretest.ResultAborted, nil, []string{"boom"})
	_, err := c.wait.WaitForReady(ctx, []string{"r1"})
	// WaitForReady itself only classifies; the error surfaces from
	// DownloadResult, which must never be reached for an aborted result.
	if err != nil {
		t.Fatalf("WaitForReady returned an error instead of classifying: %v", err)
	}
	_, err = c.wait.DownloadResult(ctx, "r1")
	if err == nil {
		t.Fatal("expected ResultInError")
	}
	if !errors.Is(err, graderr.ErrResultInError) {
		t.Fatalf("expected ResultInError, got %v", err)
	}
}

// Scenario G: transport-transient failures are retried up to the
// configured bound and the operation still succeeds once the fault clears.
func TestSubmitTaskRetriesTransientFaultThenSucceeds(t *testing.T) {
	fake := wiretest.New()
	flaky := &flakySubmitClient{Fake: fake, failCount: 3}

	factory := func(ctx context.Context) (channelpool.Channel, error) {
		return channelWrapper{flaky}, nil
	}
	c, err := New(context.Background(), flaky, Config{
		EngineType:          api.EngineSymphony,
		ChunkMaxSize:        16,
		MaxParallelChannels: 2,
		MaxRetries:          5,
		RetryBaseDelay:      time.Millisecond,
		PollInterval:        5 * time.Millisecond,
		PoolFactory:         factory,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	taskID, err := c.SubmitTask(context.Background(), []byte{0x01})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if taskID == "" {
		t.Fatal("expected a task id")
	}
	if flaky.attempts != 4 {
		t.Fatalf("expected 4 SubmitTasks attempts (3 failures + 1 success), got %d", flaky.attempts)
	}
}

// flakySubmitClient fails SubmitTasks failCount times with a
// transport-transient error before delegating to the wrapped Fake.
type flakySubmitClient struct {
	*wiretest.Fake
	failCount int
	attempts  int
}

func (c *flakySubmitClient) SubmitTasks(ctx context.Context, req wire.SubmitTasksRequest) (wire.SubmitTasksReply, error) {
	c.attempts++
	if c.attempts <= c.failCount {
		return wire.SubmitTasksReply{}, graderr.Wrap(graderr.KindTransportTransient, "SubmitTasks", errors.New("transport unavailable"))
	}
	return c.Fake.SubmitTasks(ctx, req)
}

func waitWithTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for handlers to be delivered")
	}
}
