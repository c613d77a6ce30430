package worker

import (
	"context"
	"testing"

	"gridclient/pkg/api"
	"gridclient/pkg/channelpool"
	"gridclient/pkg/taskmap"
	"gridclient/pkg/wire"
	"gridclient/pkg/wire/wiretest"
)

type channelWrapper struct{ wire.GridClient }

func (channelWrapper) Close() error { return nil }

func TestWorkerContextSubmitsChildBoundToParentOutput(t *testing.T) {
	fake := wiretest.New()
	pool := channelpool.New(2, func(ctx context.Context) (channelpool.Channel, error) {
		return channelWrapper{fake}, nil
	})
	tm := taskmap.New()
	tm.Put("parent-task", "parent-result")

	wc := New(fake, pool, tm, "session-1", []byte("parent payload"), []string{"parent-result"}, true,
		api.TaskOptions{}, api.EngineSymphony, 16)

	ctx := context.Background()
	got, err := wc.Submit.SubmitTaskWithDependencies(ctx, []byte("child"), []string{"parent-task"})
	if err != nil {
		t.Fatalf("SubmitTaskWithDependencies: %v", err)
	}
	if got.ResultID != "parent-result" {
		t.Fatalf("expected child to produce parent's output id, got %q", got.ResultID)
	}

	task, err := fake.GetTask(ctx, wire.GetTaskRequest{TaskID: got.TaskID})
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if len(task.DataDependencies) != 1 || task.DataDependencies[0] != "parent-result" {
		t.Fatalf("expected dependency translated to parent-result, got %v", task.DataDependencies)
	}
}
