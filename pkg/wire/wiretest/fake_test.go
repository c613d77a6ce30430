package wiretest

import (
	"context"
	"testing"

	"gridclient/pkg/wire"
)

func TestCreateSessionThenGetSession(t *testing.T) {
	f := New()
	ctx := context.Background()
	created, err := f.CreateSession(ctx, wire.CreateSessionRequest{Partitions: []string{"default"}})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	got, err := f.GetSession(ctx, wire.GetSessionRequest{SessionID: created.SessionID})
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.SessionID != created.SessionID {
		t.Fatalf("SessionID mismatch: %q vs %q", got.SessionID, created.SessionID)
	}
}

func TestGetSessionUnknownIsNotOpenable(t *testing.T) {
	f := New()
	_, err := f.GetSession(context.Background(), wire.GetSessionRequest{SessionID: "nope"})
	if err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestCreateResultsIsImmediatelyComplete(t *testing.T) {
	f := New()
	ctx := context.Background()
	reply, err := f.CreateResults(ctx, wire.CreateResultsRequest{Items: []wire.CreateResultsItem{{Data: []byte("hi")}}})
	if err != nil {
		t.Fatalf("CreateResults: %v", err)
	}
	list, err := f.ListResults(ctx, wire.ListResultsRequest{ResultIDs: reply.ResultIDs})
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if list.Entries[0].Status != ResultCompleted {
		t.Fatalf("status = %v, want completed", list.Entries[0].Status)
	}
}

func TestUploadResultDataMarksCompleteOnLastChunk(t *testing.T) {
	f := New()
	ctx := context.Background()
	meta, _ := f.CreateResultsMetadata(ctx, wire.CreateResultsMetadataRequest{Count: 1})
	resultID := meta.ResultIDs[0]

	chunks := wire.SplitChunks([]byte("hello world"), 4)
	if err := f.UploadResultData(ctx, "s1", resultID, chunks); err != nil {
		t.Fatalf("UploadResultData: %v", err)
	}
	list, _ := f.ListResults(ctx, wire.ListResultsRequest{ResultIDs: []string{resultID}})
	if list.Entries[0].Status != ResultCompleted {
		t.Fatalf("status = %v, want completed", list.Entries[0].Status)
	}
}

func TestTryGetResultStreamChunksAndReassembles(t *testing.T) {
	f := New()
	f.StreamChunkSize = 3
	ctx := context.Background()
	meta, _ := f.CreateResultsMetadata(ctx, wire.CreateResultsMetadataRequest{Count: 1})
	resultID := meta.ResultIDs[0]
	f.SetResult(resultID, ResultCompleted, []byte("0123456789"), nil)

	var reasm wire.Reassembler
	err := f.TryGetResultStream(ctx, wire.TryGetResultStreamRequest{ResultID: resultID}, func(msg wire.ResultStreamMessage) error {
		reasm.Append(msg.Data, msg.DataComplete)
		return nil
	})
	if err != nil {
		t.Fatalf("TryGetResultStream: %v", err)
	}
	if !reasm.Complete() {
		t.Fatal("expected reassembly to be marked complete")
	}
	if string(reasm.Bytes()) != "0123456789" {
		t.Fatalf("got %q", reasm.Bytes())
	}
}

func TestTryGetResultStreamOnNotCompletedTask(t *testing.T) {
	f := New()
	ctx := context.Background()
	meta, _ := f.CreateResultsMetadata(ctx, wire.CreateResultsMetadataRequest{Count: 1})
	resultID := meta.ResultIDs[0] // stays ResultCreated

	var kind wire.ResultStreamMessageKind
	err := f.TryGetResultStream(ctx, wire.TryGetResultStreamRequest{ResultID: resultID}, func(msg wire.ResultStreamMessage) error {
		kind = msg.Kind
		return nil
	})
	if err != nil {
		t.Fatalf("TryGetResultStream: %v", err)
	}
	if kind != wire.StreamNotCompletedTask {
		t.Fatalf("kind = %v, want StreamNotCompletedTask", kind)
	}
}

func TestSubmitTasksThenGetTask(t *testing.T) {
	f := New()
	ctx := context.Background()
	session, _ := f.CreateSession(ctx, wire.CreateSessionRequest{})
	reply, err := f.SubmitTasks(ctx, wire.SubmitTasksRequest{
		SessionID: session.SessionID,
		Tasks: []wire.TaskCreation{
			{PayloadID: "p1", ExpectedOutputKeys: []string{"r1"}},
		},
	})
	if err != nil {
		t.Fatalf("SubmitTasks: %v", err)
	}
	taskID := reply.Tasks[0].TaskID
	got, err := f.GetTask(ctx, wire.GetTaskRequest{TaskID: taskID})
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.PayloadID != "p1" || got.SessionID != session.SessionID {
		t.Fatalf("got %+v", got)
	}
}
