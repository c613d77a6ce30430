package wire

import "context"

// GridClient is the transport-facing surface spec.md §6 describes: one
// method per control-plane or data-plane RPC, independent of whether the
// implementation behind it is a real network connection or an in-memory
// stand-in (see wiretest.Fake). Every component above this layer
// (Submitter, ResultWaiter, DispatcherLoop, SessionContext) depends only
// on this interface, never on *grpc.ClientConn directly, so they can be
// unit-tested without a server.
type GridClient interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionReply, error)
	GetSession(ctx context.Context, req GetSessionRequest) (GetSessionReply, error)
	GetServiceConfiguration(ctx context.Context) (GetServiceConfigurationReply, error)

	CreateResultsMetadata(ctx context.Context, req CreateResultsMetadataRequest) (CreateResultsMetadataReply, error)
	CreateResults(ctx context.Context, req CreateResultsRequest) (CreateResultsReply, error)
	UploadResultData(ctx context.Context, sessionID, resultID string, chunks []UploadResultDataChunk) error
	GetResultIds(ctx context.Context, req GetResultIdsRequest) (GetResultIdsReply, error)

	SubmitTasks(ctx context.Context, req SubmitTasksRequest) (SubmitTasksReply, error)

	// CreateLargeTaskStream submits units over the legacy bidirectional
	// streaming path (spec.md §4.3, §6), selected when the session's
	// engine type reports UsesLegacyStreamingUpload. chunkSize bounds each
	// DataChunk frame's payload slice. Implementations that open a single
	// underlying stream for this must serialize concurrent callers
	// themselves (spec.md §5: "process-wide exclusion when writing to the
	// bidirectional stream").
	CreateLargeTaskStream(ctx context.Context, sessionID string, defaultOptions TaskOptionsWire, units []LargeTaskUnit, chunkSize int) ([]CreateLargeTaskReply, error)

	ListResults(ctx context.Context, req ListResultsRequest) (ListResultsReply, error)
	WaitForCompletion(ctx context.Context, req WaitForCompletionRequest) (WaitForCompletionReply, error)
	WaitForAvailability(ctx context.Context, sessionID string, resultID string) (ResultStatusEntry, error)

	// TryGetResultStream invokes onChunk once per received data chunk, in
	// order, until the stream ends or ctx is cancelled. This mirrors a
	// real server-streaming RPC without forcing a full download into
	// memory before the caller sees anything.
	TryGetResultStream(ctx context.Context, req TryGetResultStreamRequest, onChunk func(ResultStreamMessage) error) error

	GetTaskStatus(ctx context.Context, req GetTaskStatusRequest) (GetTaskStatusReply, error)
	TryGetTaskOutput(ctx context.Context, req TryGetTaskOutputRequest) (TryGetTaskOutputReply, error)
	ListTasks(ctx context.Context, req ListTasksRequest) (ListTasksReply, error)
	GetTask(ctx context.Context, req GetTaskRequest) (GetTaskReply, error)

	Close() error
}
