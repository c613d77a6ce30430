package wire

import (
	"context"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.uber.org/zap"
)

// Method paths mirror the RPC names of spec.md §6 one-for-one; there is
// no .proto-generated service descriptor behind them (see messages.go),
// so grpc.ClientConn.Invoke/NewStream address them by raw path instead of
// through a generated client stub.
const (
	methodCreateSession             = "/gridclient.v1.Submitter/CreateSession"
	methodGetSession                = "/gridclient.v1.Submitter/GetSession"
	methodGetServiceConfiguration   = "/gridclient.v1.Submitter/GetServiceConfiguration"
	methodCreateResultsMetadata     = "/gridclient.v1.Results/CreateResultsMetadata"
	methodCreateResults             = "/gridclient.v1.Results/CreateResults"
	methodUploadResultData          = "/gridclient.v1.Results/UploadResultData" // client-streaming
	methodGetResultIds              = "/gridclient.v1.Results/GetResultIds"
	methodSubmitTasks               = "/gridclient.v1.Submitter/SubmitTasks"
	methodListResults               = "/gridclient.v1.Results/ListResults"
	methodWaitForCompletion         = "/gridclient.v1.Submitter/WaitForCompletion"
	methodWaitForAvailability       = "/gridclient.v1.Results/WaitForAvailability"
	methodTryGetResultStream        = "/gridclient.v1.Results/TryGetResultStream" // server-streaming
	methodGetTaskStatus             = "/gridclient.v1.Tasks/GetTaskStatus"
	methodTryGetTaskOutput          = "/gridclient.v1.Tasks/TryGetTaskOutput"
	methodListTasks                 = "/gridclient.v1.Tasks/ListTasks"
	methodGetTask                   = "/gridclient.v1.Tasks/GetTask"
	methodCreateLargeTasks          = "/gridclient.v1.Submitter/CreateLargeTasks" // bidirectional streaming, legacy mode
)

// GRPCClient is the real GridClient, carrying messages.go's plain structs
// over a *grpc.ClientConn with the CBOR subtype codec from
// grpc_codec.go. Grounded on the dial/option shape the teacher's deleted
// gateway/grpc/grpc.go used (insecure transport credentials plus a
// content-subtype codec override, no interceptor chain beyond what the
// caller supplies).
type GRPCClient struct {
	conn *grpc.ClientConn

	// largeTaskStreamMu serializes CreateLargeTaskStream calls: the legacy
	// mode opens one bidirectional stream per call and writes an ordered
	// frame sequence on it, so two concurrent callers on the same
	// connection must not interleave (spec.md §5's process-wide exclusion
	// on bidirectional stream writes).
	largeTaskStreamMu sync.Mutex
}

// Dial opens a connection to target (host:port) and returns a GridClient
// backed by it. Extra DialOptions are appended after the package
// defaults, so a caller can add e.g. TLS credentials or interceptors.
func Dial(ctx context.Context, target string, opts ...grpc.DialOption) (*GRPCClient, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("cbor")),
	}, opts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("wire: dialed grid endpoint", zap.String("target", target))
	return &GRPCClient{conn: conn}, nil
}

func (c *GRPCClient) Close() error { return c.conn.Close() }

func (c *GRPCClient) CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionReply, error) {
	var reply CreateSessionReply
	err := c.conn.Invoke(ctx, methodCreateSession, &req, &reply)
	return reply, err
}

func (c *GRPCClient) GetSession(ctx context.Context, req GetSessionRequest) (GetSessionReply, error) {
	var reply GetSessionReply
	err := c.conn.Invoke(ctx, methodGetSession, &req, &reply)
	return reply, err
}

func (c *GRPCClient) GetServiceConfiguration(ctx context.Context) (GetServiceConfigurationReply, error) {
	var reply GetServiceConfigurationReply
	err := c.conn.Invoke(ctx, methodGetServiceConfiguration, &struct{}{}, &reply)
	return reply, err
}

func (c *GRPCClient) CreateResultsMetadata(ctx context.Context, req CreateResultsMetadataRequest) (CreateResultsMetadataReply, error) {
	var reply CreateResultsMetadataReply
	err := c.conn.Invoke(ctx, methodCreateResultsMetadata, &req, &reply)
	return reply, err
}

func (c *GRPCClient) CreateResults(ctx context.Context, req CreateResultsRequest) (CreateResultsReply, error) {
	var reply CreateResultsReply
	err := c.conn.Invoke(ctx, methodCreateResults, &req, &reply)
	return reply, err
}

// UploadResultData streams chunks to the server over a client-streaming
// RPC and waits for the final ack. The caller (pkg/submitter) has already
// split the payload via SplitChunks.
func (c *GRPCClient) UploadResultData(ctx context.Context, sessionID, resultID string, chunks []UploadResultDataChunk) error {
	stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{ClientStreams: true}, methodUploadResultData)
	if err != nil {
		return err
	}
	type header struct {
		SessionID string
		ResultID  string
	}
	if err := stream.SendMsg(&header{SessionID: sessionID, ResultID: resultID}); err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := stream.SendMsg(&chunk); err != nil {
			return err
		}
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	var ack struct{}
	if err := stream.RecvMsg(&ack); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (c *GRPCClient) GetResultIds(ctx context.Context, req GetResultIdsRequest) (GetResultIdsReply, error) {
	var reply GetResultIdsReply
	err := c.conn.Invoke(ctx, methodGetResultIds, &req, &reply)
	return reply, err
}

func (c *GRPCClient) SubmitTasks(ctx context.Context, req SubmitTasksRequest) (SubmitTasksReply, error) {
	var reply SubmitTasksReply
	err := c.conn.Invoke(ctx, methodSubmitTasks, &req, &reply)
	return reply, err
}

func (c *GRPCClient) ListResults(ctx context.Context, req ListResultsRequest) (ListResultsReply, error) {
	var reply ListResultsReply
	err := c.conn.Invoke(ctx, methodListResults, &req, &reply)
	return reply, err
}

func (c *GRPCClient) WaitForCompletion(ctx context.Context, req WaitForCompletionRequest) (WaitForCompletionReply, error) {
	var reply WaitForCompletionReply
	err := c.conn.Invoke(ctx, methodWaitForCompletion, &req, &reply)
	return reply, err
}

func (c *GRPCClient) WaitForAvailability(ctx context.Context, sessionID, resultID string) (ResultStatusEntry, error) {
	req := ListResultsRequest{SessionID: sessionID, ResultIDs: []string{resultID}}
	var reply ResultStatusEntry
	err := c.conn.Invoke(ctx, methodWaitForAvailability, &req, &reply)
	return reply, err
}

func (c *GRPCClient) TryGetResultStream(ctx context.Context, req TryGetResultStreamRequest, onChunk func(ResultStreamMessage) error) error {
	stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, methodTryGetResultStream)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		var msg ResultStreamMessage
		err := stream.RecvMsg(&msg)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := onChunk(msg); err != nil {
			return err
		}
	}
}

func (c *GRPCClient) GetTaskStatus(ctx context.Context, req GetTaskStatusRequest) (GetTaskStatusReply, error) {
	var reply GetTaskStatusReply
	err := c.conn.Invoke(ctx, methodGetTaskStatus, &req, &reply)
	return reply, err
}

func (c *GRPCClient) TryGetTaskOutput(ctx context.Context, req TryGetTaskOutputRequest) (TryGetTaskOutputReply, error) {
	var reply TryGetTaskOutputReply
	err := c.conn.Invoke(ctx, methodTryGetTaskOutput, &req, &reply)
	return reply, err
}

func (c *GRPCClient) ListTasks(ctx context.Context, req ListTasksRequest) (ListTasksReply, error) {
	var reply ListTasksReply
	err := c.conn.Invoke(ctx, methodListTasks, &req, &reply)
	return reply, err
}

func (c *GRPCClient) GetTask(ctx context.Context, req GetTaskRequest) (GetTaskReply, error) {
	var reply GetTaskReply
	err := c.conn.Invoke(ctx, methodGetTask, &req, &reply)
	return reply, err
}

// CreateLargeTaskStream implements the legacy streaming-upload fallback
// (spec.md §4.3, §6): one InitRequest frame, then a header frame and its
// data-chunk frames per unit over a single bidirectional stream, then a
// final header frame with LastTask set, then one CreateLargeTaskReply read
// back per unit in order. Only one
// such stream is ever open on a given *GRPCClient at a time.
func (c *GRPCClient) CreateLargeTaskStream(ctx context.Context, sessionID string, defaultOptions TaskOptionsWire, units []LargeTaskUnit, chunkSize int) ([]CreateLargeTaskReply, error) {
	c.largeTaskStreamMu.Lock()
	defer c.largeTaskStreamMu.Unlock()

	stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{ClientStreams: true, ServerStreams: true}, methodCreateLargeTasks)
	if err != nil {
		return nil, err
	}

	if err := stream.SendMsg(&CreateLargeTaskMessage{
		InitRequest: true,
		SessionID:   sessionID,
		TaskOptions: &defaultOptions,
	}); err != nil {
		return nil, err
	}
	for _, unit := range units {
		header := unit.Header
		if err := stream.SendMsg(&CreateLargeTaskMessage{InitHeader: &header}); err != nil {
			return nil, err
		}
		chunks := SplitChunks(unit.Payload, chunkSize)
		for _, chunk := range chunks {
			if err := stream.SendMsg(&CreateLargeTaskMessage{DataChunk: &chunk}); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.SendMsg(&CreateLargeTaskMessage{InitHeader: &LargeTaskHeader{}, LastTask: true}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	replies := make([]CreateLargeTaskReply, 0, len(units))
	for {
		var reply CreateLargeTaskReply
		err := stream.RecvMsg(&reply)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		replies = append(replies, reply)
	}
	return replies, nil
}

var _ GridClient = (*GRPCClient)(nil)
