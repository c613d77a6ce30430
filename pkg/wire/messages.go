// Package wire defines the RPC message shapes of spec.md §6 and a
// GridClient that carries them over a real google.golang.org/grpc
// connection. Messages are plain Go structs rather than compiler-generated
// protobuf types: no protoc toolchain is available to this build, so the
// wire codec is CBOR (github.com/fxamacker/cbor/v2, canonical encoding
// mode) registered as a grpc.Codec — see grpc_codec.go. This keeps the RPC
// surface identical to spec.md §6 while trading the generated-message
// layer for a hand-written one; SPEC_FULL.md's DOMAIN STACK section
// records this as a deliberate substitution, not a silent drop of
// protobuf.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"gridclient/pkg/api"
)

// TaskOptionsWire is the wire shape of api.TaskOptions. ApplicationMeta
// rides two different encodings depending on EngineType: the Unified
// engine speaks a protobuf-shaped control plane (spec.md §3), so its
// metadata is round-tripped through a structpb.Struct and carried as the
// serialized ApplicationMetaPB bytes; every other engine carries the map
// as-is, letting the CBOR codec handle it like any other field.
type TaskOptionsWire struct {
	MaxDuration          int64
	MaxRetries           int
	Priority             int
	EngineType           int
	ApplicationName      string
	ApplicationVersion   string
	ApplicationNamespace string
	ApplicationService   string
	PartitionID          string
	ApplicationMeta      map[string]any
	ApplicationMetaPB    []byte // set instead of ApplicationMeta for EngineUnified
}

func ToWireOptions(o api.TaskOptions) (TaskOptionsWire, error) {
	w := TaskOptionsWire{
		MaxDuration:          o.MaxDuration,
		MaxRetries:           o.MaxRetries,
		Priority:             o.Priority,
		EngineType:           int(o.EngineType),
		ApplicationName:      o.ApplicationName,
		ApplicationVersion:   o.ApplicationVersion,
		ApplicationNamespace: o.ApplicationNamespace,
		ApplicationService:   o.ApplicationService,
		PartitionID:          o.PartitionID,
	}
	if o.EngineType == api.EngineUnified && len(o.ApplicationMeta) > 0 {
		st, err := structpb.NewStruct(o.ApplicationMeta)
		if err != nil {
			return TaskOptionsWire{}, fmt.Errorf("wire: ApplicationMeta not structpb-representable: %w", err)
		}
		data, err := proto.Marshal(st)
		if err != nil {
			return TaskOptionsWire{}, fmt.Errorf("wire: marshal ApplicationMeta struct: %w", err)
		}
		w.ApplicationMetaPB = data
	} else {
		w.ApplicationMeta = o.ApplicationMeta
	}
	return w, nil
}

func (w TaskOptionsWire) ToAPI() (api.TaskOptions, error) {
	o := api.TaskOptions{
		MaxDuration:          w.MaxDuration,
		MaxRetries:           w.MaxRetries,
		Priority:             w.Priority,
		EngineType:           api.EngineType(w.EngineType),
		ApplicationName:      w.ApplicationName,
		ApplicationVersion:   w.ApplicationVersion,
		ApplicationNamespace: w.ApplicationNamespace,
		ApplicationService:   w.ApplicationService,
		PartitionID:          w.PartitionID,
		ApplicationMeta:      w.ApplicationMeta,
	}
	if len(w.ApplicationMetaPB) > 0 {
		var st structpb.Struct
		if err := proto.Unmarshal(w.ApplicationMetaPB, &st); err != nil {
			return api.TaskOptions{}, fmt.Errorf("wire: unmarshal ApplicationMeta struct: %w", err)
		}
		o.ApplicationMeta = st.AsMap()
	}
	return o, nil
}

// --- Session ---

type CreateSessionRequest struct {
	DefaultTaskOptions TaskOptionsWire
	Partitions         []string
}

type CreateSessionReply struct {
	SessionID string
}

type GetSessionRequest struct {
	SessionID string
}

type GetSessionReply struct {
	SessionID string
	Status    int // api.SessionStatus
}

type GetServiceConfigurationReply struct {
	DataChunkMaxSize int
}

// --- Results ---

type CreateResultsMetadataRequest struct {
	SessionID string
	Count     int      // allocate Count anonymous result ids
	Names     []string // or: allocate one named id per entry
}

type CreateResultsMetadataReply struct {
	ResultIDs []string // bound by position to Count/Names
}

// CreateResultsItem is one small inline payload to create in a single
// batched CreateResults call.
type CreateResultsItem struct {
	Data []byte
}

type CreateResultsRequest struct {
	SessionID string
	Items     []CreateResultsItem
}

type CreateResultsReply struct {
	ResultIDs []string // one per Items entry, same order
}

type UploadResultDataChunk struct {
	Data     []byte
	Complete bool
}

type GetResultIdsRequest struct {
	SessionID string
	TaskIDs   []string
}

type TaskResultIDs struct {
	TaskID    string
	ResultIDs []string
}

type GetResultIdsReply struct {
	Entries []TaskResultIDs
}

// --- Tasks ---

type TaskCreation struct {
	PayloadID          string
	DataDependencies   []string
	ExpectedOutputKeys []string
	TaskOptions        *TaskOptionsWire // nil: inherit session defaults
}

type SubmitTasksRequest struct {
	SessionID   string
	TaskOptions TaskOptionsWire
	Tasks       []TaskCreation
}

type SubmittedTaskWire struct {
	TaskID         string
	ExpectedOutputID string
}

type SubmitTasksReply struct {
	Tasks []SubmittedTaskWire // same order as the request's Tasks
}

// --- Status / listing ---

// ResultStatusEntry is the server's raw classification of one result id,
// before ResultWaiter maps it into api.ResultStatus (spec.md §4.4):
// created -> not-ready, completed -> ready, aborted|unspecified ->
// result-error, unknown-to-server -> missing.
type ServerResultStatus int

const (
	ServerResultUnknown ServerResultStatus = iota
	ServerResultCreated
	ServerResultCompleted
	ServerResultAborted
)

type ResultStatusEntry struct {
	ResultID string
	Status   ServerResultStatus
	Found    bool // false: unknown to server
}

type ListResultsRequest struct {
	SessionID string
	ResultIDs []string
}

type ListResultsReply struct {
	Entries []ResultStatusEntry
}

type WaitForCompletionRequest struct {
	SessionID                string
	ResultIDs                []string
	StopOnFirstTaskError      bool
	StopOnFirstTaskCancellation bool
}

type WaitForCompletionReply struct {
	Entries []ResultStatusEntry
}

// --- Result download ---

// ResultStreamMessageKind discriminates the oneof-like payload of a
// TryGetResultStream message (spec.md §4.4, §6).
type ResultStreamMessageKind int

const (
	StreamResultData ResultStreamMessageKind = iota
	StreamError
	StreamNotCompletedTask
	StreamNone
)

type ResultStreamMessage struct {
	Kind         ResultStreamMessageKind
	Data         []byte
	DataComplete bool
	ErrorDetails []string
}

type TryGetResultStreamRequest struct {
	SessionID string
	ResultID  string
}

// --- Task status / listing ---

type GetTaskStatusRequest struct {
	TaskIDs []string
}

type TaskStatusEntry struct {
	TaskID string
	Status string
}

type GetTaskStatusReply struct {
	Entries []TaskStatusEntry
}

type TryGetTaskOutputRequest struct {
	TaskID string
}

type TryGetTaskOutputReply struct {
	ResultID string
	Ready    bool
}

type ListTasksRequest struct {
	SessionID string
	Filter    map[string]string
	SortBy    string
}

type ListTasksReply struct {
	TaskIDs []string
}

type GetTaskRequest struct {
	TaskID string
}

type GetTaskReply struct {
	TaskID             string
	SessionID          string
	PayloadID          string
	DataDependencies   []string
	ExpectedOutputKeys []string
	Status             string
}

// --- Legacy streaming upload mode (spec.md §4.3, §6) ---

type LargeTaskHeader struct {
	DataDependencies   []string
	ExpectedOutputKeys []string
	TaskOptions        *TaskOptionsWire
}

// CreateLargeTaskMessage is one frame of the CreateLargeTasks bidirectional
// stream: {InitRequest}{InitTask header}{DataChunk...}{DataChunk complete}
// repeated, then a final {InitTask lastTask} before stream close.
type CreateLargeTaskMessage struct {
	InitRequest bool
	InitHeader  *LargeTaskHeader
	DataChunk   *UploadResultDataChunk
	LastTask    bool
	SessionID   string
	TaskOptions *TaskOptionsWire
}

type CreateLargeTaskReply struct {
	TaskID   string
	ResultID string
}

// LargeTaskUnit is one task submitted through the legacy streaming-upload
// path: its header plus the full payload to be split into DataChunk
// frames by the GridClient implementation.
type LargeTaskUnit struct {
	Header  LargeTaskHeader
	Payload []byte
}
