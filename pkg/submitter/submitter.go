// Package submitter implements the Submitter (spec.md §3, §4.3): the
// chunked pipeline from a stream of (payload, dependencies) tuples to
// submitted task ids, with retry and channel-pool discipline over every
// RPC it issues.
//
// No single teacher file is shaped like this pipeline — urands-ttmesh
// has no submission concept — so the control flow (classify, allocate
// ids, upload each payload on a pooled channel, then batch-create) is
// grounded on spec.md §4.3 itself, built from the already-adapted
// collaborators: pkg/channelpool for the concurrency bound, pkg/retry
// for the RPC retry wrapping, pkg/wire for the RPC surface, and
// pkg/taskmap for the worker-side dependency translation.
package submitter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gridclient/pkg/api"
	"gridclient/pkg/channelpool"
	"gridclient/pkg/graderr"
	"gridclient/pkg/retry"
	"gridclient/pkg/taskmap"
	"gridclient/pkg/wire"
)

// DefaultChunkSize is spec.md §4.3's default submission chunk size.
const DefaultChunkSize = 500

// taskSubChunkSize bounds how many task descriptors ride one SubmitTasks
// call (spec.md §4.3 step 4: "sub-chunks of 100").
const taskSubChunkSize = 100

// transportWhitelist is the retry whitelist every submission RPC uses
// (spec.md §4.3: "whitelist = {IO-error, transport-error}, derivedOk =
// true").
var transportWhitelist = []graderr.Kind{graderr.KindTransportTransient}

// Config parameterizes a Submitter instance.
type Config struct {
	SessionID       string
	EngineType      api.EngineType
	ChunkMaxSize    int // server-advertised dataChunkMaxSize; payload size threshold
	ChunkSize       int // submission chunk size, default DefaultChunkSize
	MaxRetries      int
	RetryBaseDelay  time.Duration
	DefaultOptions  api.TaskOptions

	// Worker mode (spec.md §4.3 "Worker-side submitter"): non-nil enables
	// task-id dependency translation via TaskMap and, if ResultForParent is
	// set, overrides every task's expected-output-keys with the parent's.
	TaskMap          *taskmap.Map
	ResultForParent  bool
	ParentExpected   []string
}

// Submitter runs the chunked submission pipeline against one session.
type Submitter struct {
	client wire.GridClient
	pool   *channelpool.Pool
	cfg    Config
}

// New constructs a Submitter. pool leases wire.GridClient connections for
// the upload pass (spec.md §4.3 step 3); uploads are issued one after
// another, each on a leased channel, not in parallel. client itself is
// used for the sequential allocate/create-tasks RPCs.
func New(client wire.GridClient, pool *channelpool.Pool, cfg Config) *Submitter {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Submitter{client: client, pool: pool, cfg: cfg}
}

// classifiedTask is one chunk entry after the classification pass
// (spec.md §4.3 step 1). outputResultID is what ends up in
// expected-output-keys; payloadID is what ends up as PayloadID in the
// task-creation call. For a small payload the two are unrelated (payloadID
// comes back from CreateResults); for a large payload payloadID is a
// container id allocated up front and outputResultID is still a distinct
// id naming the task's eventual output.
type classifiedTask struct {
	input          api.TaskSubmission
	sizeClass      api.SizeClass
	outputResultID string
	payloadID      string // empty until the upload pass (step 3) binds it
}

// SubmitWithDependencies runs the full chunked pipeline over inputs and
// returns one api.SubmittedTask per input, in input order (spec.md §5:
// "order of returned pairs matches the caller's input order"). A task whose
// small-payload upload exhausted its retries is dropped and has no entry,
// so fewer than len(inputs) tasks come back in that case.
func (s *Submitter) SubmitWithDependencies(ctx context.Context, inputs []api.TaskSubmission) ([]api.SubmittedTask, error) {
	out := make([]api.SubmittedTask, 0, len(inputs))
	for start := 0; start < len(inputs); start += s.cfg.ChunkSize {
		end := start + s.cfg.ChunkSize
		if end > len(inputs) {
			end = len(inputs)
		}
		results, err := s.submitChunk(ctx, inputs[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, results...)
	}
	return out, nil
}

// SubmitTask is the single-task convenience form (spec.md §4.3).
func (s *Submitter) SubmitTask(ctx context.Context, payload []byte) (api.SubmittedTask, error) {
	results, err := s.SubmitWithDependencies(ctx, []api.TaskSubmission{{Payload: payload}})
	if err != nil {
		return api.SubmittedTask{}, err
	}
	return results[0], nil
}

// SubmitTaskWithDependencies is the single-task dependency-carrying form.
func (s *Submitter) SubmitTaskWithDependencies(ctx context.Context, payload []byte, deps []string) (api.SubmittedTask, error) {
	results, err := s.SubmitWithDependencies(ctx, []api.TaskSubmission{{Payload: payload, Dependencies: deps}})
	if err != nil {
		return api.SubmittedTask{}, err
	}
	return results[0], nil
}

func (s *Submitter) submitChunk(ctx context.Context, chunk []api.TaskSubmission) ([]api.SubmittedTask, error) {
	if s.cfg.EngineType.UsesLegacyStreamingUpload() {
		return s.submitChunkLegacy(ctx, chunk)
	}

	// Step 0: worker-side dependency translation. This must happen before
	// any RPC that consumes server-side state (result-id allocation,
	// upload) so an unknown dependency task id aborts the chunk with no
	// partial state visible to the caller (spec.md §8 invariant 2).
	if s.cfg.TaskMap != nil {
		for i := range chunk {
			resolved, err := s.cfg.TaskMap.Resolve(chunk[i].Dependencies)
			if err != nil {
				return nil, err
			}
			chunk[i].Dependencies = resolved
		}
	}

	tasks := make([]classifiedTask, len(chunk))
	var smallPayloads, largePayloads []int // indices into tasks
	needNewIDs := 0

	// Step 1: classification pass.
	for i, in := range chunk {
		ct := classifiedTask{input: in}
		ct.sizeClass = api.ClassifyPayload(in.Payload, s.cfg.ChunkMaxSize)
		if ct.sizeClass == api.Small {
			smallPayloads = append(smallPayloads, i)
		} else {
			largePayloads = append(largePayloads, i)
			needNewIDs++ // large payloads need their own addressable container id
		}
		if in.ResultID == "" {
			needNewIDs++
		}
		tasks[i] = ct
	}

	// Step 2: allocate every needed result id in one call.
	if needNewIDs > 0 {
		reply, err := retry.Do(ctx, s.cfg.MaxRetries, s.cfg.RetryBaseDelay, transportWhitelist, true,
			func(ctx context.Context, attempt int) (wire.CreateResultsMetadataReply, error) {
				return s.client.CreateResultsMetadata(ctx, wire.CreateResultsMetadataRequest{
					SessionID: s.cfg.SessionID,
					Count:     needNewIDs,
				})
			})
		if err != nil {
			return nil, graderr.Wrap(graderr.KindSubmissionExhausted, "CreateResultsMetadata", err)
		}
		if len(reply.ResultIDs) != needNewIDs {
			return nil, graderr.New(graderr.KindTransportFatal,
				fmt.Sprintf("CreateResultsMetadata: got %d ids, wanted %d", len(reply.ResultIDs), needNewIDs))
		}
		cursor := 0
		for i := range tasks {
			if tasks[i].input.ResultID != "" {
				tasks[i].outputResultID = tasks[i].input.ResultID
			} else {
				tasks[i].outputResultID = reply.ResultIDs[cursor]
				cursor++
			}
			if tasks[i].sizeClass == api.Large {
				tasks[i].payloadID = reply.ResultIDs[cursor]
				cursor++
			}
		}
	} else {
		for i := range tasks {
			tasks[i].outputResultID = tasks[i].input.ResultID
		}
	}

	// Step 3: upload pass, one upload at a time, each on a pooled channel.
	if err := s.uploadSmall(ctx, tasks, smallPayloads); err != nil {
		return nil, err
	}
	if err := s.uploadLarge(ctx, tasks, largePayloads); err != nil {
		return nil, err
	}

	// Step 4: task creation pass, sub-chunked by 100.
	submitted := make([]api.SubmittedTask, 0, len(tasks))
	for start := 0; start < len(tasks); start += taskSubChunkSize {
		end := start + taskSubChunkSize
		if end > len(tasks) {
			end = len(tasks)
		}
		results, err := s.submitTaskBatch(ctx, tasks[start:end])
		if err != nil {
			return nil, err
		}
		submitted = append(submitted, results...)
	}
	return submitted, nil
}

// submitChunkLegacy handles a session whose engine type advertises the
// streaming-upload fallback (spec.md §4.3): every task in the chunk, small
// or large alike, rides one CreateLargeTaskStream call instead of the
// allocate/upload/create sequence above. The server allocates both the
// task id and its output result id as it consumes the stream.
func (s *Submitter) submitChunkLegacy(ctx context.Context, chunk []api.TaskSubmission) ([]api.SubmittedTask, error) {
	if s.cfg.TaskMap != nil {
		for i := range chunk {
			resolved, err := s.cfg.TaskMap.Resolve(chunk[i].Dependencies)
			if err != nil {
				return nil, err
			}
			chunk[i].Dependencies = resolved
		}
	}

	sessionOpts, err := wire.ToWireOptions(s.cfg.DefaultOptions)
	if err != nil {
		return nil, graderr.Wrap(graderr.KindTransportFatal, "encode session default options", err)
	}

	units := make([]wire.LargeTaskUnit, len(chunk))
	for i, in := range chunk {
		var expected []string
		if in.ResultID != "" {
			expected = []string{in.ResultID}
		}
		if s.cfg.TaskMap != nil && s.cfg.ResultForParent && len(s.cfg.ParentExpected) > 0 {
			expected = s.cfg.ParentExpected
		}
		header := wire.LargeTaskHeader{
			DataDependencies:   in.Dependencies,
			ExpectedOutputKeys: expected,
		}
		if in.Options != nil {
			wireOpts, err := wire.ToWireOptions(*in.Options)
			if err != nil {
				return nil, graderr.Wrap(graderr.KindTransportFatal, "encode per-task options", err)
			}
			header.TaskOptions = &wireOpts
		}
		units[i] = wire.LargeTaskUnit{Header: header, Payload: in.Payload}
	}

	replies, err := retry.Do(ctx, s.cfg.MaxRetries, s.cfg.RetryBaseDelay, transportWhitelist, true,
		func(ctx context.Context, attempt int) ([]wire.CreateLargeTaskReply, error) {
			return channelpool.Do[[]wire.CreateLargeTaskReply](ctx, s.pool, func(c wire.GridClient) ([]wire.CreateLargeTaskReply, error) {
				return c.CreateLargeTaskStream(ctx, s.cfg.SessionID, sessionOpts, units, s.cfg.ChunkMaxSize)
			})
		})
	if err != nil {
		return nil, graderr.Wrap(graderr.KindSubmissionExhausted, "CreateLargeTaskStream", err)
	}
	if len(replies) != len(units) {
		return nil, graderr.New(graderr.KindTransportFatal,
			fmt.Sprintf("CreateLargeTaskStream: got %d replies, wanted %d", len(replies), len(units)))
	}

	out := make([]api.SubmittedTask, len(replies))
	for i, r := range replies {
		out[i] = api.SubmittedTask{TaskID: r.TaskID, ResultID: r.ResultID}
		if s.cfg.TaskMap != nil {
			s.cfg.TaskMap.Put(r.TaskID, r.ResultID)
		}
	}
	return out, nil
}

func (s *Submitter) uploadSmall(ctx context.Context, tasks []classifiedTask, indices []int) error {
	for _, i := range indices {
		i := i
		reply, err := retry.Do(ctx, s.cfg.MaxRetries, s.cfg.RetryBaseDelay, transportWhitelist, true,
			func(ctx context.Context, attempt int) (wire.CreateResultsReply, error) {
				return channelpool.Do[wire.CreateResultsReply](ctx, s.pool, func(c wire.GridClient) (wire.CreateResultsReply, error) {
					return c.CreateResults(ctx, wire.CreateResultsRequest{
						SessionID: s.cfg.SessionID,
						Items:     []wire.CreateResultsItem{{Data: tasks[i].input.Payload}},
					})
				})
			})
		if err != nil {
			// "If CreateResults for a small payload fails definitively,
			// that task is dropped from the chunk" (spec.md §4.3); mark it
			// for exclusion rather than aborting the whole chunk.
			zap.L().Warn("submitter: dropping task after CreateResults exhausted retries",
				zap.Int("chunk_index", i), zap.Error(err))
			tasks[i].payloadID = ""
			continue
		}
		tasks[i].payloadID = reply.ResultIDs[0]
	}
	return nil
}

func (s *Submitter) uploadLarge(ctx context.Context, tasks []classifiedTask, indices []int) error {
	for _, i := range indices {
		i := i
		chunks := wire.SplitChunks(tasks[i].input.Payload, s.cfg.ChunkMaxSize)
		_, err := retry.Do(ctx, s.cfg.MaxRetries, s.cfg.RetryBaseDelay, transportWhitelist, true,
			func(ctx context.Context, attempt int) (struct{}, error) {
				return struct{}{}, channelpool.WithChannel(ctx, s.pool, func(c wire.GridClient) error {
					return c.UploadResultData(ctx, s.cfg.SessionID, tasks[i].payloadID, chunks)
				})
			})
		if err != nil {
			return graderr.Wrap(graderr.KindSubmissionExhausted, "UploadResultData", err)
		}
	}
	return nil
}

func (s *Submitter) submitTaskBatch(ctx context.Context, tasks []classifiedTask) ([]api.SubmittedTask, error) {
	creations := make([]wire.TaskCreation, 0, len(tasks))
	for _, t := range tasks {
		if t.payloadID == "" {
			continue // dropped small-payload failure (spec.md §4.3)
		}
		expected := []string{t.outputResultID}
		if s.cfg.TaskMap != nil && s.cfg.ResultForParent && len(s.cfg.ParentExpected) > 0 {
			expected = s.cfg.ParentExpected
		}
		var perTask *wire.TaskOptionsWire
		if t.input.Options != nil {
			wireOpts, err := wire.ToWireOptions(*t.input.Options)
			if err != nil {
				return nil, graderr.Wrap(graderr.KindTransportFatal, "encode per-task options", err)
			}
			perTask = &wireOpts
		}
		creations = append(creations, wire.TaskCreation{
			PayloadID:          t.payloadID,
			DataDependencies:   t.input.Dependencies,
			ExpectedOutputKeys: expected,
			TaskOptions:        perTask,
		})
	}
	if len(creations) == 0 {
		return nil, nil
	}
	sessionOpts, err := wire.ToWireOptions(s.cfg.DefaultOptions)
	if err != nil {
		return nil, graderr.Wrap(graderr.KindTransportFatal, "encode session default options", err)
	}

	reply, err := retry.Do(ctx, s.cfg.MaxRetries, s.cfg.RetryBaseDelay, transportWhitelist, true,
		func(ctx context.Context, attempt int) (wire.SubmitTasksReply, error) {
			return s.client.SubmitTasks(ctx, wire.SubmitTasksRequest{
				SessionID:   s.cfg.SessionID,
				TaskOptions: sessionOpts,
				Tasks:       creations,
			})
		})
	if err != nil {
		return nil, graderr.Wrap(graderr.KindSubmissionExhausted, "SubmitTasks", err)
	}
	if len(reply.Tasks) != len(creations) {
		return nil, graderr.New(graderr.KindTransportFatal,
			fmt.Sprintf("SubmitTasks: got %d replies, wanted %d", len(reply.Tasks), len(creations)))
	}

	out := make([]api.SubmittedTask, len(reply.Tasks))
	for i, st := range reply.Tasks {
		out[i] = api.SubmittedTask{TaskID: st.TaskID, ResultID: st.ExpectedOutputID}
		if s.cfg.TaskMap != nil {
			s.cfg.TaskMap.Put(st.TaskID, st.ExpectedOutputID)
		}
	}
	return out, nil
}
