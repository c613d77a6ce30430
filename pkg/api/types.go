package api

// SessionStatus is the terminal-state machine of a session (spec.md §3).
type SessionStatus int

const (
	SessionUnspecified SessionStatus = iota
	SessionRunning
	SessionCancelled
	SessionPurged
)

func (s SessionStatus) String() string {
	switch s {
	case SessionRunning:
		return "running"
	case SessionCancelled:
		return "cancelled"
	case SessionPurged:
		return "purged"
	default:
		return "unspecified"
	}
}

// SizeClass classifies a Payload against the server-advertised chunk size
// (spec.md §3).
type SizeClass int

const (
	Small SizeClass = iota
	Large
)

// ClassifyPayload returns Small when len(payload) <= chunkMaxSize, else Large.
func ClassifyPayload(payload []byte, chunkMaxSize int) SizeClass {
	if len(payload) <= chunkMaxSize {
		return Small
	}
	return Large
}

// TaskSubmission is one element of the stream the Submitter consumes
// (spec.md §4.3): an optional caller-supplied result id, the payload bytes,
// its dependencies (result ids the task consumes), and optional per-task
// option overrides.
type TaskSubmission struct {
	ResultID     string // empty: the Submitter allocates one
	Payload      []byte
	Dependencies []string // result ids; task ids when the Submitter has a TaskMap to translate them
	Options      *TaskOptions
}

// SubmittedTask is one element of a Submitter reply: the server-assigned
// task id paired with the result id bound to it as the task's expected
// output (spec.md §3's TaskId2OutputId invariant).
type SubmittedTask struct {
	TaskID   string
	ResultID string
}

// ResultStatus classifies a single queried result id (spec.md §3, §4.4).
type ResultStatus int

const (
	StatusUnknown ResultStatus = iota
	StatusReady
	StatusNotReady
	StatusResultError
	StatusError
	StatusMissing
)

// ResultStatusCollection partitions a queried result-id set (spec.md §3).
// Every queried id appears in exactly one partition, in query order
// (invariant 8, spec.md §8).
type ResultStatusCollection struct {
	Ready      []string
	NotReady   []string
	ResultErr  []string
	Error      []string
	Missing    []string
}

// Add appends id to the partition matching status.
func (c *ResultStatusCollection) Add(id string, status ResultStatus) {
	switch status {
	case StatusReady:
		c.Ready = append(c.Ready, id)
	case StatusNotReady:
		c.NotReady = append(c.NotReady, id)
	case StatusResultError:
		c.ResultErr = append(c.ResultErr, id)
	case StatusError:
		c.Error = append(c.Error, id)
	default:
		c.Missing = append(c.Missing, id)
	}
}

// Total returns the number of ids across all partitions, for invariant
// checks (spec.md §8 invariant 8: partitions are disjoint and their union
// is the queried set).
func (c *ResultStatusCollection) Total() int {
	return len(c.Ready) + len(c.NotReady) + len(c.ResultErr) + len(c.Error) + len(c.Missing)
}

// OnResponse is invoked at most once with the downloaded result bytes.
type OnResponse func(payload []byte, taskID string)

// OnError is invoked at most once with a typed error in place of OnResponse.
type OnError func(err error, taskID string)

// InvocationHandler is the caller-supplied response/error callback pair
// registered alongside a fire-and-forget submission (spec.md §3, §4.5).
// Both callbacks must be non-blocking: the DispatcherLoop never awaits them.
type InvocationHandler struct {
	OnResponse OnResponse
	OnError    OnError
}
