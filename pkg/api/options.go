// Package api holds the public data types of the grid client core: task
// options, task/result identifiers, and the status/handler shapes shared by
// the submitter, waiter, and dispatcher packages.
package api

// EngineType selects the wire-protocol and submission-mode variant a
// session uses (spec.md §3, §4.3, §6).
type EngineType int

const (
	EngineUnspecified EngineType = iota
	EngineSymphony
	EngineUnified
	EngineDataSynapse
)

func (e EngineType) String() string {
	switch e {
	case EngineSymphony:
		return "Symphony"
	case EngineUnified:
		return "Unified"
	case EngineDataSynapse:
		return "DataSynapse"
	default:
		return "Unspecified"
	}
}

// UsesLegacyStreamingUpload reports whether this engine type selects the
// bidirectional CreateLargeTasks streaming submission mode instead of the
// CreateResults[Metadata]+UploadResultData+SubmitTasks path (spec.md §4.3).
func (e EngineType) UsesLegacyStreamingUpload() bool {
	return e == EngineDataSynapse
}

// TaskOptions is a configuration record carried on session creation and
// optionally overridden per submission (spec.md §3). Zero value is valid;
// Clone is used everywhere TaskOptions crosses an API boundary so later
// caller-side mutation cannot leak into state already captured by the
// client (spec.md §3: "Cloned on assignment so mutations do not leak").
type TaskOptions struct {
	MaxDuration int64 // seconds
	MaxRetries  int   // task-level, honored by server
	Priority    int
	EngineType  EngineType

	ApplicationName      string
	ApplicationVersion    string
	ApplicationNamespace  string
	ApplicationService    string
	PartitionID           string

	// ApplicationMeta is free-form structured metadata. It only round-trips
	// through a protobuf structpb.Struct on the wire when EngineType is
	// EngineUnified (SPEC_FULL.md DOMAIN STACK); other engines carry it as
	// plain CBOR-encoded map data.
	ApplicationMeta map[string]any
}

// Clone returns a deep-enough copy: the metadata map is copied so the
// caller's map can be mutated afterwards without affecting the clone.
func (o TaskOptions) Clone() TaskOptions {
	if o.ApplicationMeta == nil {
		return o
	}
	cp := o
	cp.ApplicationMeta = make(map[string]any, len(o.ApplicationMeta))
	for k, v := range o.ApplicationMeta {
		cp.ApplicationMeta[k] = v
	}
	return cp
}

// DefaultPartitions derives the session's default partition list from a
// TaskOptions value (spec.md §4.6): [partition-id] if set, else [].
func (o TaskOptions) DefaultPartitions() []string {
	if o.PartitionID == "" {
		return nil
	}
	return []string{o.PartitionID}
}
