package wire

// Chunking policy for large payloads (spec.md §4.3, §4.4): UploadResultData
// and TryGetResultStream move bytes in bounded pieces rather than one
// unbounded message, so a single huge payload never forces an entire
// message through the gRPC codec (and the peer's memory) at once.
//
// Adapted from the teacher's frame-fragmentation pair (originally
// protocol/envelope.go's Envelope.Fragments/Reassemble, which split a
// Header+Payload frame for transport over a raw byte stream). Over a real
// gRPC connection the transport already frames each message, so the
// 64-byte binary Header that carried FragIndex/FragTotal/magic bytes has
// no job left to do here — see DESIGN.md for that deletion's rationale.
// What survives is the splitting/reassembly shape itself, retargeted at
// UploadResultDataChunk and ResultStreamMessage.

// SplitChunks divides payload into chunks of at most chunkSize bytes, each
// flagged Complete on the last one. A zero-length payload yields a single
// empty, complete chunk (an empty result is still a result).
func SplitChunks(payload []byte, chunkSize int) []UploadResultDataChunk {
	if chunkSize <= 0 {
		chunkSize = len(payload)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}
	if len(payload) == 0 {
		return []UploadResultDataChunk{{Data: nil, Complete: true}}
	}
	total := (len(payload) + chunkSize - 1) / chunkSize
	out := make([]UploadResultDataChunk, 0, total)
	for start := 0; start < len(payload); start += chunkSize {
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, UploadResultDataChunk{
			Data:     append([]byte(nil), payload[start:end]...),
			Complete: end == len(payload),
		})
	}
	return out
}

// Reassembler accumulates ResultStreamMessage data frames in arrival order
// and reports whether the stream's terminal DataComplete chunk has been
// seen (spec.md §4.4: "a stream that ends without a dataComplete chunk is
// ResultIncomplete, not a short result").
type Reassembler struct {
	buf      []byte
	complete bool
}

// Append folds one data chunk into the reassembly buffer. complete
// replaces, not ORs with, the prior flag: a chunk arriving after a
// complete chunk resets completion back to false (spec.md §4.4: "a data
// chunk received after dataComplete resets the flag to false" — the
// stream is corrupt, and the final Complete() check below is what turns
// that into ResultIncomplete).
func (r *Reassembler) Append(chunk []byte, complete bool) {
	r.buf = append(r.buf, chunk...)
	r.complete = complete
}

// Complete reports whether a terminal chunk has been observed.
func (r *Reassembler) Complete() bool { return r.complete }

// Bytes returns the accumulated payload. Only meaningful once Complete
// reports true; the caller is responsible for that check (see
// pkg/waiter, which turns an incomplete reassembly into
// graderr.ErrResultIncomplete).
func (r *Reassembler) Bytes() []byte { return r.buf }
