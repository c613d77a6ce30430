// Package codec provides the content-type-negotiated marshaler used to
// put GridClient messages on the wire. Adapted directly from the
// teacher's protocol/codec package: same Codec interface and Registry
// shape, with the protobuf implementation dropped (no compiler-generated
// message types are available to this build — see DESIGN.md) and CBOR
// promoted to the registry default.
package codec

// Codec marshals and unmarshals typed messages for one content type.
// Implementations must be deterministic: two calls with an equal v must
// produce byte-identical output, since CreateResults/UploadResultData
// payloads are hashed by some servers for dedup.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content-type strings to codecs.
type Registry struct {
	byType map[string]Codec
}

// NewRegistry builds a registry preloaded with JSON and CBOR. CBOR
// construction only fails if the underlying library rejects its own
// canonical-mode options, which does not happen with the zero-value
// options used here; NewRegistry panics in that case rather than
// threading an error through every call site that just wants a codec.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	c, err := CBOR()
	if err != nil {
		panic("codec: default CBOR mode construction failed: " + err.Error())
	}
	r.Register(c)
	return r
}

// Register adds or replaces a codec under its ContentType.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns the codec for contentType, or nil if none is registered.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }

// DefaultContentType is what Dial uses unless overridden.
const DefaultContentType = "application/cbor"
