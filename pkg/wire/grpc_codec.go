package wire

import (
	"google.golang.org/grpc/encoding"

	"gridclient/pkg/wire/codec"
)

// grpcCodec adapts a wire/codec.Codec to grpc's encoding.Codec interface
// so a plain struct, not a compiler-generated protobuf message, can ride
// a *grpc.ClientConn. Registered once in init() under the "cbor" name and
// selected per-call via grpc.CallContentSubtype("cbor") (see dial.go).
type grpcCodec struct {
	inner codec.Codec
}

func (g grpcCodec) Name() string { return "cbor" }

func (g grpcCodec) Marshal(v any) ([]byte, error) { return g.inner.Marshal(v) }

func (g grpcCodec) Unmarshal(data []byte, v any) error { return g.inner.Unmarshal(data, v) }

func init() {
	c, err := codec.CBOR()
	if err != nil {
		panic("wire: CBOR codec construction failed: " + err.Error())
	}
	encoding.RegisterCodec(grpcCodec{inner: c})
}
