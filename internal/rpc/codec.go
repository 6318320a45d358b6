package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is the gRPC content-subtype a client selects (via
// grpc.CallContentSubtype) to exchange plain JSON-encoded request/response
// structs instead of protobuf wire messages — see DESIGN.md for why this
// build has no protoc-generated codec.
const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements google.golang.org/grpc/encoding.Codec over the
// plain Go structs in types.go, standing in for the protoc-gen-go codec
// the teacher's NodeService normally rides on.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}
