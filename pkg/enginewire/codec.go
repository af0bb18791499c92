package enginewire

import "fmt"

// wireMessage is implemented by every message in this package.
type wireMessage interface {
	marshal() ([]byte, error)
	unmarshal([]byte) error
}

var (
	_ wireMessage = (*ProcessRequest)(nil)
	_ wireMessage = (*ProcessResponse)(nil)
)

// Codec is a gRPC codec for the hand-marshaled messages above. The wire
// format is standard protobuf, so Name reports "proto" and any protobuf
// peer interoperates. Pass with grpc.ForceCodec on each call.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("enginewire codec: unsupported message type %T", v)
	}
	return m.marshal()
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("enginewire codec: unsupported message type %T", v)
	}
	return m.unmarshal(data)
}

// Name implements encoding.Codec.
func (Codec) Name() string { return "proto" }
