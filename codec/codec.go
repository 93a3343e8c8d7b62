// Package codec turns envelopes into payload bytes and drives decoding of
// inbound payloads, either as one aggregate value or element by element.
package codec

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec for codecType. The bus only speaks JSON, so
// every type resolves to it.
func GetCodec(codecType CodecType) Codec {
	return &JSONCodec{}
}
