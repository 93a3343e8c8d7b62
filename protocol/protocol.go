// Package protocol implements the frame used on the HLAPI bus.
//
// Frame format (both directions):
//
//	┌────┬───────────────────────────┬────┐
//	│ 00 │ JSON envelope (no NULs)   │ 00 │
//	└────┴───────────────────────────┴────┘
//
// There is no length prefix. The remote side accumulates bytes until it sees
// a delimiter, so an outbound frame is staged in a fixed buffer and written
// whole, or not at all. A lone delimiter makes the remote side discard
// whatever partial message it holds.
package protocol

import (
	"fmt"
	"io"

	"hlapi-bus/codec"
)

const (
	Delimiter byte = 0x00

	MaxWriteSize   = 4096      // hard limit of the remote side, delimiters included
	MaxReadSize    = 64 * 1024 // largest inbound value accepted
	ReadBufferSize = 4096      // inbound staging buffer
)

// Limits constrains frame memory use in both directions.
type Limits struct {
	MaxWrite   int // outbound frame size, delimiters included
	MaxRead    int // inbound aggregate value, or single streamed element; 0 = unbounded
	ReadBuffer int
}

func DefaultLimits() Limits {
	return Limits{
		MaxWrite:   MaxWriteSize,
		MaxRead:    MaxReadSize,
		ReadBuffer: ReadBufferSize,
	}
}

// Flusher is implemented by devices that buffer writes below us.
type Flusher interface {
	Flush() error
}

// frameBuffer is a fixed-capacity write buffer. It never grows; a write that
// does not fit fails with ErrPayloadTooLarge and leaves the content as it was.
type frameBuffer struct {
	b []byte
}

func newFrameBuffer(capacity int) *frameBuffer {
	return &frameBuffer{b: make([]byte, 0, capacity)}
}

func (f *frameBuffer) Write(p []byte) (int, error) {
	if len(f.b)+len(p) > cap(f.b) {
		return 0, ErrPayloadTooLarge
	}
	f.b = append(f.b, p...)
	return len(p), nil
}

func (f *frameBuffer) Reset()        { f.b = f.b[:0] }
func (f *frameBuffer) Bytes() []byte { return f.b }

// stage frames v into buf. On error buf holds no usable frame.
func stage(buf *frameBuffer, c codec.Codec, v any) error {
	buf.Reset()
	payload, err := c.Encode(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if len(payload)+2 > cap(buf.b) {
		return fmt.Errorf("%w: %d bytes framed, limit %d", ErrPayloadTooLarge, len(payload)+2, cap(buf.b))
	}
	buf.Write([]byte{Delimiter})
	buf.Write(payload)
	buf.Write([]byte{Delimiter})
	return nil
}

// Encode returns v as a complete frame, or ErrPayloadTooLarge if the frame
// would exceed maxWrite bytes.
func Encode(v any, maxWrite int) ([]byte, error) {
	buf := newFrameBuffer(maxWrite)
	if err := stage(buf, &codec.JSONCodec{}, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Writer writes frames to a device. The staging buffer is allocated once.
type Writer struct {
	w     io.Writer
	codec codec.Codec
	buf   *frameBuffer
}

func NewWriter(w io.Writer, maxWrite int) *Writer {
	return &Writer{
		w:     w,
		codec: codec.GetCodec(codec.CodecTypeJSON),
		buf:   newFrameBuffer(maxWrite),
	}
}

// WriteMessage frames v and writes it in one call, then flushes. Nothing
// reaches the device if staging fails.
func (w *Writer) WriteMessage(v any) error {
	if err := stage(w.buf, w.codec, v); err != nil {
		return err
	}
	return w.write(w.buf.Bytes())
}

// WriteDelimiter writes a lone delimiter and flushes.
func (w *Writer) WriteDelimiter() error {
	return w.write([]byte{Delimiter})
}

func (w *Writer) write(b []byte) error {
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if f, ok := w.w.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
