package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"hlapi-bus/codec"
	"hlapi-bus/message"
)

// readChunk caps how much the payload decoder pulls per read, so that the
// MaxRead budget tracks what the decoder actually needs.
const readChunk = 512

// Reader reads frames from a device through a fixed-size staging buffer.
// Bytes past the end of a frame stay staged for the next one.
type Reader struct {
	br      *bufio.Reader
	maxRead int
}

func NewReader(r io.Reader, limits Limits) *Reader {
	size := limits.ReadBuffer
	if size <= 0 {
		size = ReadBufferSize
	}
	return &Reader{
		br:      bufio.NewReaderSize(r, size),
		maxRead: limits.MaxRead,
	}
}

// Buffered returns the number of staged bytes.
func (r *Reader) Buffered() int {
	return r.br.Buffered()
}

// Discard drops staged bytes without touching the device.
func (r *Reader) Discard() int {
	n, _ := r.br.Discard(r.br.Buffered())
	return n
}

// ReadMessage reads one frame and decodes its payload into v.
func (r *Reader) ReadMessage(v any) error {
	return r.ReadFrame(func(d *codec.Decoder) error {
		return d.Decode(v)
	})
}

// ReadFrame reads one frame: the leading delimiter, a payload consumed by fn,
// and the trailing delimiter. The trailing delimiter is checked only once fn
// has returned, and the payload reader never yields bytes past it.
//
// Device errors are returned unchanged. A missing delimiter, an empty or
// truncated payload, or a device EOF inside the frame yields ErrUnexpectedEOF.
// A complete payload that fails to decode matches ErrInvalidData, and its
// frame is consumed so the next one stays readable.
func (r *Reader) ReadFrame(fn func(d *codec.Decoder) error) error {
	if err := r.readDelimiter(); err != nil {
		return err
	}

	p := &payloadReader{br: r.br, limit: r.maxRead}
	d := codec.NewDecoder(p, p.rearm)
	err := fn(d)
	if p.err != nil {
		return p.err
	}

	var mismatch *message.UnexpectedResponseError
	var rejected *codec.ElementError
	switch {
	case err == nil:
	case errors.As(err, &mismatch):
		// The envelope was complete; keep the framing intact.
		if ferr := r.finish(d, p); ferr != nil {
			return ferr
		}
		return err
	case errors.As(err, &rejected):
		// The rest of the sequence is skipped, not decoded.
		if ferr := r.skip(p); ferr != nil {
			return ferr
		}
		return err
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// A delimiter arrived before the value ended, or straight after the
		// leading one. It may open the next frame, so it is left staged.
		return fmt.Errorf("%w: payload cut short", ErrUnexpectedEOF)
	default:
		// The frame itself is intact; drop the rest of it.
		if ferr := r.skip(p); ferr != nil {
			return ferr
		}
		if errors.Is(err, ErrInvalidData) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	return r.finish(d, p)
}

func (r *Reader) readDelimiter() error {
	c, err := r.br.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ErrUnexpectedEOF
		}
		return err
	}
	if c != Delimiter {
		return fmt.Errorf("%w: got %#02x", ErrUnexpectedEOF, c)
	}
	return nil
}

// finish checks that only whitespace separates the decoded value from the
// trailing delimiter, then consumes the delimiter.
func (r *Reader) finish(d *codec.Decoder, p *payloadReader) error {
	var b [64]byte
	rest := io.MultiReader(d.Buffered(), p)
	for {
		n, err := rest.Read(b[:])
		if len(bytes.TrimLeft(b[:n], " \t\r\n")) > 0 {
			return fmt.Errorf("%w: trailing data after payload", ErrUnexpectedEOF)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	return r.readDelimiter()
}

// skip drops the remaining payload bytes up to and including the trailing
// delimiter.
func (r *Reader) skip(p *payloadReader) error {
	p.limit = 0
	if _, err := io.Copy(io.Discard, p); err != nil {
		return err
	}
	return r.readDelimiter()
}

// payloadReader yields staged bytes up to, not including, the next delimiter
// and then reports io.EOF. Errors are sticky.
type payloadReader struct {
	br    *bufio.Reader
	limit int // 0 = unbounded
	used  int
	done  bool
	err   error
}

func (p *payloadReader) Read(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	if p.done {
		return 0, io.EOF
	}
	if len(b) == 0 {
		return 0, nil
	}

	if p.br.Buffered() == 0 {
		if _, err := p.br.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrUnexpectedEOF
			}
			p.err = err
			return 0, err
		}
	}

	n := min(len(b), p.br.Buffered(), readChunk)
	view, _ := p.br.Peek(n)
	if i := bytes.IndexByte(view, Delimiter); i >= 0 {
		n = i
		p.done = true
	}
	if p.limit > 0 && p.used+n > p.limit {
		p.err = fmt.Errorf("%w: more than %d bytes", ErrMessageTooLarge, p.limit)
		return 0, p.err
	}

	copy(b, view[:n])
	p.br.Discard(n)
	p.used += n
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (p *payloadReader) rearm() {
	p.used = 0
}
