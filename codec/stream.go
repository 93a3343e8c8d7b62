package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"hlapi-bus/message"
)

// ElementFunc receives one element of a streamed sequence. Returning an error
// stops the scan; no further elements are decoded.
type ElementFunc func(raw json.RawMessage) error

// ElementError wraps the error an ElementFunc returned for element Index
// (1-based).
type ElementError struct {
	Index int
	Err   error
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("codec: element %d rejected: %v", e.Index, e.Err)
}

func (e *ElementError) Unwrap() error { return e.Err }

func (e *ElementError) Is(target error) bool { return target == message.ErrInvalidData }

// Decoder decodes a single payload read from r. The reader is expected to end
// where the payload ends; the frame layer guarantees that.
type Decoder struct {
	dec   *json.Decoder
	rearm func()
}

// NewDecoder returns a Decoder reading from r. If rearm is not nil it is
// called before every streamed element so the caller can bound the bytes
// consumed per element instead of per payload.
func NewDecoder(r io.Reader, rearm func()) *Decoder {
	return &Decoder{dec: json.NewDecoder(r), rearm: rearm}
}

// Decode decodes the whole payload into v.
func (d *Decoder) Decode(v any) error {
	return d.dec.Decode(v)
}

// Buffered returns the bytes the underlying json.Decoder read ahead but did
// not consume.
func (d *Decoder) Buffered() io.Reader {
	return d.dec.Buffered()
}

// Sequence streams a JSON array, handing each element to fn as soon as it is
// decoded. A JSON null is an empty sequence. It returns the number of
// elements handed to fn, including one that fn rejected.
func (d *Decoder) Sequence(fn ElementFunc) (int, error) {
	tok, err := d.dec.Token()
	if err != nil {
		return 0, err
	}
	switch tok {
	case nil:
		return 0, nil
	case json.Delim('['):
	default:
		return 0, fmt.Errorf("%w: expected a sequence, got %v", message.ErrInvalidData, tok)
	}

	n := 0
	for d.dec.More() {
		if d.rearm != nil {
			d.rearm()
		}
		var raw json.RawMessage
		if err := d.dec.Decode(&raw); err != nil {
			return n, err
		}
		n++
		if err := fn(raw); err != nil {
			return n, &ElementError{Index: n, Err: err}
		}
	}

	if _, err := d.dec.Token(); err != nil {
		return n, err
	}
	return n, nil
}

// Result walks a response envelope and streams the elements of its result
// data through fn. Envelopes of any other variant fail with a
// *message.UnexpectedResponseError. An absent or null result yields zero
// elements.
func (d *Decoder) Result(fn ElementFunc) (int, error) {
	if err := d.expectDelim('{'); err != nil {
		return 0, err
	}

	var (
		typ      message.ResponseType
		early    json.RawMessage // data that arrived before the tag
		streamed bool
		n        int
	)
	for d.dec.More() {
		tok, err := d.dec.Token()
		if err != nil {
			return n, err
		}
		key, _ := tok.(string)

		switch {
		case key == "type":
			if err := d.dec.Decode(&typ); err != nil {
				return n, err
			}
		case key == "data" && typ == message.ResponseResult:
			n, err = d.Sequence(fn)
			if err != nil {
				return n, err
			}
			streamed = true
		case key == "data":
			if err := d.dec.Decode(&early); err != nil {
				return n, err
			}
		default:
			var skip json.RawMessage
			if err := d.dec.Decode(&skip); err != nil {
				return n, err
			}
		}
	}
	if err := d.expectDelim('}'); err != nil {
		return n, err
	}

	switch typ {
	case message.ResponseResult:
	case "":
		return n, fmt.Errorf("%w: envelope has no type", message.ErrInvalidData)
	default:
		mismatch := &message.UnexpectedResponseError{Want: message.ResponseResult, Got: typ}
		if typ == message.ResponseError && !isAbsent(early) {
			if err := json.Unmarshal(early, &mismatch.Message); err != nil {
				return n, fmt.Errorf("%w: error data: %v", message.ErrInvalidData, err)
			}
		}
		return n, mismatch
	}

	if streamed || early == nil {
		return n, nil
	}
	return NewDecoder(bytes.NewReader(early), nil).Sequence(fn)
}

func (d *Decoder) expectDelim(want json.Delim) error {
	tok, err := d.dec.Token()
	if err != nil {
		return err
	}
	if tok != want {
		return fmt.Errorf("%w: expected %v, got %v", message.ErrInvalidData, want, tok)
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
