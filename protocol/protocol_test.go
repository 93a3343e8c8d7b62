package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	"hlapi-bus/codec"
	"hlapi-bus/message"
)

var testDevice = uuid.MustParse("1d5bd8a3-5e4c-4d1e-8bb6-0e6b8a4f2c77")

// recordingWriter counts writes and flushes.
type recordingWriter struct {
	bytes.Buffer
	writes  int
	flushes int
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}

func (w *recordingWriter) Flush() error {
	w.flushes++
	return nil
}

func TestEncodeDecode(t *testing.T) {
	req, err := message.NewInvoke(testDevice, "setLight", true, 3)
	if err != nil {
		t.Fatal(err)
	}

	var dev recordingWriter
	if err := NewWriter(&dev, MaxWriteSize).WriteMessage(req); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if dev.writes != 1 || dev.flushes != 1 {
		t.Fatalf("expect one write and one flush, got %d/%d", dev.writes, dev.flushes)
	}

	frame := dev.Bytes()
	if frame[0] != Delimiter || frame[len(frame)-1] != Delimiter {
		t.Fatalf("frame not delimited: %q", frame)
	}
	if bytes.IndexByte(frame[1:len(frame)-1], Delimiter) >= 0 {
		t.Fatalf("payload contains a delimiter: %q", frame)
	}

	var decoded message.Request
	if err := NewReader(bytes.NewReader(frame), DefaultLimits()).ReadMessage(&decoded); err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if !reflect.DeepEqual(&decoded, req) {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, *req)
	}
}

func TestEncodeMatchesWriter(t *testing.T) {
	frame, err := Encode(message.NewList(), MaxWriteSize)
	if err != nil {
		t.Fatal(err)
	}
	if string(frame) != "\x00{\"type\":\"list\"}\x00" {
		t.Fatalf("unexpected frame %q", frame)
	}
}

func TestPayloadTooLarge(t *testing.T) {
	// {"type":"invoke","data":{...,"parameters":["xxx"]}} sized to land on the limit.
	probe, _ := message.NewInvoke(testDevice, "write", "")
	base, err := Encode(probe, MaxWriteSize)
	if err != nil {
		t.Fatal(err)
	}
	room := MaxWriteSize - len(base)

	fits, _ := message.NewInvoke(testDevice, "write", strings.Repeat("x", room))
	frame, err := Encode(fits, MaxWriteSize)
	if err != nil {
		t.Fatalf("frame of exactly %d bytes should fit: %v", MaxWriteSize, err)
	}
	if len(frame) != MaxWriteSize {
		t.Fatalf("expect %d bytes, got %d", MaxWriteSize, len(frame))
	}

	tooBig, _ := message.NewInvoke(testDevice, "write", strings.Repeat("x", room+1))
	var dev recordingWriter
	err = NewWriter(&dev, MaxWriteSize).WriteMessage(tooBig)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expect ErrPayloadTooLarge, got %v", err)
	}
	if dev.writes != 0 || dev.Len() != 0 || dev.flushes != 0 {
		t.Fatalf("nothing may reach the device, got %d writes, %d bytes", dev.writes, dev.Len())
	}
}

func TestWriteDelimiter(t *testing.T) {
	var dev recordingWriter
	if err := NewWriter(&dev, MaxWriteSize).WriteDelimiter(); err != nil {
		t.Fatal(err)
	}
	if dev.String() != "\x00" || dev.flushes != 1 {
		t.Fatalf("expect a lone flushed delimiter, got %q (%d flushes)", dev.String(), dev.flushes)
	}
}

func TestDecodeMissingDelimiters(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty stream", ""},
		{"no leading delimiter", "{\"type\":\"list\",\"data\":[]}\x00"},
		{"no trailing delimiter", "\x00{\"type\":\"list\",\"data\":[]}"},
		{"trailing garbage", "\x00{\"type\":\"list\",\"data\":[]} x\x00"},
		{"leading only", "\x00"},
		{"empty payload", "\x00\x00"},
		{"blank payload", "\x00 \x00"},
		{"truncated payload", "\x00{\"type\":\x00"},
	}

	for _, tc := range cases {
		var resp message.Response[message.Void]
		err := NewReader(strings.NewReader(tc.input), DefaultLimits()).ReadMessage(&resp)
		if !errors.Is(err, ErrUnexpectedEOF) {
			t.Errorf("%s: expect ErrUnexpectedEOF, got %v", tc.name, err)
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("%s: expect io.ErrUnexpectedEOF in chain, got %v", tc.name, err)
		}
	}
}

func TestDecodeInvalidPayload(t *testing.T) {
	cases := []string{
		"\x00not json\x00",
		"\x00{\"type\":\"list\",\"data\":[{\"deviceId\":\"1d5bd8a3-5e4c-4d1e-8bb6-0e6b8a4f2c77\",\"typeNames\":[]}]}\x00",
	}

	for _, input := range cases {
		var resp message.Response[message.Void]
		err := NewReader(strings.NewReader(input), DefaultLimits()).ReadMessage(&resp)
		if !errors.Is(err, ErrInvalidData) {
			t.Errorf("%q: expect ErrInvalidData, got %v", input, err)
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("%q: payload errors must not look like framing errors: %v", input, err)
		}
	}
}

func TestDecodeKeepsFollowingFrame(t *testing.T) {
	input := "\x00{\"type\":\"result\",\"data\":1}\x00\x00{\"type\":\"result\",\"data\":2}\x00"
	r := NewReader(strings.NewReader(input), DefaultLimits())

	for want := 1; want <= 2; want++ {
		var resp message.Response[int]
		if err := r.ReadMessage(&resp); err != nil {
			t.Fatalf("frame %d: %v", want, err)
		}
		if got, _ := resp.ExpectResult(); got != want {
			t.Fatalf("frame %d: got %d", want, got)
		}
	}
	if r.Buffered() != 0 {
		t.Fatalf("expect nothing staged, got %d bytes", r.Buffered())
	}
}

func TestDecodeFailureKeepsFollowingFrame(t *testing.T) {
	next := "\x00{\"type\":\"result\",\"data\":7}\x00"
	cases := []struct {
		name  string
		frame string
		read  func(r *Reader) error
	}{
		{"wrong result type", "\x00{\"type\":\"result\",\"data\":\"abc\"}\x00", func(r *Reader) error {
			var resp message.Response[int]
			return r.ReadMessage(&resp)
		}},
		{"not json", "\x00not json\x00", func(r *Reader) error {
			var resp message.Response[int]
			return r.ReadMessage(&resp)
		}},
		{"invalid descriptor", "\x00{\"type\":\"list\",\"data\":[{\"deviceId\":\"" + testDevice.String() + "\",\"typeNames\":[]}]}\x00", func(r *Reader) error {
			var resp message.Response[message.Void]
			return r.ReadMessage(&resp)
		}},
		{"scalar sequence", "\x00{\"type\":\"result\",\"data\":5}\x00", func(r *Reader) error {
			return r.ReadFrame(func(d *codec.Decoder) error {
				_, err := d.Result(func(json.RawMessage) error { return nil })
				return err
			})
		}},
		{"variant mismatch", "\x00{\"type\":\"methods\",\"data\":[]}\x00", func(r *Reader) error {
			var resp message.Response[int]
			if err := r.ReadMessage(&resp); err != nil {
				return err
			}
			return resp.Expect(message.ResponseResult)
		}},
	}

	for _, tc := range cases {
		r := NewReader(strings.NewReader(tc.frame+next), DefaultLimits())
		err := tc.read(r)
		if !errors.Is(err, ErrInvalidData) {
			t.Errorf("%s: expect ErrInvalidData, got %v", tc.name, err)
			continue
		}
		if errors.Is(err, ErrUnexpectedEOF) {
			t.Errorf("%s: payload errors must not look like framing errors: %v", tc.name, err)
		}

		var resp message.Response[int]
		if err := r.ReadMessage(&resp); err != nil {
			t.Errorf("%s: following frame unreadable: %v", tc.name, err)
			continue
		}
		if got, _ := resp.ExpectResult(); got != 7 {
			t.Errorf("%s: expect 7, got %d", tc.name, got)
		}
	}
}

func TestDecodeDeviceError(t *testing.T) {
	broken := errors.New("link down")
	src := io.MultiReader(strings.NewReader("\x00{\"type\":"), &failingReader{err: broken})

	var resp message.Response[message.Void]
	err := NewReader(src, DefaultLimits()).ReadMessage(&resp)
	if !errors.Is(err, broken) {
		t.Fatalf("expect device error unchanged, got %v", err)
	}
}

type failingReader struct{ err error }

func (f *failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestDecodeMessageTooLarge(t *testing.T) {
	big := "\x00{\"type\":\"result\",\"data\":\"" + strings.Repeat("y", 2048) + "\"}\x00"
	limits := DefaultLimits()
	limits.MaxRead = 1024

	var resp message.Response[string]
	err := NewReader(strings.NewReader(big), limits).ReadMessage(&resp)
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expect ErrMessageTooLarge, got %v", err)
	}
}

func TestStreamedFrameBoundsPerElement(t *testing.T) {
	// 200 elements of ~100 bytes: far above MaxRead in total, far below per element.
	elems := make([]string, 200)
	for i := range elems {
		elems[i] = strings.Repeat("e", 100)
	}
	data, _ := json.Marshal(elems)
	input := "\x00{\"type\":\"result\",\"data\":" + string(data) + "}\x00"

	limits := DefaultLimits()
	limits.MaxRead = 2048

	count := 0
	err := NewReader(strings.NewReader(input), limits).ReadFrame(func(d *codec.Decoder) error {
		n, err := d.Result(func(json.RawMessage) error { return nil })
		count = n
		return err
	})
	if err != nil {
		t.Fatalf("streamed read failed: %v", err)
	}
	if count != len(elems) {
		t.Fatalf("expect %d elements, got %d", len(elems), count)
	}
}

func TestStreamedRejectionKeepsFraming(t *testing.T) {
	input := "\x00{\"type\":\"result\",\"data\":[1,2,3,4,5]}\x00\x00{\"type\":\"result\",\"data\":9}\x00"
	r := NewReader(strings.NewReader(input), DefaultLimits())

	stop := errors.New("enough")
	delivered := 0
	err := r.ReadFrame(func(d *codec.Decoder) error {
		_, err := d.Result(func(json.RawMessage) error {
			delivered++
			if delivered == 2 {
				return stop
			}
			return nil
		})
		return err
	})
	if !errors.Is(err, stop) || !errors.Is(err, ErrInvalidData) {
		t.Fatalf("expect handler error matching ErrInvalidData, got %v", err)
	}
	if delivered != 2 {
		t.Fatalf("expect 2 deliveries, got %d", delivered)
	}

	var next message.Response[int]
	if err := r.ReadMessage(&next); err != nil {
		t.Fatalf("following frame unreadable: %v", err)
	}
	if got, _ := next.ExpectResult(); got != 9 {
		t.Fatalf("expect 9, got %d", got)
	}
}

func TestStreamedMismatchKeepsFraming(t *testing.T) {
	input := "\x00{\"type\":\"error\",\"data\":\"boom\"}\x00\x00{\"type\":\"result\",\"data\":9}\x00"
	r := NewReader(strings.NewReader(input), DefaultLimits())

	err := r.ReadFrame(func(d *codec.Decoder) error {
		_, err := d.Result(func(json.RawMessage) error { return nil })
		return err
	})
	var mismatch *message.UnexpectedResponseError
	if !errors.As(err, &mismatch) || mismatch.Message != "boom" {
		t.Fatalf("expect mismatch carrying boom, got %v", err)
	}

	var next message.Response[int]
	if err := r.ReadMessage(&next); err != nil {
		t.Fatalf("following frame unreadable: %v", err)
	}
}

func TestDiscardDropsStagedBytes(t *testing.T) {
	r := NewReader(strings.NewReader("\x00{\"type\":\"li"), DefaultLimits())
	var resp message.Response[message.Void]
	_ = r.ReadMessage(&resp)
	r.Discard()
	if r.Buffered() != 0 {
		t.Fatalf("expect empty staging buffer, got %d", r.Buffered())
	}
}

func BenchmarkEncode(b *testing.B) {
	req, _ := message.NewInvoke(testDevice, "setLight", true, 3)
	w := NewWriter(io.Discard, MaxWriteSize)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.WriteMessage(req)
	}
}
