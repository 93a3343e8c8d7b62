package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	"hlapi-bus/message"
)

func TestJSONCodec(t *testing.T) {
	jsonCodec := &JSONCodec{}

	device := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	original, err := message.NewInvoke(device, "print", "<hello & bye>")
	if err != nil {
		t.Fatal(err)
	}

	data, err := jsonCodec.Encode(original)
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}
	if strings.HasSuffix(string(data), "\n") {
		t.Fatalf("encoded payload must not end with a newline: %q", data)
	}

	var decoded message.Request
	if err := jsonCodec.Decode(data, &decoded); err != nil {
		t.Fatalf("JSONCodec Decode failed: %v", err)
	}
	if !reflect.DeepEqual(&decoded, original) {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, *original)
	}
	if GetCodec(CodecTypeJSON).Type() != CodecTypeJSON {
		t.Errorf("GetCodec returned wrong type")
	}
}

func collect(t *testing.T, payload string) ([]int, int, error) {
	t.Helper()
	var got []int
	d := NewDecoder(strings.NewReader(payload), nil)
	n, err := d.Sequence(func(raw json.RawMessage) error {
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		got = append(got, v)
		return nil
	})
	return got, n, err
}

func TestSequenceMatchesAggregateDecode(t *testing.T) {
	for _, size := range []int{0, 1, 1000} {
		values := make([]int, size)
		for i := range values {
			values[i] = i * 7
		}
		payload, err := json.Marshal(values)
		if err != nil {
			t.Fatal(err)
		}

		var aggregate []int
		if err := NewDecoder(strings.NewReader(string(payload)), nil).Decode(&aggregate); err != nil {
			t.Fatal(err)
		}

		streamed, n, err := collect(t, string(payload))
		if err != nil {
			t.Fatalf("size %d: stream failed: %v", size, err)
		}
		if n != size {
			t.Fatalf("size %d: expect count %d, got %d", size, size, n)
		}
		if size == 0 {
			if len(streamed) != 0 || len(aggregate) != 0 {
				t.Fatalf("expect empty results, got %v and %v", streamed, aggregate)
			}
			continue
		}
		if !reflect.DeepEqual(streamed, aggregate) {
			t.Fatalf("size %d: streamed values differ from aggregate decode", size)
		}
	}
}

func TestSequenceNullIsEmpty(t *testing.T) {
	got, n, err := collect(t, "null")
	if err != nil || n != 0 || got != nil {
		t.Fatalf("expect zero elements, got %v %d %v", got, n, err)
	}
}

func TestSequenceRejectsNonSequence(t *testing.T) {
	_, _, err := collect(t, `{"a":1}`)
	if !errors.Is(err, message.ErrInvalidData) {
		t.Fatalf("expect ErrInvalidData, got %v", err)
	}
}

func TestSequenceStopsAtFailingElement(t *testing.T) {
	stop := errors.New("full")
	for _, k := range []int{1, 3, 5} {
		var delivered int
		// The element after k is malformed: it must never be decoded.
		payload := "[" + strings.Repeat("1,", k) + "oops]"
		d := NewDecoder(strings.NewReader(payload), nil)
		n, err := d.Sequence(func(json.RawMessage) error {
			delivered++
			if delivered == k {
				return stop
			}
			return nil
		})
		if delivered != k || n != k {
			t.Fatalf("k=%d: delivered %d, reported %d", k, delivered, n)
		}
		var elemErr *ElementError
		if !errors.As(err, &elemErr) || elemErr.Index != k {
			t.Fatalf("k=%d: expect ElementError at %d, got %v", k, k, err)
		}
		if !errors.Is(err, stop) || !errors.Is(err, message.ErrInvalidData) {
			t.Fatalf("k=%d: error should wrap handler error and match ErrInvalidData: %v", k, err)
		}
	}
}

func TestSequenceRearmsPerElement(t *testing.T) {
	arms := 0
	d := NewDecoder(strings.NewReader(`[1,2,3,4]`), func() { arms++ })
	if _, err := d.Sequence(func(json.RawMessage) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if arms != 4 {
		t.Fatalf("expect 4 rearms, got %d", arms)
	}
}

func streamResult(payload string) ([]string, int, error) {
	var got []string
	d := NewDecoder(strings.NewReader(payload), nil)
	n, err := d.Result(func(raw json.RawMessage) error {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		got = append(got, s)
		return nil
	})
	return got, n, err
}

func TestResultStreaming(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    []string
	}{
		{"tag first", `{"type":"result","data":["a","b","c"]}`, []string{"a", "b", "c"}},
		{"data first", `{"data":["x","y"],"type":"result"}`, []string{"x", "y"}},
		{"null data", `{"type":"result","data":null}`, nil},
		{"absent data", `{"type":"result"}`, nil},
		{"extra keys", `{"type":"result","seq":9,"data":["z"]}`, []string{"z"}},
	}

	for _, tc := range cases {
		got, n, err := streamResult(tc.payload)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if n != len(tc.want) || !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s: got %v (%d), want %v", tc.name, got, n, tc.want)
		}
	}
}

func TestResultRejectsOtherVariants(t *testing.T) {
	cases := []struct {
		payload string
		got     message.ResponseType
		msg     string
	}{
		{`{"type":"error","data":"boom"}`, message.ResponseError, "boom"},
		{`{"data":"late","type":"error"}`, message.ResponseError, "late"},
		{`{"type":"error"}`, message.ResponseError, ""},
		{`{"type":"list","data":[]}`, message.ResponseList, ""},
	}

	for _, tc := range cases {
		_, n, err := streamResult(tc.payload)
		var mismatch *message.UnexpectedResponseError
		if !errors.As(err, &mismatch) {
			t.Fatalf("%s: expect UnexpectedResponseError, got %v", tc.payload, err)
		}
		if mismatch.Got != tc.got || mismatch.Message != tc.msg || n != 0 {
			t.Errorf("%s: got %+v (n=%d)", tc.payload, mismatch, n)
		}
	}
}

func TestResultWithoutType(t *testing.T) {
	_, _, err := streamResult(`{"data":["a"]}`)
	if !errors.Is(err, message.ErrInvalidData) {
		t.Fatalf("expect ErrInvalidData, got %v", err)
	}
}

func TestResultErrorDataNotString(t *testing.T) {
	_, _, err := streamResult(`{"type":"error","data":{"code":3}}`)
	var mismatch *message.UnexpectedResponseError
	if !errors.Is(err, message.ErrInvalidData) || errors.As(err, &mismatch) {
		t.Fatalf("expect ErrInvalidData for a malformed error message, got %v", err)
	}
}

func BenchmarkSequence(b *testing.B) {
	values := make([]string, 1000)
	for i := range values {
		values[i] = fmt.Sprintf("line %d", i)
	}
	payload, _ := json.Marshal(values)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d := NewDecoder(strings.NewReader(string(payload)), nil)
		d.Sequence(func(json.RawMessage) error { return nil })
	}
}
