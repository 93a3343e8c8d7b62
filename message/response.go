package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ResponseType is the tag of an inbound envelope.
type ResponseType string

const (
	ResponseList    ResponseType = "list"
	ResponseMethods ResponseType = "methods"
	ResponseError   ResponseType = "error"
	ResponseResult  ResponseType = "result"
)

// Void is the result payload of exchanges that never expect a "result"
// (list and methods). Any data it receives is discarded.
type Void struct{}

func (*Void) UnmarshalJSON([]byte) error { return nil }

// Response is an inbound envelope whose "result" payload decodes into T.
type Response[T any] struct {
	Type    ResponseType
	Devices []DeviceDescriptor // ResponseList
	Methods []MethodDescriptor // ResponseMethods
	Error   *string            // ResponseError, nil when the remote sent no message
	Result  T                  // ResponseResult, zero when data is absent or null
}

// ExpectResult returns the result payload, or false for any other variant.
func (r *Response[T]) ExpectResult() (T, bool) {
	if r.Type != ResponseResult {
		var zero T
		return zero, false
	}
	return r.Result, true
}

// Expect reports an UnexpectedResponseError unless the envelope is of type want.
func (r *Response[T]) Expect(want ResponseType) error {
	if r.Type == want {
		return nil
	}
	e := &UnexpectedResponseError{Want: want, Got: r.Type}
	if r.Error != nil {
		e.Message = *r.Error
	}
	return e
}

// UnmarshalJSON decodes the tag first and then the payload that belongs to it.
func (r *Response[T]) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type ResponseType    `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	r.Type = raw.Type
	switch raw.Type {
	case ResponseList:
		if err := json.Unmarshal(raw.Data, &r.Devices); err != nil {
			return fmt.Errorf("message: list data: %w", err)
		}
		for i := range r.Devices {
			if err := r.Devices[i].Validate(); err != nil {
				return err
			}
		}
	case ResponseMethods:
		if err := json.Unmarshal(raw.Data, &r.Methods); err != nil {
			return fmt.Errorf("message: methods data: %w", err)
		}
	case ResponseError:
		if isAbsent(raw.Data) {
			return nil
		}
		var msg string
		if err := json.Unmarshal(raw.Data, &msg); err != nil {
			return fmt.Errorf("message: error data: %w", err)
		}
		r.Error = &msg
	case ResponseResult:
		if isAbsent(raw.Data) {
			return nil
		}
		if err := json.Unmarshal(raw.Data, &r.Result); err != nil {
			return fmt.Errorf("message: result data: %w", err)
		}
	default:
		return fmt.Errorf("message: unknown response type %q", raw.Type)
	}
	return nil
}

// MarshalJSON writes the wire form. The client never sends responses; this
// is used by the simulated bus and by tests.
func (r Response[T]) MarshalJSON() ([]byte, error) {
	type tagged struct {
		Type ResponseType `json:"type"`
		Data any          `json:"data,omitempty"`
	}
	switch r.Type {
	case ResponseList:
		devices := r.Devices
		if devices == nil {
			devices = []DeviceDescriptor{}
		}
		return json.Marshal(tagged{Type: r.Type, Data: devices})
	case ResponseMethods:
		methods := r.Methods
		if methods == nil {
			methods = []MethodDescriptor{}
		}
		return json.Marshal(tagged{Type: r.Type, Data: methods})
	case ResponseError:
		if r.Error == nil {
			return json.Marshal(tagged{Type: r.Type})
		}
		return json.Marshal(tagged{Type: r.Type, Data: *r.Error})
	case ResponseResult:
		return json.Marshal(tagged{Type: r.Type, Data: r.Result})
	default:
		return nil, fmt.Errorf("message: unknown response type %q", r.Type)
	}
}

func isAbsent(data json.RawMessage) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}
