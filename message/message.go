// Package message defines the envelopes exchanged with the HLAPI bus.
//
// Every exchange is one Request written by the client and one Response read
// back. Both are tagged JSON objects on the wire:
//
//	{"type":"invoke","data":{"deviceId":"...","name":"getEnergy","parameters":[]}}
//	{"type":"result","data":42}
//
// The frame layer wraps each envelope in a single NUL byte on both sides.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// DeviceHandle names one virtual device on the bus. It is assigned by the
// remote side and travels as a hyphenated UUID string.
type DeviceHandle = uuid.UUID

// ParseDeviceHandle parses the textual form of a DeviceHandle.
func ParseDeviceHandle(s string) (DeviceHandle, error) {
	return uuid.Parse(s)
}

// RequestType is the tag of an outbound envelope.
type RequestType string

const (
	RequestList    RequestType = "list"
	RequestMethods RequestType = "methods"
	RequestInvoke  RequestType = "invoke"
)

// Request is an outbound envelope. Only the fields of the active variant are
// meaningful:
//
//   - RequestList:    no payload
//   - RequestMethods: Device
//   - RequestInvoke:  Device, Method, Parameters
type Request struct {
	Type       RequestType
	Device     DeviceHandle
	Method     string            // sent as "name"
	Parameters []json.RawMessage // positional, matches the method's declared order
}

// NewList builds a "list" request.
func NewList() *Request {
	return &Request{Type: RequestList}
}

// NewMethods builds a "methods" request for one device.
func NewMethods(device DeviceHandle) *Request {
	return &Request{Type: RequestMethods, Device: device}
}

// NewInvoke builds an "invoke" request. Each argument is marshaled up front so
// that an unencodable argument fails before anything reaches the device.
func NewInvoke(device DeviceHandle, method string, args ...any) (*Request, error) {
	params := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("message: encode parameter %d of %s: %w", i, method, err)
		}
		params = append(params, raw)
	}
	return &Request{
		Type:       RequestInvoke,
		Device:     device,
		Method:     method,
		Parameters: params,
	}, nil
}

type invokeData struct {
	DeviceID   DeviceHandle      `json:"deviceId"`
	Name       string            `json:"name"`
	Parameters []json.RawMessage `json:"parameters"`
}

type taggedRequest struct {
	Type RequestType `json:"type"`
	Data any         `json:"data,omitempty"`
}

// MarshalJSON writes the adjacently tagged wire form.
func (r Request) MarshalJSON() ([]byte, error) {
	switch r.Type {
	case RequestList:
		return json.Marshal(taggedRequest{Type: r.Type})
	case RequestMethods:
		return json.Marshal(taggedRequest{Type: r.Type, Data: r.Device})
	case RequestInvoke:
		params := r.Parameters
		if params == nil {
			params = []json.RawMessage{}
		}
		return json.Marshal(taggedRequest{Type: r.Type, Data: invokeData{
			DeviceID:   r.Device,
			Name:       r.Method,
			Parameters: params,
		}})
	default:
		return nil, fmt.Errorf("message: unknown request type %q", r.Type)
	}
}

// UnmarshalJSON reads the wire form. It is used by the remote side of the bus
// (see package server) and by tests.
func (r *Request) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type RequestType     `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*r = Request{Type: raw.Type}
	switch raw.Type {
	case RequestList:
		return nil
	case RequestMethods:
		if err := json.Unmarshal(raw.Data, &r.Device); err != nil {
			return fmt.Errorf("message: methods data: %w", err)
		}
		return nil
	case RequestInvoke:
		var data invokeData
		if err := json.Unmarshal(raw.Data, &data); err != nil {
			return fmt.Errorf("message: invoke data: %w", err)
		}
		r.Device = data.DeviceID
		r.Method = data.Name
		r.Parameters = data.Parameters
		if r.Parameters == nil {
			r.Parameters = []json.RawMessage{}
		}
		return nil
	default:
		return fmt.Errorf("message: unknown request type %q", raw.Type)
	}
}
