// Package client exposes the HLAPI bus operations on top of a transport
// session.
//
// Each call is one synchronous exchange:
//
//	build request → middleware chain → Send (encode, write, flush)
//	             → Receive (wait readable, decode, check variant)
//
// No call retries, pipelines or locks on its own. Policies such as timeouts,
// pacing, serialization or resync after framing loss are opt-in middlewares
// installed with Use.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"hlapi-bus/codec"
	"hlapi-bus/message"
	"hlapi-bus/middleware"
	"hlapi-bus/transport"
)

// ErrNotFound is returned by Find when no device exposes the component.
var ErrNotFound = errors.New("client: device not found")

type Client struct {
	t           *transport.Session
	middlewares []middleware.Middleware // applied in order
	handler     middleware.HandlerFunc  // middleware(middleware(...(exchange)))
}

func NewClient(t *transport.Session) *Client {
	c := &Client{t: t}
	c.handler = c.exchange
	return c
}

// Use installs a middleware around every later exchange.
func (c *Client) Use(mw middleware.Middleware) {
	c.middlewares = append(c.middlewares, mw)
	c.handler = middleware.Chain(c.middlewares...)(c.exchange)
}

// exchange is the terminal handler: one write, then one read.
func (c *Client) exchange(ctx context.Context, ex *middleware.Exchange) error {
	if err := c.t.Send(ex.Request); err != nil {
		return err
	}
	return ex.Receive(ctx)
}

func (c *Client) do(ctx context.Context, req *message.Request, streamed bool, recv func(ctx context.Context) error) error {
	return c.handler(ctx, &middleware.Exchange{
		Request:  req,
		Streamed: streamed,
		Receive:  recv,
	})
}

// receive runs one aggregate exchange and accepts only the want variant.
func receive[T any](ctx context.Context, c *Client, req *message.Request, want message.ResponseType) (*message.Response[T], error) {
	var resp message.Response[T]
	err := c.do(ctx, req, false, func(ctx context.Context) error {
		resp = message.Response[T]{}
		if err := c.t.ReceiveMessage(ctx, &resp); err != nil {
			return err
		}
		return resp.Expect(want)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// List enumerates the devices on the bus, in the order the bus reports them.
func (c *Client) List(ctx context.Context) ([]message.DeviceDescriptor, error) {
	resp, err := receive[message.Void](ctx, c, message.NewList(), message.ResponseList)
	if err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// Methods describes the methods of one device.
func (c *Client) Methods(ctx context.Context, device message.DeviceHandle) ([]message.MethodDescriptor, error) {
	resp, err := receive[message.Void](ctx, c, message.NewMethods(device), message.ResponseMethods)
	if err != nil {
		return nil, err
	}
	return resp.Methods, nil
}

// Find returns the first listed device exposing the named component.
func (c *Client) Find(ctx context.Context, component string) (message.DeviceHandle, error) {
	devices, err := c.List(ctx)
	if err != nil {
		return message.DeviceHandle{}, err
	}
	for i := range devices {
		if devices[i].Has(component) {
			return devices[i].DeviceID, nil
		}
	}
	return message.DeviceHandle{}, fmt.Errorf("%w: no component %q", ErrNotFound, component)
}

// Call invokes a method and decodes its result into reply, which may be nil
// to discard it. An absent or null result leaves reply untouched.
func (c *Client) Call(ctx context.Context, device message.DeviceHandle, method string, args []any, reply any) error {
	req, err := message.NewInvoke(device, method, args...)
	if err != nil {
		return err
	}
	resp, err := receive[json.RawMessage](ctx, c, req, message.ResponseResult)
	if err != nil {
		return err
	}
	if reply == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, reply); err != nil {
		return fmt.Errorf("%w: %s result: %v", message.ErrInvalidData, method, err)
	}
	return nil
}

// CallStreamed invokes a method whose result is a sequence and hands each
// element to fn as it is decoded. It returns the number of elements handed to
// fn; on failure that count includes the element fn rejected, if any. An
// absent or null result is an empty sequence.
func (c *Client) CallStreamed(ctx context.Context, device message.DeviceHandle, method string, args []any, fn codec.ElementFunc) (int, error) {
	req, err := message.NewInvoke(device, method, args...)
	if err != nil {
		return 0, err
	}
	var n int
	err = c.do(ctx, req, true, func(ctx context.Context) error {
		return c.t.Receive(ctx, func(d *codec.Decoder) error {
			var err error
			n, err = d.Result(fn)
			return err
		})
	})
	return n, err
}

// Reset makes the remote side drop any partial message and forgets inbound
// bytes staged locally. It never reads from the device. Use it after
// protocol.ErrUnexpectedEOF before issuing the next call.
func (c *Client) Reset() error {
	return c.t.Reset()
}

func (c *Client) Close() error {
	return c.t.Close()
}

// Invoke calls a method and decodes its result as T.
func Invoke[T any](ctx context.Context, c *Client, device message.DeviceHandle, method string, args ...any) (T, error) {
	var zero T
	req, err := message.NewInvoke(device, method, args...)
	if err != nil {
		return zero, err
	}
	resp, err := receive[T](ctx, c, req, message.ResponseResult)
	if err != nil {
		return zero, err
	}
	return resp.Result, nil
}

// Stream calls a method and hands each result element, decoded as T, to fn.
// An element that does not decode as T stops the stream like a rejection.
func Stream[T any](ctx context.Context, c *Client, device message.DeviceHandle, method string, args []any, fn func(T) error) (int, error) {
	return c.CallStreamed(ctx, device, method, args, func(raw json.RawMessage) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		return fn(v)
	})
}
