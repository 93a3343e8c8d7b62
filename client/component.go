package client

import (
	"context"

	"hlapi-bus/codec"
	"hlapi-bus/message"
)

// Component is a device bound by the component it was looked up with.
type Component struct {
	c      *Client
	Handle message.DeviceHandle
	Name   string
}

// Attach finds the first device exposing name and binds to it.
func Attach(ctx context.Context, c *Client, name string) (*Component, error) {
	handle, err := c.Find(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Component{c: c, Handle: handle, Name: name}, nil
}

func (d *Component) Methods(ctx context.Context) ([]message.MethodDescriptor, error) {
	return d.c.Methods(ctx, d.Handle)
}

func (d *Component) Call(ctx context.Context, method string, args []any, reply any) error {
	return d.c.Call(ctx, d.Handle, method, args, reply)
}

func (d *Component) CallStreamed(ctx context.Context, method string, args []any, fn codec.ElementFunc) (int, error) {
	return d.c.CallStreamed(ctx, d.Handle, method, args, fn)
}

func (d *Component) String() string {
	return d.Name + "@" + d.Handle.String()
}
