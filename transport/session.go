// Package transport owns the link to the bus: the device handle, the
// readiness primitive and the frame buffers in both directions.
//
// A Session performs strictly alternating exchanges. There are no request
// identifiers on the wire, so the next request may only be sent once the
// previous response, trailing delimiter included, has been consumed:
//
//	Send(req) ──→ encode → stage → write → flush
//	Receive  ←── wait readable → leading 00 → decode payload → trailing 00
//
// A Session is not safe for concurrent use; callers sharing one must
// serialize whole exchanges.
package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"hlapi-bus/codec"
	"hlapi-bus/protocol"
)

// Port is a byte-oriented duplex device handle. If it also implements
// protocol.Flusher, every frame is flushed after it is written.
type Port interface {
	io.Reader
	io.Writer
}

// Poller blocks until the port has bytes to read or ctx is done.
type Poller interface {
	Wait(ctx context.Context) error
}

// deadliner is implemented by ports whose reads can time out, such as
// net.Conn links to a simulated bus.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// NopPoller never blocks; reads on the port block instead.
type NopPoller struct{}

func (NopPoller) Wait(ctx context.Context) error { return ctx.Err() }

// Session sequences exchanges over one port.
type Session struct {
	port   Port
	poller Poller
	w      *protocol.Writer
	r      *protocol.Reader
}

// NewSession wraps an open port. The port must already behave as a raw,
// non-echoing byte pipe.
func NewSession(port Port, poller Poller, limits protocol.Limits) *Session {
	if poller == nil {
		poller = NopPoller{}
	}
	return &Session{
		port:   port,
		poller: poller,
		w:      protocol.NewWriter(port, limits.MaxWrite),
		r:      protocol.NewReader(port, limits),
	}
}

// Send writes one request frame. A request that does not fit the write limit
// fails with protocol.ErrPayloadTooLarge and leaves the device untouched.
func (s *Session) Send(v any) error {
	return s.w.WriteMessage(v)
}

// Receive waits until a response is available and reads one frame, handing
// its payload to fn.
//
// If the port supports read deadlines, the deadline of ctx also bounds the
// reads. A read that times out mid-frame leaves the link out of step; Reset
// before the next exchange.
func (s *Session) Receive(ctx context.Context, fn func(d *codec.Decoder) error) error {
	if d, ok := s.port.(deadliner); ok {
		deadline, _ := ctx.Deadline() // zero clears a previous deadline
		if err := d.SetReadDeadline(deadline); err != nil {
			return err
		}
	}
	if s.r.Buffered() == 0 {
		if err := s.poller.Wait(ctx); err != nil {
			return err
		}
	}
	return s.r.ReadFrame(fn)
}

// ReceiveMessage is Receive decoding the whole payload into v.
func (s *Session) ReceiveMessage(ctx context.Context, v any) error {
	return s.Receive(ctx, func(d *codec.Decoder) error {
		return d.Decode(v)
	})
}

// Reset writes a lone delimiter, which makes the remote side drop its
// partial message, and forgets any inbound bytes staged locally. It never
// reads from the device.
func (s *Session) Reset() error {
	s.r.Discard()
	return s.w.WriteDelimiter()
}

// Close closes the poller and the port if they can be closed.
func (s *Session) Close() error {
	var errs []error
	if c, ok := s.poller.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := s.port.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
