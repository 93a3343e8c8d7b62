// Package middleware wraps bus exchanges with caller-side policies.
//
// Chain(A, B, C)(handler) yields A(B(C(handler))): A sees the exchange first
// and the result last. Nothing here is installed by default; the bare client
// performs exactly one write and one read per call.
package middleware

import (
	"context"

	"hlapi-bus/message"
)

// Exchange is one request/response round trip in flight.
type Exchange struct {
	Request  *message.Request
	Streamed bool // result is delivered element by element

	// Receive reads and decodes the response. The terminal handler calls it
	// after sending Request.
	Receive func(ctx context.Context) error
}

type HandlerFunc func(ctx context.Context, ex *Exchange) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
