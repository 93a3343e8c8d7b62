package middleware

import (
	"context"
	"time"
)

// TimeOutMiddleware bounds the readiness wait of each exchange. When the
// deadline passes the response may still arrive later, so the caller should
// Reset before the next exchange.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ex *Exchange) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, ex)
		}
	}
}
