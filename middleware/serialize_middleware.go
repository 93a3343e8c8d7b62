package middleware

import (
	"context"
	"sync"
)

// SerializeMiddleware holds a lock across the whole exchange so one client
// can be shared between goroutines.
func SerializeMiddleware() Middleware {
	var mu sync.Mutex
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ex *Exchange) error {
			mu.Lock()
			defer mu.Unlock()
			return next(ctx, ex)
		}
	}
}
