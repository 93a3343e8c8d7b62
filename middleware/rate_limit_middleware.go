package middleware

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware paces exchanges with a token bucket. Unlike a server
// limiter it waits for a token instead of rejecting the call.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ex *Exchange) error {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			return next(ctx, ex)
		}
	}
}
