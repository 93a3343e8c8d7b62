package middleware

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"hlapi-bus/protocol"
)

// Resetter resynchronizes the link with the remote parser.
type Resetter interface {
	Reset() error
}

// ResyncMiddleware re-issues an exchange that lost its framing: it resets the
// link and tries again, up to maxRetries times with exponential backoff.
// Streamed exchanges are never repeated since their elements may already
// have been delivered.
func ResyncMiddleware(r Resetter, maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ex *Exchange) error {
			err := next(ctx, ex)
			for i := 0; i < maxRetries; i++ {
				if err == nil || ex.Streamed || !errors.Is(err, protocol.ErrUnexpectedEOF) {
					return err
				}
				logger.Info("resync after framing loss",
					zap.Int("attempt", i+1),
					zap.String("type", string(ex.Request.Type)),
					zap.Error(err))
				if rerr := r.Reset(); rerr != nil {
					return errors.Join(err, rerr)
				}
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return ctx.Err()
				}
				err = next(ctx, ex)
			}
			return err
		}
	}
}
