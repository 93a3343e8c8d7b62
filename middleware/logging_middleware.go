package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"hlapi-bus/message"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, ex *Exchange) error {
			start := time.Now()
			err := next(ctx, ex)

			fields := []zap.Field{
				zap.String("type", string(ex.Request.Type)),
				zap.Duration("duration", time.Since(start)),
			}
			if ex.Request.Type != message.RequestList {
				fields = append(fields, zap.Stringer("device", ex.Request.Device))
			}
			if ex.Request.Method != "" {
				fields = append(fields, zap.String("method", ex.Request.Method))
			}
			if ex.Streamed {
				fields = append(fields, zap.Bool("streamed", true))
			}
			if err != nil {
				logger.Warn("bus exchange failed", append(fields, zap.Error(err))...)
				return err
			}
			logger.Debug("bus exchange", fields...)
			return nil
		}
	}
}
