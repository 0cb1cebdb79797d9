package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mini-rpc/message"
)

// LoggingMiddleware logs every dispatched call with its duration; failures are
// logged at warn level with the error code.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.ServiceMethod()),
				zap.Uint64("call_id", req.CallID),
				zap.Duration("duration", time.Since(start)),
			}
			if resp != nil && resp.Error != nil {
				logger.Warn("call failed", append(fields,
					zap.String("code", string(resp.Error.Code)),
					zap.String("error", resp.Error.Error()))...)
				return resp
			}
			logger.Debug("call served", fields...)
			return resp
		}
	}
}
