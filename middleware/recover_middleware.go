package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mini-rpc/message"
)

// RecoverMiddleware turns a panic in any later handler into an internal
// failure so one bad call cannot take the connection down.
func RecoverMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("recovered panic",
						zap.String("method", req.ServiceMethod()),
						zap.Uint64("call_id", req.CallID),
						zap.Any("panic", r))
					resp = message.NewFailure(req.CallID, message.NewError(message.CodeInternal, fmt.Sprintf("panic: %v", r)))
				}
			}()
			return next(ctx, req)
		}
	}
}
