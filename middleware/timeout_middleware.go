package middleware

import (
	"context"
	"time"

	"mini-rpc/message"
)

// TimeOutMiddleware bounds how long a handler may run. Past the deadline the
// caller gets a timeout failure right away; the handler keeps running with a
// cancelled context and whatever it returns later is dropped.
//
// A non-positive timeout disables the middleware.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			// Buffered so the handler goroutine can exit after we stop listening.
			result := make(chan *message.Response, 1)
			go func() { result <- next(ctx, req) }()

			select {
			case resp := <-result:
				return resp
			case <-ctx.Done():
				return message.NewFailure(req.CallID,
					message.NewError(message.CodeTimeout, req.ServiceMethod()+" exceeded "+timeout.String()))
			}
		}
	}
}
