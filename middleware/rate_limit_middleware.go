package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"mini-rpc/message"
)

// RateLimitMiddleware admits at most r requests per second across all
// services, with bursts of up to burst. Excess calls get a rate_limited
// failure immediately; they are never queued.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return limitBy(func(*message.Request) *rate.Limiter { return limiter })
}

// ServiceRateLimitMiddleware gives every service its own token bucket, so a
// busy service cannot starve the others.
func ServiceRateLimitMiddleware(r float64, burst int) Middleware {
	var limiters sync.Map // service name -> *rate.Limiter
	return limitBy(func(req *message.Request) *rate.Limiter {
		if l, ok := limiters.Load(req.Service); ok {
			return l.(*rate.Limiter)
		}
		l, _ := limiters.LoadOrStore(req.Service, rate.NewLimiter(rate.Limit(r), burst))
		return l.(*rate.Limiter)
	})
}

func limitBy(pick func(*message.Request) *rate.Limiter) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !pick(req).Allow() {
				return message.NewFailure(req.CallID, message.ErrRateLimited)
			}
			return next(ctx, req)
		}
	}
}
