package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/s2-streamstore/framerpc/message"
	"github.com/s2-streamstore/framerpc/sideeffect"
)

// ErrRateLimited is returned when a call is rejected by the token bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimit rejects calls beyond r calls/second with bursts of up to burst,
// using a token bucket. Rejected calls never reach the transport, so their
// bodies are never polled.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next sideeffect.Invoker) sideeffect.Invoker {
		return sideeffect.InvokerFunc(func(ctx context.Context, req *message.Request) (*message.Response, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next.Invoke(ctx, req)
		})
	}
}
