package middleware

import (
	"context"
	"time"

	"github.com/s2-streamstore/framerpc/message"
	"github.com/s2-streamstore/framerpc/sideeffect"
)

// Timeout bounds each call with a context deadline. The transport honors the
// context both while polling the body and while waiting for the response, so
// an expired deadline surfaces as context.DeadlineExceeded from the invoke.
func Timeout(d time.Duration) Middleware {
	return func(next sideeffect.Invoker) sideeffect.Invoker {
		return sideeffect.InvokerFunc(func(ctx context.Context, req *message.Request) (*message.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Invoke(ctx, req)
		})
	}
}
