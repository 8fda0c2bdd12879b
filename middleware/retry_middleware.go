package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/s2-streamstore/framerpc/body"
	"github.com/s2-streamstore/framerpc/message"
	"github.com/s2-streamstore/framerpc/sideeffect"
)

// Retry resends failed calls with exponential backoff, but only when that is
// provably safe: an attempt is retried only if its Signal reports that no
// request frame was ever produced. Once even one frame reached the transport,
// the server may have observed the call, and resending could apply a side
// effect twice — those failures are returned as-is.
//
// The body must also be rewindable (body.Rewinder); a body that cannot be
// replayed from the start is never resent.
func Retry(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	return func(next sideeffect.Invoker) sideeffect.Invoker {
		mon := sideeffect.NewMonitor(next)
		return sideeffect.InvokerFunc(func(ctx context.Context, req *message.Request) (*message.Response, error) {
			resp, sig, err := mon.Call(ctx, req)
			for attempt := 1; attempt <= maxRetries; attempt++ {
				if err == nil {
					return resp, nil
				}
				if sig.Produced() {
					// Data left the client; not safe to retry.
					return resp, err
				}
				if req.Body != nil {
					rw, ok := req.Body.(body.Rewinder)
					if !ok {
						return resp, err
					}
					if rerr := rw.Rewind(); rerr != nil {
						return resp, err
					}
				}

				logger.Warn("retrying call",
					zap.String("method", req.ServiceMethod),
					zap.Int("attempt", attempt),
					zap.Error(err))

				// Exponential backoff: baseDelay, 2x, 4x, ...
				select {
				case <-time.After(baseDelay * time.Duration(1<<(attempt-1))):
				case <-ctx.Done():
					return resp, err
				}

				resp, sig, err = mon.Call(ctx, req)
			}
			return resp, err
		})
	}
}
