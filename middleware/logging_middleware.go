package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/s2-streamstore/framerpc/message"
	"github.com/s2-streamstore/framerpc/sideeffect"
)

// Logging logs every call with its duration, outcome, and whether the request
// body produced any data before the call resolved. It monitors its own view
// of the body, so it reports the produce state even when combined with other
// layers.
func Logging(logger *zap.Logger) Middleware {
	return func(next sideeffect.Invoker) sideeffect.Invoker {
		mon := sideeffect.NewMonitor(next)
		return sideeffect.InvokerFunc(func(ctx context.Context, req *message.Request) (*message.Response, error) {
			start := time.Now()
			resp, sig, err := mon.Call(ctx, req)

			fields := []zap.Field{
				zap.String("method", req.ServiceMethod),
				zap.Duration("duration", time.Since(start)),
				zap.Bool("request_produced", sig.Produced()),
			}
			switch {
			case err != nil:
				logger.Warn("call failed", append(fields, zap.Error(err))...)
			case resp.Error != "":
				logger.Warn("call returned error", append(fields, zap.String("remote_error", resp.Error))...)
			default:
				logger.Info("call completed", fields...)
			}
			return resp, err
		})
	}
}
