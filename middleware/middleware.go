// Package middleware provides client-side middleware that wraps the
// sideeffect.Invoker chain: logging, timeouts, rate limiting, and
// produce-aware retry.
package middleware

import "github.com/s2-streamstore/framerpc/sideeffect"

// Middleware wraps an Invoker with extra behavior.
type Middleware func(next sideeffect.Invoker) sideeffect.Invoker

// Chain combines multiple middlewares into one. The first middleware is
// outermost:
//
//	Chain(A, B, C)(invoker) → A(B(C(invoker)))
func Chain(middlewares ...Middleware) Middleware {
	return func(next sideeffect.Invoker) sideeffect.Invoker {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
