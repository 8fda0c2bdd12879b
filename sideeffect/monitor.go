package sideeffect

import (
	"context"

	"github.com/s2-streamstore/framerpc/message"
)

// Invoker is the transport-side contract the Monitor wraps: send one request,
// return the server's response or the transport's error. The client
// transport, the middleware chain, and the Monitor itself all satisfy it.
type Invoker interface {
	Invoke(ctx context.Context, req *message.Request) (*message.Response, error)
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req *message.Request) (*message.Response, error)

func (f InvokerFunc) Invoke(ctx context.Context, req *message.Request) (*message.Response, error) {
	return f(ctx, req)
}

// Monitor wraps an Invoker so that every call reports, through a per-call
// Signal, whether its request body produced a data frame before the call
// resolved. The inner invoker's outcome is returned untouched; the Signal is
// a side channel, available on the success and failure paths alike.
type Monitor struct {
	inner       Invoker
	noFramesTag string
}

type MonitorOption func(*Monitor)

// WithNoFramesTag makes the Monitor tag failures that happened before any
// request frame was produced: such errors are wrapped in *NoFramesError
// carrying the given key, with the original error reachable through
// errors.Unwrap. Without this option, errors pass through completely
// unchanged.
func WithNoFramesTag(key string) MonitorOption {
	return func(m *Monitor) {
		m.noFramesTag = key
	}
}

// NewMonitor wraps inner. The Monitor adds no failure modes of its own.
func NewMonitor(inner Invoker, opts ...MonitorOption) *Monitor {
	m := &Monitor{inner: inner}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Call invokes the wrapped transport and returns its outcome together with
// the call's Signal. The Signal is valid on every branch: success,
// application error carried in the response, or transport error. By the time
// Call returns, all body polling that will ever happen for this call has
// happened, so the Signal's value is final.
func (m *Monitor) Call(ctx context.Context, req *message.Request) (*message.Response, *Signal, error) {
	sig := NewSignal()

	observed := req
	if req.Body != nil {
		observed = req.WithBody(ObserveBody(req.Body, sig))
	}

	resp, err := m.inner.Invoke(ctx, observed)
	if err != nil && m.noFramesTag != "" && !sig.Produced() {
		err = &NoFramesError{Tag: m.noFramesTag, err: err}
	}
	return resp, sig, err
}

// Invoke satisfies Invoker, letting a Monitor sit inside a middleware chain.
// The Signal is published to the SignalSlot installed in ctx, if any; use
// Call when the Monitor is the outermost layer.
func (m *Monitor) Invoke(ctx context.Context, req *message.Request) (*message.Response, error) {
	resp, sig, err := m.Call(ctx, req)
	if slot := slotFrom(ctx); slot != nil {
		slot.put(sig)
	}
	return resp, err
}

// NoFramesError marks a transport failure that happened before any request
// data frame was produced, meaning the remote side cannot have observed the
// call. Error() returns the original error's text unchanged; the tag is only
// reachable by unwrapping, so error reporting looks exactly as it would
// without the Monitor.
type NoFramesError struct {
	Tag string
	err error
}

func (e *NoFramesError) Error() string {
	return e.err.Error()
}

func (e *NoFramesError) Unwrap() error {
	return e.err
}
