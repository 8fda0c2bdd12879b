package sideeffect

import (
	"context"

	"github.com/s2-streamstore/framerpc/body"
)

// observedBody decorates a body.Body so that a Signal records the first data
// frame passing through. Everything else is forwarded verbatim: the transport
// sees exactly the frames, errors, and end-of-stream the inner body yields,
// in the same order, with no extra buffering or blocking.
type observedBody struct {
	inner  body.Body
	signal *Signal
}

// ObserveBody wraps inner so that sig records whether it ever yields a data
// frame. Trailers-only frames, io.EOF, and errors leave the signal alone:
// only actual payload delivery counts as "data was produced".
//
// The wrapper preserves the inner body's capability set: wrapping a
// body.Rewinder yields a Rewinder, so retry layers that inspect the body see
// the same capabilities whether or not it is being observed.
func ObserveBody(inner body.Body, sig *Signal) body.Body {
	ob := observedBody{inner: inner, signal: sig}
	if _, ok := inner.(body.Rewinder); ok {
		return &observedRewindableBody{ob}
	}
	return &ob
}

// observedRewindableBody is the variant returned when the inner body can
// rewind. Rewinding does not reset the Signal: production already happened,
// and the record of it is permanent.
type observedRewindableBody struct {
	observedBody
}

func (b *observedRewindableBody) Rewind() error {
	return b.inner.(body.Rewinder).Rewind()
}

func (b *observedBody) Next(ctx context.Context) (*body.Frame, error) {
	f, err := b.inner.Next(ctx)
	if err != nil {
		return f, err
	}
	if f.IsData() {
		b.signal.MarkProduced()
	}
	return f, nil
}

func (b *observedBody) SizeHint() (int64, bool) {
	return b.inner.SizeHint()
}
