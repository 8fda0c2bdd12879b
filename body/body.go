// Package body defines the streaming request body abstraction.
//
// A request body is not a byte slice but a sequence of frames that the
// transport pulls one at a time while sending. A frame carries either a chunk
// of payload data or the trailing metadata that concludes the stream. This
// pull model is what makes production observable: whoever wraps a Body can
// see exactly when the transport first obtained request data.
package body

import "context"

// Frame is one unit of a streaming body: a payload chunk or the trailing
// metadata. Use the DataFrame / TrailersFrame constructors; IsData reports
// which kind a frame is.
type Frame struct {
	// Data is the payload chunk of a data frame. May be empty.
	Data []byte

	// Trailers is the trailing metadata of a trailers frame.
	// Nil for data frames — this is the discriminant.
	Trailers map[string]string
}

// DataFrame builds a frame carrying a payload chunk.
func DataFrame(p []byte) *Frame {
	return &Frame{Data: p}
}

// TrailersFrame builds a frame carrying trailing metadata.
// A trailers frame always ends the body; nothing may follow it.
func TrailersFrame(md map[string]string) *Frame {
	if md == nil {
		md = map[string]string{}
	}
	return &Frame{Trailers: md}
}

// IsData reports whether f carries payload data (as opposed to trailers).
func (f *Frame) IsData() bool {
	return f.Trailers == nil
}

// Body is the streaming-body capability set. The transport is the single
// driver of a body: it calls Next sequentially until io.EOF or an error, and
// no one else polls the body once it has been handed to a request.
type Body interface {
	// Next returns the next frame of the stream. It returns io.EOF once the
	// body is exhausted, and ctx.Err() if ctx is done before a frame is
	// available. After a trailers frame or any error, Next must not be
	// called again.
	Next(ctx context.Context) (*Frame, error)

	// SizeHint reports the total number of payload bytes the body will
	// yield, when known up front. ok is false if the size is unknown.
	SizeHint() (n int64, ok bool)
}

// Rewinder is implemented by bodies that can be replayed from the start.
// Retry policies refuse to resend a body that cannot rewind, since a
// partially consumed body would otherwise be resent truncated.
type Rewinder interface {
	Rewind() error
}
