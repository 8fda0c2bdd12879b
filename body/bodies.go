package body

import (
	"context"
	"io"
)

// DefaultChunkSize is the data frame size ChunkedBody uses when the caller
// does not pick one. 16 KiB keeps frames comfortably under typical socket
// buffer sizes.
const DefaultChunkSize = 16 * 1024

// BytesBody yields an in-memory payload as a single data frame.
// It is rewindable, so calls carrying one are safe to retry.
type BytesBody struct {
	payload []byte
	done    bool
}

// Bytes returns a body that yields p as one data frame, then io.EOF.
func Bytes(p []byte) *BytesBody {
	return &BytesBody{payload: p}
}

func (b *BytesBody) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.done {
		return nil, io.EOF
	}
	b.done = true
	return DataFrame(b.payload), nil
}

func (b *BytesBody) SizeHint() (int64, bool) {
	return int64(len(b.payload)), true
}

func (b *BytesBody) Rewind() error {
	b.done = false
	return nil
}

// ChunkedBody streams an io.Reader as fixed-size data frames.
// The total size is unknown, and a partially read reader cannot rewind.
type ChunkedBody struct {
	r     io.Reader
	chunk int
}

// Chunked returns a body that reads r into data frames of at most chunkSize
// bytes. chunkSize <= 0 selects DefaultChunkSize.
func Chunked(r io.Reader, chunkSize int) *ChunkedBody {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkedBody{r: r, chunk: chunkSize}
}

func (b *ChunkedBody) Next(ctx context.Context) (*Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf := make([]byte, b.chunk)
		n, err := b.r.Read(buf)
		if n > 0 {
			// A read that returns data and io.EOF together still yields the
			// data; the EOF surfaces on the following Next call.
			return DataFrame(buf[:n]), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (b *ChunkedBody) SizeHint() (int64, bool) {
	return 0, false
}

// FramesBody yields a fixed, scripted sequence of frames. Rewindable.
type FramesBody struct {
	frames []*Frame
	next   int
}

// Frames returns a body that yields the given frames in order, then io.EOF.
func Frames(frames ...*Frame) *FramesBody {
	return &FramesBody{frames: frames}
}

func (b *FramesBody) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.next >= len(b.frames) {
		return nil, io.EOF
	}
	f := b.frames[b.next]
	b.next++
	return f, nil
}

func (b *FramesBody) SizeHint() (int64, bool) {
	var n int64
	for _, f := range b.frames {
		if !f.IsData() {
			continue
		}
		n += int64(len(f.Data))
	}
	return n, true
}

func (b *FramesBody) Rewind() error {
	b.next = 0
	return nil
}

// trailersBody appends a trailers frame after the inner body's frames.
type trailersBody struct {
	inner    Body
	trailers map[string]string
	sent     bool
}

// WithTrailers returns a body that yields everything inner yields, then a
// trailers frame carrying md in place of inner's io.EOF.
func WithTrailers(inner Body, md map[string]string) Body {
	return &trailersBody{inner: inner, trailers: md}
}

func (b *trailersBody) Next(ctx context.Context) (*Frame, error) {
	if b.sent {
		return nil, io.EOF
	}
	f, err := b.inner.Next(ctx)
	if err == io.EOF {
		b.sent = true
		return TrailersFrame(b.trailers), nil
	}
	return f, err
}

func (b *trailersBody) SizeHint() (int64, bool) {
	return b.inner.SizeHint()
}
