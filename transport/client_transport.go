// Package transport implements the client-side transport layer with
// multiplexing and heartbeat.
//
// ClientTransport enables multiple concurrent RPC calls over a single TCP
// connection. Each call gets a unique sequence ID; a background goroutine
// (recvLoop) continuously reads RESPONSE frames and routes them to the
// correct caller via pending channels.
//
// Sending is where streaming happens: the send path writes a REQUEST frame,
// then pulls the request body one frame at a time, emitting DATA frames as
// the body yields chunks and a TRAILERS or END frame when it concludes.
// The body is only ever polled here, sequentially, by the sending goroutine.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan ← response → goroutine-2 wakes up
package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/s2-streamstore/framerpc/body"
	"github.com/s2-streamstore/framerpc/codec"
	"github.com/s2-streamstore/framerpc/message"
	"github.com/s2-streamstore/framerpc/protocol"
)

// Result is what a pending call receives: the server's response, or the
// transport error that ended the connection while the call was in flight.
type Result struct {
	Response *message.Response
	Err      error
}

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn        // Underlying TCP connection
	codec   codec.CodecType // Serialization format for envelope frames
	logger  *zap.Logger
	seq     uint32     // Monotonically increasing sequence number (protected by sending mutex)
	pending sync.Map   // map[uint32]chan Result — each call waits on its own channel
	sending sync.Mutex // Write lock — multiple goroutines share one conn, writes must be serialized
	//                    to prevent frame interleaving (call A's header + call B's payload = corruption)
}

// NewClientTransport creates a transport for the given connection and starts
// two background goroutines:
//   - recvLoop: continuously reads responses and dispatches to pending callers
//   - heartbeatLoop: sends periodic heartbeat frames to detect dead connections
func NewClientTransport(conn net.Conn, codecType codec.CodecType, logger *zap.Logger) *ClientTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &ClientTransport{
		conn:   conn,
		codec:  codecType,
		logger: logger,
	}
	go t.recvLoop()
	go t.heartbeatLoop(30 * time.Second)
	return t
}

// Send transmits one request over the connection and returns the sequence
// number and a channel that will receive the response.
//
// The request body is pulled frame by frame while the sending lock is held:
// the lock both keeps this call's frames contiguous on the wire and
// guarantees the body is driven by exactly one goroutine. A body error
// aborts the send and surfaces to the caller unchanged.
func (t *ClientTransport) Send(ctx context.Context, req *message.Request) (uint32, <-chan Result, error) {
	t.sending.Lock()
	defer t.sending.Unlock()

	// Assign a unique sequence number for this call (protected by sending mutex)
	t.seq++
	seq := t.seq

	cdc := codec.GetCodec(t.codec)
	open, err := cdc.Encode(&message.Envelope{
		ServiceMethod: req.ServiceMethod,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return 0, nil, err
	}

	// Register the response channel BEFORE sending (avoid race with recvLoop)
	respChan := make(chan Result, 1) // Buffered to prevent recvLoop from blocking
	t.pending.Store(seq, respChan)

	if err := t.writeFrame(protocol.FrameRequest, seq, open); err != nil {
		t.pending.Delete(seq)
		return 0, nil, err
	}

	if err := t.sendBody(ctx, cdc, seq, req.Body); err != nil {
		t.pending.Delete(seq)
		return 0, nil, err
	}

	return seq, respChan, nil
}

// Invoke sends the request and waits for the response, satisfying the
// sideeffect.Invoker contract.
func (t *ClientTransport) Invoke(ctx context.Context, req *message.Request) (*message.Response, error) {
	_, ch, err := t.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.Response, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sendBody drives the request body to completion: DATA frames for each chunk,
// then TRAILERS (carrying the trailing metadata) or END to close the stream.
// A nil body closes immediately with END.
func (t *ClientTransport) sendBody(ctx context.Context, cdc codec.Codec, seq uint32, b body.Body) error {
	if b == nil {
		return t.writeFrame(protocol.FrameEnd, seq, nil)
	}
	for {
		f, err := b.Next(ctx)
		if err == io.EOF {
			return t.writeFrame(protocol.FrameEnd, seq, nil)
		}
		if err != nil {
			return err
		}
		if f.IsData() {
			if err := t.writeFrame(protocol.FrameData, seq, f.Data); err != nil {
				return err
			}
			continue
		}
		// Trailers conclude the body
		payload, err := cdc.Encode(&message.Envelope{Metadata: f.Trailers})
		if err != nil {
			return err
		}
		return t.writeFrame(protocol.FrameTrailers, seq, payload)
	}
}

func (t *ClientTransport) writeFrame(ft protocol.FrameType, seq uint32, payload []byte) error {
	header := protocol.Header{
		CodecType: byte(t.codec),
		FrameType: ft,
		Seq:       seq,
		Length:    uint32(len(payload)),
	}
	return protocol.Encode(t.conn, &header, payload)
}

// recvLoop runs in a dedicated goroutine, continuously reading responses from
// the connection. Each RESPONSE frame is routed to the caller waiting on its
// sequence number. Responses can arrive in any order; this routing is the
// core of multiplexing.
//
// Why a single goroutine for reading? TCP is a byte stream — reads must be
// sequential to correctly parse frame boundaries.
func (t *ClientTransport) recvLoop() {
	for {
		header, payload, err := protocol.Decode(t.conn)
		if err != nil {
			// Connection broken — fail all pending calls
			t.closeAllPending(err)
			return
		}

		if header.FrameType != protocol.FrameResponse {
			t.logger.Warn("unexpected frame from server",
				zap.Uint8("frame_type", uint8(header.FrameType)),
				zap.Uint32("seq", header.Seq))
			continue
		}

		env := message.Envelope{}
		cdc := codec.GetCodec(codec.CodecType(header.CodecType))
		if err := cdc.Decode(payload, &env); err != nil {
			t.logger.Warn("undecodable response envelope", zap.Uint32("seq", header.Seq), zap.Error(err))
			continue
		}

		if ch, ok := t.pending.LoadAndDelete(header.Seq); ok {
			ch.(chan Result) <- Result{Response: &message.Response{
				ServiceMethod: env.ServiceMethod,
				Error:         env.Error,
				Payload:       env.Payload,
				Trailers:      env.Metadata,
			}}
		}
	}
}

// closeAllPending is called when the connection breaks. Every pending caller
// receives the transport error so it doesn't block forever; the error is
// delivered as-is so callers can reason about what failed.
func (t *ClientTransport) closeAllPending(err error) {
	t.pending.Range(func(key, value any) bool {
		value.(chan Result) <- Result{Err: err}
		return true
	})
	t.pending.Range(func(key, value any) bool {
		t.pending.Delete(key)
		return true
	})
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// Close tears down the connection. recvLoop and heartbeatLoop exit on the
// resulting I/O errors, and pending calls are failed by recvLoop.
func (t *ClientTransport) Close() error {
	return t.conn.Close()
}

// heartbeatLoop sends periodic heartbeat frames to keep the connection alive.
// Heartbeat frames have no payload and share no sequence number with calls.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		// Heartbeat writes also need the sending lock to avoid frame interleaving
		t.sending.Lock()
		err := t.writeFrame(protocol.FrameHeartbeat, 0, nil)
		t.sending.Unlock()
		if err != nil {
			return // Connection broken, exit heartbeat loop
		}
	}
}
