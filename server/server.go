// Package server implements the RPC server: it reassembles streamed requests,
// dispatches them to registered services, and shuts down gracefully.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames, reassembles bodies per seq)
//	  → on END/TRAILERS: go handleRequest (parallel processing)
//	    → Codec.Decode → Handler chain → businessHandler (reflect.Call) → Codec.Encode → RESPONSE frame
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/s2-streamstore/framerpc/codec"
	"github.com/s2-streamstore/framerpc/message"
	"github.com/s2-streamstore/framerpc/protocol"
	"github.com/s2-streamstore/framerpc/registry"
)

// Incoming is one fully-reassembled request: the open-frame envelope plus the
// concatenated body payload and any trailing metadata the client streamed.
type Incoming struct {
	ServiceMethod string
	Metadata      message.Metadata
	Payload       []byte
	Trailers      message.Metadata
}

// Handler processes one assembled request.
type Handler func(ctx context.Context, req *Incoming) *message.Response

// Middleware wraps a Handler. Applied in registration order, outermost first.
type Middleware func(next Handler) Handler

// Server registers services and handles incoming connections.
type Server struct {
	serviceMap    map[string]*service // Registered services: "Arith" → *service
	listener      net.Listener
	logger        *zap.Logger
	wg            sync.WaitGroup // Tracks in-flight requests for graceful shutdown
	shutdown      atomic.Bool    // Set during shutdown to suppress Accept errors
	middlewares   []Middleware
	handler       Handler           // middleware(middleware(...(businessHandler)))
	registry      registry.Registry // Service registry (etcd), nil if not using discovery
	advertiseAddr string            // Address registered in etcd (e.g., "127.0.0.1:8080")
	// Different from the listen address (":8080") because etcd needs a routable IP
}

// NewServer creates an RPC server with an empty service map.
func NewServer(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		serviceMap: make(map[string]*service),
		logger:     logger,
	}
}

// Register registers a service receiver (e.g., &Arith{}) with the server.
// Exported methods matching the RPC signature become remotely callable.
func (svr *Server) Register(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	svr.serviceMap[svc.name] = svc
	return nil
}

// Use registers a middleware. Middlewares apply in the order they are added.
func (svr *Server) Use(mw Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve starts the server: listens on the given address, optionally registers
// with the registry, and enters the Accept loop.
//
// advertiseAddr is the address registered for discovery; it differs from the
// listen address because ":8080" resolves to "[::]:8080" locally. Pass a nil
// reg to skip service discovery.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	svr.listener = listener

	// Build the handler chain once at startup, not per-request.
	// Chain(A, B, C) over businessHandler executes A.before → B.before →
	// C.before → businessHandler → C.after → B.after → A.after.
	handler := svr.businessHandler
	for i := len(svr.middlewares) - 1; i >= 0; i-- {
		handler = svr.middlewares[i](handler)
	}
	svr.handler = handler

	svr.advertiseAddr = advertiseAddr
	if reg != nil {
		svr.registry = reg
		for serviceName := range svr.serviceMap {
			if err := reg.Register(serviceName, registry.ServiceInstance{
				Addr: advertiseAddr,
			}, 10); err != nil { // TTL = 10 seconds, KeepAlive renews automatically
				svr.logger.Warn("service registration failed",
					zap.String("service", serviceName), zap.Error(err))
			}
		}
	}

	// Accept loop: one goroutine per connection
	for {
		conn, err := listener.Accept()
		if err != nil {
			// During shutdown, listener.Close() makes Accept fail; the
			// shutdown flag distinguishes that from a real error.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// maxInflightPerConn bounds the open assemblies a single connection may hold.
// A client that opens calls and abandons their bodies (REQUEST with no
// END/TRAILERS) would otherwise pin memory until the connection closes.
const maxInflightPerConn = 1024

// assembly collects the frames of one in-flight call on a connection.
type assembly struct {
	env      message.Envelope // From the REQUEST frame
	payload  []byte           // Concatenated DATA frames
	trailers message.Metadata // From the TRAILERS frame, if any
}

// handleConn processes a single TCP connection.
//
// The read loop runs in one goroutine (reads must be sequential to parse
// frame boundaries) and reassembles request bodies per sequence number: a
// REQUEST frame opens an assembly, DATA frames append to it, and TRAILERS or
// END completes it and dispatches the request to its own goroutine.
//
// A per-connection write mutex is shared by all request goroutines so
// response frames never interleave mid-frame.
func (svr *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	writeMu := &sync.Mutex{}
	inflight := make(map[uint32]*assembly) // Only touched by this goroutine

	for {
		header, payload, err := protocol.Decode(conn)
		if err != nil {
			return // Connection closed or protocol error
		}

		switch header.FrameType {
		case protocol.FrameHeartbeat:
			// Keepalive only, nothing to do

		case protocol.FrameRequest:
			if len(inflight) >= maxInflightPerConn {
				svr.logger.Warn("too many open request bodies on one connection, dropping it",
					zap.Int("inflight", len(inflight)))
				return
			}
			asm := &assembly{}
			cdc := codec.GetCodec(codec.CodecType(header.CodecType))
			if err := cdc.Decode(payload, &asm.env); err != nil {
				svr.logger.Warn("undecodable request envelope", zap.Error(err))
				continue
			}
			inflight[header.Seq] = asm

		case protocol.FrameData:
			if asm, ok := inflight[header.Seq]; ok {
				asm.payload = append(asm.payload, payload...)
			}

		case protocol.FrameTrailers:
			asm, ok := inflight[header.Seq]
			if !ok {
				continue
			}
			env := message.Envelope{}
			cdc := codec.GetCodec(codec.CodecType(header.CodecType))
			if err := cdc.Decode(payload, &env); err != nil {
				svr.logger.Warn("undecodable trailers", zap.Uint32("seq", header.Seq), zap.Error(err))
			} else {
				asm.trailers = env.Metadata
			}
			delete(inflight, header.Seq)
			go svr.handleRequest(header, asm, conn, writeMu)

		case protocol.FrameEnd:
			asm, ok := inflight[header.Seq]
			if !ok {
				continue
			}
			delete(inflight, header.Seq)
			// Dispatch on a fresh goroutine: a slow handler must not block
			// the other calls multiplexed on this connection.
			go svr.handleRequest(header, asm, conn, writeMu)

		default:
			svr.logger.Warn("unexpected frame from client",
				zap.Uint8("frame_type", uint8(header.FrameType)))
		}
	}
}

// handleRequest runs one assembled request through the handler chain and
// writes the RESPONSE frame.
func (svr *Server) handleRequest(header *protocol.Header, asm *assembly, conn net.Conn, writeMu *sync.Mutex) {
	// Track for graceful shutdown (wg.Wait drains in-flight requests)
	svr.wg.Add(1)
	defer svr.wg.Done()

	in := &Incoming{
		ServiceMethod: asm.env.ServiceMethod,
		Metadata:      asm.env.Metadata,
		Payload:       asm.payload,
		Trailers:      asm.trailers,
	}

	resp := svr.handler(context.Background(), in)

	cdc := codec.GetCodec(codec.CodecType(header.CodecType))
	result, err := cdc.Encode(&message.Envelope{
		ServiceMethod: resp.ServiceMethod,
		Error:         resp.Error,
		Payload:       resp.Payload,
		Metadata:      resp.Trailers,
	})
	if err != nil {
		svr.logger.Error("failed to encode response", zap.Error(err))
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()

	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		FrameType: protocol.FrameResponse,
		Seq:       header.Seq, // Same seq as the request — this is how multiplexing works
		Length:    uint32(len(result)),
	}
	if err := protocol.Encode(conn, &replyHeader, result); err != nil {
		svr.logger.Error("failed to write response", zap.Error(err))
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister all services (clients stop routing here)
//  2. Set the shutdown flag (so the Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight requests to finish, with a timeout
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.registry != nil {
		for serviceName := range svr.serviceMap {
			if err := svr.registry.Deregister(serviceName, svr.advertiseAddr); err != nil {
				svr.logger.Warn("deregister failed",
					zap.String("service", serviceName), zap.Error(err))
			}
		}
	}

	// Flag BEFORE closing the listener: if we close first, the Accept error
	// fires before the flag is set and Serve returns a real error.
	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

// businessHandler dispatches an assembled request to the registered service
// method via reflection. It sits at the bottom of the handler chain.
func (svr *Server) businessHandler(ctx context.Context, req *Incoming) *message.Response {
	split := strings.Split(req.ServiceMethod, ".")
	if len(split) != 2 {
		return &message.Response{ServiceMethod: req.ServiceMethod, Error: "invalid service method format"}
	}
	serviceName, methodName := split[0], split[1]

	svc, ok := svr.serviceMap[serviceName]
	if !ok {
		return &message.Response{ServiceMethod: req.ServiceMethod, Error: "unknown service: " + serviceName}
	}
	mt, ok := svc.method[methodName]
	if !ok {
		return &message.Response{ServiceMethod: req.ServiceMethod, Error: "unknown method: " + methodName}
	}

	argv := reflect.New(mt.ArgType)
	replyv := reflect.New(mt.ReplyType)

	if err := json.Unmarshal(req.Payload, argv.Interface()); err != nil {
		return &message.Response{ServiceMethod: req.ServiceMethod, Error: err.Error()}
	}

	methodErr := svc.call(mt, argv, replyv)

	payload, err := json.Marshal(replyv.Interface())
	if err != nil {
		svr.logger.Error("failed to marshal method result", zap.Error(err))
		return &message.Response{ServiceMethod: req.ServiceMethod, Error: err.Error()}
	}

	resp := &message.Response{
		ServiceMethod: req.ServiceMethod,
		Payload:       payload,
	}
	if methodErr != nil {
		resp.Error = methodErr.Error()
	}
	return resp
}
