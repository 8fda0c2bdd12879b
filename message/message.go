// Package message defines the request/response envelopes exchanged between
// client and server.
//
// A Request carries a streaming body: the transport pulls it frame by frame
// while sending, which is what downstream layers observe. A Response is a
// single unit carrying the reply payload and any trailing metadata.
package message

import "github.com/s2-streamstore/framerpc/body"

// Metadata carries string key-value pairs attached to requests, responses,
// and trailing body frames.
type Metadata map[string]string

// Get returns the value for key, or "" if absent. Safe on a nil map.
func (m Metadata) Get(key string) string {
	return m[key]
}

// Clone returns a copy of the metadata. Cloning nil yields nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Request is one outgoing RPC call.
//
//   - ServiceMethod has the form "ServiceName.MethodName", e.g. "Arith.Add".
//   - Metadata travels in the request-open frame, ahead of the body.
//   - Body is the streamed payload. Nil means an empty body.
type Request struct {
	ServiceMethod string
	Metadata      Metadata
	Body          body.Body
}

// WithBody returns a shallow copy of the request with its body replaced.
// Everything else — method, metadata — is shared with the original, so layers
// that decorate the body leave the rest of the request untouched.
func (r *Request) WithBody(b body.Body) *Request {
	out := *r
	out.Body = b
	return &out
}

// Response is the server's reply to one Request.
type Response struct {
	ServiceMethod string
	Error         string   // Non-empty if the server-side handler failed
	Payload       []byte   // Serialized reply
	Trailers      Metadata // Trailing metadata attached by the server
}

// Envelope is the codec-facing wire form shared by request-open, trailers,
// and response frames. Which fields are meaningful depends on the frame:
//
//   - request-open: ServiceMethod + Metadata
//   - trailers:     Metadata only
//   - response:     ServiceMethod + Error + Payload + Metadata (as trailers)
type Envelope struct {
	ServiceMethod string
	Error         string
	Payload       []byte
	Metadata      Metadata
}
