// Package sideeffect reports whether an RPC attempt ever produced request
// data to the transport.
//
// The distinction it draws is the one retry logic cares about: if a call
// failed before its body produced a single data frame, the server cannot have
// observed the request and the call can be treated as never attempted. If
// even one frame was produced, the server may have seen a partial or full
// request, and resending could apply a side effect twice.
//
// The package takes no action on its own. It wraps a transport (Monitor),
// wraps the request body (ObserveBody), and records one fact per call in a
// Signal; policy belongs to the caller.
package sideeffect

import "sync/atomic"

// Signal records whether the request body of one call ever produced a data
// frame. One Signal is created per call, written by the observing body while
// the transport drives it, and read by the caller after the call resolves,
// including long after the body itself has been consumed and discarded.
//
// The transition is one-way: once produced, a Signal never reads as
// not-produced again. Both operations are lock-free and safe under
// concurrent use; the writer (the transport's send goroutine) and the reader
// (the caller) may run on different goroutines.
type Signal struct {
	produced atomic.Bool
}

// NewSignal returns a fresh Signal in the not-produced state.
// The *Signal pointer is the shared handle: every holder reads and writes
// the same underlying state.
func NewSignal() *Signal {
	return &Signal{}
}

// MarkProduced records that a data frame was handed to the transport.
// Idempotent; concurrent calls are safe and extra calls are no-ops.
func (s *Signal) MarkProduced() {
	s.produced.Store(true)
}

// Produced reports whether any data frame was ever produced.
// It never blocks and is valid on every path, including a body that was
// never polled at all.
func (s *Signal) Produced() bool {
	return s.produced.Load()
}
