package sideeffect

import (
	"context"
	"sync/atomic"
)

// SignalSlot receives the Signal of the call made with the context it was
// installed into. It exists so a Monitor buried in the middle of a middleware
// chain can still hand the Signal back to the originating caller: install a
// slot, make the call, then read the slot — on success or failure.
type SignalSlot struct {
	sig atomic.Pointer[Signal]
}

// Signal returns the Signal published into the slot, or nil if no monitored
// call has completed yet.
func (s *SignalSlot) Signal() *Signal {
	return s.sig.Load()
}

func (s *SignalSlot) put(sig *Signal) {
	s.sig.Store(sig)
}

type slotKey struct{}

// WithSignalSlot returns a context carrying a fresh SignalSlot, and the slot
// itself. Each call should use its own slot; reusing one across calls leaves
// it holding the most recent call's Signal.
func WithSignalSlot(ctx context.Context) (context.Context, *SignalSlot) {
	slot := &SignalSlot{}
	return context.WithValue(ctx, slotKey{}, slot), slot
}

func slotFrom(ctx context.Context) *SignalSlot {
	slot, _ := ctx.Value(slotKey{}).(*SignalSlot)
	return slot
}
