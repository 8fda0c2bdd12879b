// Package transport also provides TransportPool, the per-address set of
// multiplexed transports the client draws from.
//
// Unlike a borrow/return pool, transports are shared: every caller may use
// any of them concurrently (multiplexing handles the interleaving), so the
// pool only needs to spread callers across connections round-robin.
package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/s2-streamstore/framerpc/codec"
)

// TransportPool maintains the multiplexed transports for one remote address.
type TransportPool struct {
	addr      string
	size      int
	codecType codec.CodecType
	logger    *zap.Logger

	mu         sync.Mutex
	transports []*ClientTransport // Nil until the first Get warms the pool
	next       atomic.Uint64      // Round-robin cursor
}

// NewTransportPool creates a pool of size transports to addr. Connections
// are dialed lazily on the first Get.
func NewTransportPool(addr string, size int, codecType codec.CodecType, logger *zap.Logger) *TransportPool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransportPool{
		addr:      addr,
		size:      size,
		codecType: codecType,
		logger:    logger,
	}
}

// Get returns one of the pool's transports, dialing the whole pool first if
// it hasn't been warmed yet. The returned transport is shared; callers never
// return it.
func (p *TransportPool) Get(ctx context.Context) (*ClientTransport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.transports == nil {
		if err := p.warm(ctx); err != nil {
			return nil, err
		}
	}

	idx := p.next.Add(1) % uint64(len(p.transports))
	return p.transports[idx], nil
}

// warm dials all connections concurrently. All-or-nothing: if any dial
// fails, the ones that succeeded are closed and the error is returned.
// Caller holds p.mu.
func (p *TransportPool) warm(ctx context.Context) error {
	conns := make([]*ClientTransport, p.size)
	g, ctx := errgroup.WithContext(ctx)
	for i := range conns {
		i := i
		g.Go(func() error {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", p.addr)
			if err != nil {
				return err
			}
			conns[i] = NewClientTransport(conn, p.codecType, p.logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, t := range conns {
			if t != nil {
				t.Close()
			}
		}
		return err
	}
	p.transports = conns
	return nil
}

// Close shuts down every transport in the pool.
func (p *TransportPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, t := range p.transports {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.transports = nil
	return firstErr
}
