// Package client provides the high-level RPC client: service discovery,
// load balancing, pooled multiplexed transports, a middleware chain, and a
// side-effect monitor on every call.
//
// Pipeline per call:
//
//	Do/Call → Monitor (fresh Signal, observed body)
//	        → middleware chain (logging / timeout / retry / rate limit)
//	        → discover instances → pick one → transport pool → Invoke
//
// The Monitor is outermost, so the Signal returned by Do covers everything
// the call did — including body polling during middleware-level retries.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/s2-streamstore/framerpc/body"
	"github.com/s2-streamstore/framerpc/codec"
	"github.com/s2-streamstore/framerpc/loadbalance"
	"github.com/s2-streamstore/framerpc/message"
	"github.com/s2-streamstore/framerpc/middleware"
	"github.com/s2-streamstore/framerpc/registry"
	"github.com/s2-streamstore/framerpc/sideeffect"
	"github.com/s2-streamstore/framerpc/transport"
)

// RequestIDKey is the metadata key carrying the per-call request ID.
const RequestIDKey = "x-request-id"

// Client is a discovery-backed RPC client.
type Client struct {
	registry  registry.Registry
	balancer  loadbalance.Balancer
	codecType codec.CodecType
	poolSize  int
	logger    *zap.Logger

	mu    sync.Mutex
	pools map[string]*transport.TransportPool // One pool per discovered address

	middlewares []middleware.Middleware
	buildOnce   sync.Once
	monitor     *sideeffect.Monitor
}

// NewClient creates a client that discovers instances through reg, selects
// them with bal, and keeps poolSize multiplexed connections per address.
func NewClient(reg registry.Registry, bal loadbalance.Balancer, codecType codec.CodecType, poolSize int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		registry:  reg,
		balancer:  bal,
		codecType: codecType,
		poolSize:  poolSize,
		logger:    logger,
		pools:     make(map[string]*transport.TransportPool),
	}
}

// Use appends a middleware to the chain. Must be called before the first
// call; middlewares added later are ignored.
func (c *Client) Use(mw middleware.Middleware) {
	c.middlewares = append(c.middlewares, mw)
}

// build assembles the invoke pipeline once: middleware chain over the
// transport invoker, monitor over the chain.
func (c *Client) build() {
	chained := middleware.Chain(c.middlewares...)(sideeffect.InvokerFunc(c.transportInvoke))
	c.monitor = sideeffect.NewMonitor(chained)
}

// Do sends one request and returns the response, the call's side-effect
// Signal, and the transport error if any. The Signal is valid on every
// branch: consult it after a failure to decide whether the server could have
// observed the request.
func (c *Client) Do(ctx context.Context, req *message.Request) (*message.Response, *sideeffect.Signal, error) {
	c.buildOnce.Do(c.build)
	return c.monitor.Call(ctx, req)
}

// Call is the convenience surface: args are JSON-marshaled into a rewindable
// bytes body, a request ID is stamped into the metadata, and the reply
// payload is unmarshaled into reply. Server-side handler failures come back
// as errors.
func (c *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return err
	}

	req := &message.Request{
		ServiceMethod: serviceMethod,
		Metadata:      message.Metadata{RequestIDKey: uuid.NewString()},
		Body:          body.Bytes(payload),
	}

	resp, _, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("server error: %v", resp.Error)
	}
	if reply == nil {
		return nil
	}
	return json.Unmarshal(resp.Payload, reply)
}

// transportInvoke is the bottom of the pipeline: resolve the service to an
// address and send the request over a pooled transport.
func (c *Client) transportInvoke(ctx context.Context, req *message.Request) (*message.Response, error) {
	split := strings.Split(req.ServiceMethod, ".")
	if len(split) != 2 {
		return nil, fmt.Errorf("invalid serviceMethod format: %v", req.ServiceMethod)
	}
	serviceName := split[0]

	instances, err := c.registry.Discover(serviceName)
	if err != nil {
		return nil, err
	}

	instance, err := c.balancer.Pick(instances)
	if err != nil {
		return nil, err
	}

	pool := c.getPool(instance.Addr)
	t, err := pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	return t.Invoke(ctx, req)
}

func (c *Client) getPool(addr string) *transport.TransportPool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pool, ok := c.pools[addr]
	if !ok {
		pool = transport.NewTransportPool(addr, c.poolSize, c.codecType, c.logger)
		c.pools[addr] = pool
	}
	return pool
}

// Close shuts down every transport pool.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, pool := range c.pools {
		if err := pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.pools = make(map[string]*transport.TransportPool)
	return firstErr
}
