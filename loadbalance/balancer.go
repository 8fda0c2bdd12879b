// Package loadbalance provides strategies for spreading RPC calls across
// service instances.
//
//   - RoundRobin:      stateless services, equal-capacity instances
//   - WeightedRandom:  heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  key-affine routing for stateful services
package loadbalance

import "github.com/s2-streamstore/framerpc/registry"

// Balancer selects a target instance for each call.
type Balancer interface {
	// Pick selects one instance from the available list.
	// Called on every RPC call — must be goroutine-safe.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
