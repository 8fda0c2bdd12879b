package loadbalance

import (
	"fmt"
	"sync/atomic"

	"github.com/s2-streamstore/framerpc/registry"
)

// RoundRobinBalancer distributes calls evenly across instances in order.
// An atomic counter keeps Pick lock-free and goroutine-safe.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances available")
	}
	index := b.counter.Add(1) % uint64(len(instances))
	return &instances[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
