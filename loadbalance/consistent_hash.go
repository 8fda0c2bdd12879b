package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/s2-streamstore/framerpc/registry"
)

// ConsistentHashBalancer maps keys to instances using a hash ring, so the
// same key always lands on the same instance until the ring changes. Useful
// for stateful services with local caches.
//
// Each real instance is placed on the ring as N virtual nodes (hashed from
// "{addr}#{i}"); without them a handful of instances would cluster on the
// ring and skew the load.
//
// Note: consistent hashing is key-based, so PickKey takes a routing key
// instead of implementing the list-based Balancer interface.
type ConsistentHashBalancer struct {
	replicas int                                  // Virtual nodes per real instance
	ring     []uint32                             // Sorted hash values on the ring
	nodes    map[uint32]*registry.ServiceInstance // Hash value → instance
}

// NewConsistentHashBalancer creates an empty ring with 100 virtual nodes per
// instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		ring:     []uint32{},
		nodes:    make(map[uint32]*registry.ServiceInstance),
	}
}

// Add places an instance onto the hash ring with its virtual nodes.
func (b *ConsistentHashBalancer) Add(instance *registry.ServiceInstance) {
	for i := 0; i < b.replicas; i++ {
		key := fmt.Sprintf("%s#%d", instance.Addr, i)
		hash := crc32.ChecksumIEEE([]byte(key))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	// Keep the ring sorted for binary search in PickKey
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// PickKey finds the instance responsible for the given routing key: hash the
// key, binary-search clockwise for the first node at or past it, wrapping to
// the first node when the hash is beyond the last.
func (b *ConsistentHashBalancer) PickKey(key string) (*registry.ServiceInstance, error) {
	if len(b.ring) == 0 {
		return nil, fmt.Errorf("no instances on the ring")
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}

	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
