package loadbalance

import (
	"fmt"
	"math/rand"

	"github.com/s2-streamstore/framerpc/registry"
)

// WeightedRandomBalancer picks instances randomly in proportion to their
// registered weights, so a Weight=20 instance receives twice the calls of a
// Weight=10 one.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances available")
	}

	totalWeight := 0
	for _, v := range instances {
		totalWeight += v.Weight
	}
	if totalWeight <= 0 {
		// No weights configured — fall back to uniform random
		return &instances[rand.Intn(len(instances))], nil
	}

	// Walk the list subtracting weights until the random point lands
	r := rand.Intn(totalWeight)
	for i := range instances {
		r -= instances[i].Weight
		if r < 0 {
			return &instances[i], nil
		}
	}

	return nil, fmt.Errorf("unexpected error in weighted random selection")
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
