package registry

import "sync"

// StaticRegistry is an in-memory Registry with no external dependencies.
// Useful for tests and for fixed deployments where the instance list is
// known up front. TTLs are ignored; entries live until deregistered.
type StaticRegistry struct {
	mu        sync.RWMutex
	instances map[string][]ServiceInstance
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{instances: make(map[string][]ServiceInstance)}
}

func (r *StaticRegistry) Register(serviceName string, instance ServiceInstance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[serviceName] = append(r.instances[serviceName], instance)
	return nil
}

func (r *StaticRegistry) Deregister(serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	insts := r.instances[serviceName]
	for i, inst := range insts {
		if inst.Addr == addr {
			r.instances[serviceName] = append(insts[:i], insts[i+1:]...)
			break
		}
	}
	return nil
}

func (r *StaticRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServiceInstance, len(r.instances[serviceName]))
	copy(out, r.instances[serviceName])
	return out, nil
}

// Watch is a no-op for a static registry: the instance list never changes
// behind the caller's back. The returned channel is already closed so a
// caller ranging over it terminates immediately instead of blocking forever.
func (r *StaticRegistry) Watch(serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance)
	close(ch)
	return ch
}
