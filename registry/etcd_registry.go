// etcd-based implementation of the Registry interface.
//
// etcd is a distributed key-value store with strong consistency (Raft). We
// use it as a "distributed phonebook" for services:
//
//	Key:   /framerpc/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Registration uses TTL-based leases: if the server crashes, the lease
// expires and the entry disappears on its own — no "ghost" instances.
package registry

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/framerpc/"

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	logger *zap.Logger
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
// The logger is handed to the etcd client as well, so etcd's internal logs
// land in the same place as ours.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, logger: logger}, nil
}

// Register adds a service instance to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL (e.g., 10 seconds)
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease
//
// The leaseID stays a local variable, not a struct field: multiple servers
// may share one EtcdRegistry, and a shared field would race.
func (r *EtcdRegistry) Register(serviceName string, instance ServiceInstance, ttl int64) error {
	ctx := context.Background()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, keyPrefix+serviceName+"/"+instance.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// Background lease renewal — KeepAlive sends heartbeats to etcd
	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses so the channel never fills up
	go func() {
		for range ch {
		}
		r.logger.Debug("keepalive channel closed",
			zap.String("service", serviceName), zap.String("addr", instance.Addr))
	}()
	return nil
}

// Deregister removes a service instance from etcd.
// Called during graceful shutdown before closing the listener.
func (r *EtcdRegistry) Deregister(serviceName string, addr string) error {
	_, err := r.client.Delete(context.Background(), keyPrefix+serviceName+"/"+addr)
	return err
}

// Watch monitors a service prefix in etcd and emits updated instance lists
// whenever registrations change. Uses etcd's server-push Watch API, which
// beats polling.
func (r *EtcdRegistry) Watch(serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	prefix := keyPrefix + serviceName + "/"

	go func() {
		watchChan := r.client.Watch(context.Background(), prefix, clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full list — simpler than patching
			// it from individual watch events.
			instances, err := r.Discover(serviceName)
			if err != nil {
				r.logger.Warn("discover after watch event failed",
					zap.String("service", serviceName), zap.Error(err))
				continue
			}
			ch <- instances
		}
	}()

	return ch
}

// Discover returns all currently registered instances for a service.
func (r *EtcdRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	prefix := keyPrefix + serviceName + "/"

	resp, err := r.client.Get(context.Background(), prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0)
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}

	return instances, nil
}

// Close releases the underlying etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
