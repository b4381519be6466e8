// etcd-based ServiceRegistry implementation, adapted directly from the
// teacher's registry/etcd_registry.go: same key layout convention, same
// lease/KeepAlive renewal pattern, same prefix-scan Discover/Watch shape,
// retargeted at AssetEndpoint instead of ServiceInstance.
package discovery

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdServiceRegistry implements ServiceRegistry using etcd v3.
//
//	Key:   /hakoniwa-pdu/{assetName}/{uri}
//	Value: JSON-encoded AssetEndpoint
type EtcdServiceRegistry struct {
	client *clientv3.Client
}

// NewEtcdServiceRegistry connects to the given etcd endpoints.
func NewEtcdServiceRegistry(endpoints []string) (*EtcdServiceRegistry, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	return &EtcdServiceRegistry{client: c}, nil
}

const keyPrefix = "/hakoniwa-pdu/"

// Register advertises endpoint under a TTL lease and starts background
// lease renewal. leaseID is kept local rather than stored on the struct,
// so that concurrent registrations from one registry never race.
func (r *EtcdServiceRegistry) Register(assetName string, endpoint AssetEndpoint, ttlSeconds int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return err
	}

	val, err := json.Marshal(endpoint)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, keyPrefix+assetName+"/"+endpoint.URI, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes assetName's entry at uri.
func (r *EtcdServiceRegistry) Deregister(assetName string, uri string) error {
	ctx := context.TODO()
	_, err := r.client.Delete(ctx, keyPrefix+assetName+"/"+uri)
	return err
}

// Discover scans every entry under assetName's prefix.
func (r *EtcdServiceRegistry) Discover(assetName string) ([]AssetEndpoint, error) {
	ctx := context.TODO()
	prefix := keyPrefix + assetName + "/"

	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	endpoints := make([]AssetEndpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep AssetEndpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// Watch re-scans assetName's prefix on every etcd watch event and emits
// the full refreshed endpoint list, rather than attempting to reconstruct
// incremental state from individual watch events.
func (r *EtcdServiceRegistry) Watch(assetName string) <-chan []AssetEndpoint {
	ctx := context.TODO()
	ch := make(chan []AssetEndpoint, 1)
	prefix := keyPrefix + assetName + "/"

	go func() {
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			endpoints, _ := r.Discover(assetName)
			ch <- endpoints
		}
	}()

	return ch
}
