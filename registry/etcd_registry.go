// Package registry publishes bus inventories so that devices can be located
// across hosts.
//
// The etcd layout is one key per (component, bus, device):
//
//	Key:   /hlapi/{component}/{bus}/{deviceId}
//	Value: JSON-encoded Record
//
// Entries are attached to a TTL lease that is kept alive while the publisher
// runs. When the publisher dies the lease expires and its devices vanish.
package registry

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"

	"hlapi-bus/message"
)

const keyPrefix = "/hlapi/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client

	mu     sync.Mutex
	cancel []context.CancelFunc // keepalive loops
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

func componentPrefix(component string) string {
	return keyPrefix + component + "/"
}

func recordKey(component, bus string, id message.DeviceHandle) string {
	return componentPrefix(component) + bus + "/" + id.String()
}

// Register stores record under component with a TTL lease and keeps the
// lease alive until Close.
func (r *EtcdRegistry) Register(component string, record Record, ttl int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(record)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, recordKey(component, record.Bus, record.DeviceID), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return err
	}
	r.mu.Lock()
	r.cancel = append(r.cancel, cancel)
	r.mu.Unlock()

	// Drain keepalive responses so the channel never fills up.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes one device from a component.
func (r *EtcdRegistry) Deregister(component, bus string, id message.DeviceHandle) error {
	_, err := r.client.Delete(context.TODO(), recordKey(component, bus, id))
	return err
}

// Watch emits the full record list of a component whenever it changes.
func (r *EtcdRegistry) Watch(component string) <-chan []Record {
	ch := make(chan []Record, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(context.TODO(), componentPrefix(component), clientv3.WithPrefix())
		for range watchChan {
			// Re-read the whole prefix instead of applying single events.
			records, err := r.Discover(component)
			if err != nil {
				continue
			}
			ch <- records
		}
	}()

	return ch
}

// Discover returns every record under component, ordered by bus and device.
func (r *EtcdRegistry) Discover(component string) ([]Record, error) {
	resp, err := r.client.Get(context.TODO(), componentPrefix(component), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var record Record
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			continue // not ours
		}
		records = append(records, record)
	}
	sortRecords(records)
	return records, nil
}

// Close stops lease renewal and disconnects. Registered records expire with
// their leases.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for _, cancel := range r.cancel {
		cancel()
	}
	r.cancel = nil
	r.mu.Unlock()
	return r.client.Close()
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key() < records[j].Key()
	})
}
