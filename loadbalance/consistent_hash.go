package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"hlapi-bus/registry"
)

// ConsistentHashBalancer maps caller keys onto a ring of records so that the
// same key keeps hitting the same device. Each record owns replicas virtual
// nodes hashed from "{bus}/{deviceId}#{i}".
type ConsistentHashBalancer struct {
	mu       sync.RWMutex
	replicas int
	ring     []uint32                    // sorted
	nodes    map[uint32]*registry.Record // hash → record
}

func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]*registry.Record),
	}
}

// Add places a record on the ring.
func (b *ConsistentHashBalancer) Add(record registry.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", record.Key(), i)))
		if _, ok := b.nodes[hash]; !ok {
			b.ring = append(b.ring, hash)
		}
		b.nodes[hash] = &record
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Reset rebuilds the ring from records, as after a directory watch update.
func (b *ConsistentHashBalancer) Reset(records []registry.Record) {
	b.mu.Lock()
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]*registry.Record)
	b.mu.Unlock()
	for _, r := range records {
		b.Add(r)
	}
}

// Pick returns the record owning key: the first node clockwise from the
// key's hash.
func (b *ConsistentHashBalancer) Pick(key string) (*registry.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		return nil, ErrNoRecords
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
