package loadbalance

import (
	"sync/atomic"

	"hlapi-bus/registry"
)

// RoundRobinBalancer cycles through the records in order.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(records []registry.Record) (*registry.Record, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	index := (b.counter.Add(1) - 1) % uint64(len(records))
	return &records[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
