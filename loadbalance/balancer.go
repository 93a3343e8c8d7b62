// Package loadbalance chooses among devices that expose the same component
// on different buses.
//
// Within one bus Find always takes the first listed device. Across buses the
// directory may return many candidates for a component:
//   - RoundRobin:      spread calls evenly over interchangeable devices
//   - ConsistentHash:  keep a caller key on the same device while the set is stable
package loadbalance

import (
	"errors"

	"hlapi-bus/registry"
)

var ErrNoRecords = errors.New("loadbalance: no records available")

// Balancer picks one record per call. Implementations are goroutine-safe.
type Balancer interface {
	Pick(records []registry.Record) (*registry.Record, error)

	Name() string
}
