package registry

import (
	"context"

	"hlapi-bus/message"
)

// Lister enumerates the devices of one bus. *client.Client satisfies it.
type Lister interface {
	List(ctx context.Context) ([]message.DeviceDescriptor, error)
}

// Publish lists the bus behind l and registers every device under each of its
// components. It returns the records it registered, one per device.
func Publish(ctx context.Context, l Lister, reg Registry, bus, addr string, ttl int64) ([]Record, error) {
	devices, err := l.List(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(devices))
	for _, d := range devices {
		record := Record{
			Bus:        bus,
			Addr:       addr,
			DeviceID:   d.DeviceID,
			Components: d.Components,
		}
		for _, component := range d.Components {
			if err := reg.Register(component, record, ttl); err != nil {
				return records, err
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// Unpublish removes records registered by Publish.
func Unpublish(reg Registry, records []Record) error {
	for _, r := range records {
		for _, component := range r.Components {
			if err := reg.Deregister(component, r.Bus, r.DeviceID); err != nil {
				return err
			}
		}
	}
	return nil
}
