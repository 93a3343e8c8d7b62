package registry

import "hlapi-bus/message"

// Record announces one device of one bus. A device exposing several
// components is announced once per component.
type Record struct {
	Bus        string               `json:"bus"`
	Addr       string               `json:"addr"` // device path or host:port of the bus link
	DeviceID   message.DeviceHandle `json:"deviceId"`
	Components []string             `json:"typeNames"`
}

// Key identifies the record under a component.
func (r Record) Key() string {
	return r.Bus + "/" + r.DeviceID.String()
}

type Registry interface {
	Register(component string, record Record, ttl int64) error
	Deregister(component, bus string, id message.DeviceHandle) error
	Discover(component string) ([]Record, error)
	Watch(component string) <-chan []Record
}
