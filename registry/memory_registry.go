package registry

import (
	"sync"

	"hlapi-bus/message"
)

// MemoryRegistry is an in-process Registry. TTLs are ignored.
type MemoryRegistry struct {
	mu       sync.Mutex
	records  map[string]map[string]Record // component → key → record
	watchers map[string][]chan []Record
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		records:  make(map[string]map[string]Record),
		watchers: make(map[string][]chan []Record),
	}
}

func (m *MemoryRegistry) Register(component string, record Record, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[component] == nil {
		m.records[component] = make(map[string]Record)
	}
	m.records[component][record.Key()] = record
	m.notify(component)
	return nil
}

func (m *MemoryRegistry) Deregister(component, bus string, id message.DeviceHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records[component], Record{Bus: bus, DeviceID: id}.Key())
	m.notify(component)
	return nil
}

func (m *MemoryRegistry) Discover(component string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(component), nil
}

// Watch emits the record list of component after every change. A watcher
// that falls behind only sees the latest list.
func (m *MemoryRegistry) Watch(component string) <-chan []Record {
	ch := make(chan []Record, 1)
	m.mu.Lock()
	m.watchers[component] = append(m.watchers[component], ch)
	m.mu.Unlock()
	return ch
}

func (m *MemoryRegistry) snapshot(component string) []Record {
	records := make([]Record, 0, len(m.records[component]))
	for _, r := range m.records[component] {
		records = append(records, r)
	}
	sortRecords(records)
	return records
}

// notify must be called with mu held.
func (m *MemoryRegistry) notify(component string) {
	records := m.snapshot(component)
	for _, ch := range m.watchers[component] {
		select {
		case <-ch:
		default:
		}
		ch <- records
	}
}
