package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"hlapi-bus/registry"
)

var testRecords = []registry.Record{
	{Bus: "vm-1", DeviceID: uuid.MustParse("a0000000-0000-4000-8000-000000000001"), Components: []string{"screen"}},
	{Bus: "vm-2", DeviceID: uuid.MustParse("a0000000-0000-4000-8000-000000000002"), Components: []string{"screen"}},
	{Bus: "vm-3", DeviceID: uuid.MustParse("a0000000-0000-4000-8000-000000000003"), Components: []string{"screen"}},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	for i := 0; i < 2*len(testRecords); i++ {
		rec, err := b.Pick(testRecords)
		if err != nil {
			t.Fatal(err)
		}
		if want := testRecords[i%len(testRecords)].Bus; rec.Bus != want {
			t.Fatalf("pick %d: expect %s, got %s", i, want, rec.Bus)
		}
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	if _, err := b.Pick(nil); !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expect ErrNoRecords, got %v", err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()
	if _, err := b.Pick("anything"); !errors.Is(err, ErrNoRecords) {
		t.Fatalf("expect ErrNoRecords on empty ring, got %v", err)
	}
	for _, r := range testRecords {
		b.Add(r)
	}

	rec1, _ := b.Pick("user-123")
	rec2, _ := b.Pick("user-123")
	if rec1.Key() != rec2.Key() {
		t.Fatalf("same key mapped to different devices: %s vs %s", rec1.Key(), rec2.Key())
	}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		rec, _ := b.Pick(fmt.Sprintf("key-%d", i))
		seen[rec.Bus] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different buses, got %d", len(seen))
	}
}

func TestConsistentHashReset(t *testing.T) {
	b := NewConsistentHashBalancer()
	b.Reset(testRecords)
	b.Reset(testRecords[:1])

	for i := 0; i < 20; i++ {
		rec, err := b.Pick(fmt.Sprintf("key-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		if rec.Bus != "vm-1" {
			t.Fatalf("expect only vm-1 after reset, got %s", rec.Bus)
		}
	}
}
