package registry

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// etcdEndpoints returns the endpoints of a test etcd, or skips.
func etcdEndpoints(t *testing.T) []string {
	t.Helper()
	env := os.Getenv("HLAPI_ETCD_ENDPOINTS")
	if env == "" {
		t.Skip("HLAPI_ETCD_ENDPOINTS not set")
	}
	return strings.Split(env, ",")
}

func TestRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t))
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	component := "energy_storage_" + uuid.NewString()[:8]
	rec1 := Record{Bus: "vm-1", Addr: "/dev/hvc0", DeviceID: uuid.New(), Components: []string{component}}
	rec2 := Record{Bus: "vm-2", Addr: "/dev/hvc0", DeviceID: uuid.New(), Components: []string{component}}

	if err := reg.Register(component, rec1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(component, rec2, 10); err != nil {
		t.Fatal(err)
	}

	records, err := reg.Discover(component)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].Bus != "vm-1" {
		t.Fatalf("expect 2 records ordered by bus, got %+v", records)
	}

	if err := reg.Deregister(component, rec1.Bus, rec1.DeviceID); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	records, err = reg.Discover(component)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].DeviceID != rec2.DeviceID {
		t.Fatalf("expect only %s after deregister, got %+v", rec2.DeviceID, records)
	}

	reg.Deregister(component, rec2.Bus, rec2.DeviceID)
}

func TestEtcdWatch(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t))
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	component := "screen_" + uuid.NewString()[:8]
	updates := reg.Watch(component)
	time.Sleep(100 * time.Millisecond)

	rec := Record{Bus: "vm-1", DeviceID: uuid.New(), Components: []string{component}}
	if err := reg.Register(component, rec, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(component, rec.Bus, rec.DeviceID)

	select {
	case records := <-updates:
		if len(records) != 1 || records[0].DeviceID != rec.DeviceID {
			t.Fatalf("unexpected update %+v", records)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no watch update")
	}
}
