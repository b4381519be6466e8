package discovery

import (
	"testing"
	"time"
)

// Requires a local etcd instance at localhost:2379, mirroring the
// teacher's registry/etcd_registry_test.go.
func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdServiceRegistry([]string{"localhost:2379"})
	if err != nil {
		t.Fatal(err)
	}

	ep1 := AssetEndpoint{AssetName: "drone1", URI: "ws://127.0.0.1:8001", Version: "1.0"}
	ep2 := AssetEndpoint{AssetName: "drone1", URI: "ws://127.0.0.1:8002", Version: "1.0"}

	if err := reg.Register("drone1", ep1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("drone1", ep2, 10); err != nil {
		t.Fatal(err)
	}

	endpoints, err := reg.Discover("drone1")
	if err != nil {
		t.Fatal(err)
	}
	if len(endpoints) != 2 {
		t.Fatalf("expect 2 endpoints, got %d", len(endpoints))
	}

	if err := reg.Deregister("drone1", ep1.URI); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	endpoints, err = reg.Discover("drone1")
	if err != nil {
		t.Fatal(err)
	}
	if len(endpoints) != 1 || endpoints[0].URI != ep2.URI {
		t.Fatalf("expect only %s after deregister, got %+v", ep2.URI, endpoints)
	}

	reg.Deregister("drone1", ep2.URI)
}
