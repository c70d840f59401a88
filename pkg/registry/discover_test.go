package registry

import (
	"reflect"
	"testing"
	"time"
)

func TestAvailable(t *testing.T) {
	reg, clock := newTestRegistry(time.Minute)
	if _, err := reg.Announce(searchAnnouncement("1.0.0", "web")); err != nil {
		t.Fatalf("registry:discover_test - Announce failed: %v", err)
	}
	if _, err := reg.Announce(searchAnnouncement("1.2.0", "web", "news")); err != nil {
		t.Fatalf("registry:discover_test - Announce failed: %v", err)
	}

	list := reg.Available()
	if len(list) != 2 {
		t.Fatalf("registry:discover_test - expected 2 capabilities, got %d", len(list))
	}
	if list[0].Capability != BuiltinCapability || !list[0].Pinned {
		t.Errorf("registry:discover_test - list[0] = %+v", list[0])
	}
	s := list[1]
	if s.Version != "1.2.0" || !reflect.DeepEqual(s.Versions, []string{"1.2.0", "1.0.0"}) {
		t.Errorf("registry:discover_test - versions = %s %v", s.Version, s.Versions)
	}
	if !reflect.DeepEqual(s.Actions, []string{"web", "news"}) {
		t.Errorf("registry:discover_test - actions = %v", s.Actions)
	}
	if s.ExpiresAt == "" {
		t.Errorf("registry:discover_test - ExpiresAt not set for TTL entry")
	}

	clock.advance(2 * time.Minute)
	if got := reg.Available(); len(got) != 1 {
		t.Errorf("registry:discover_test - expired capability still listed: %+v", got)
	}
}
