package roasters

import (
	"testing"

	"beanscout/config"
)

func TestBuiltinRoastersRegistered(t *testing.T) {
	for _, key := range []string{"skylark", "harbour-lane", "nordlys"} {
		r, ok := Get(key)
		if !ok {
			t.Errorf("Get(%q) missing", key)
			continue
		}
		if r.Name == "" || len(r.Base.StoreURLs) == 0 {
			t.Errorf("roaster %q lacks name or store urls", key)
		}
	}
}

func TestKeysSorted(t *testing.T) {
	keys := Keys()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("keys not sorted: %v", keys)
		}
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration should panic")
		}
	}()
	Register(Roaster{Key: "skylark", Name: "Duplicate", Base: config.RoasterConfig{}})
}

func TestGetUnknown(t *testing.T) {
	if _, ok := Get("no-such-roaster"); ok {
		t.Fatal("unknown key should not resolve")
	}
}
