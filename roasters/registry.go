// Package roasters is the plugin registry of supported coffee roasters. Each
// roaster registers itself from an init function; the CLI resolves keys
// through Get and enumerates them through All.
package roasters

import (
	"fmt"
	"sort"
	"sync"

	"beanscout/config"
)

// Roaster describes one supported storefront: its identity and the scrape
// policy the plugin ships with. Config-file sections override these values
// field-by-field.
type Roaster struct {
	Key  string // stable identifier, used on the CLI and in session ids
	Name string // display name, stamped into records
	Base config.RoasterConfig
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Roaster)
)

// Register adds a roaster to the registry. Duplicate keys are a programming
// error and panic at init time.
func Register(r Roaster) {
	mu.Lock()
	defer mu.Unlock()
	if r.Key == "" {
		panic("roasters: register with empty key")
	}
	if _, exists := registry[r.Key]; exists {
		panic(fmt.Sprintf("roasters: duplicate key %q", r.Key))
	}
	registry[r.Key] = r
}

// Get resolves a roaster by key.
func Get(key string) (Roaster, bool) {
	mu.RLock()
	defer mu.RUnlock()
	r, ok := registry[key]
	return r, ok
}

// All returns every registered roaster sorted by key.
func All() []Roaster {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Roaster, 0, len(registry))
	for _, r := range registry {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Keys returns every registered key sorted.
func Keys() []string {
	all := All()
	keys := make([]string, len(all))
	for i, r := range all {
		keys[i] = r.Key
	}
	return keys
}
