package models

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
)

func TestPartitionURLs(t *testing.T) {
	tests := []struct {
		name         string
		discovered   []string
		history      []string
		wantNew      []string
		wantExisting []string
		wantVanished []string
	}{
		{
			name:         "all new",
			discovered:   []string{"a", "b"},
			history:      nil,
			wantNew:      []string{"a", "b"},
			wantExisting: []string{},
			wantVanished: []string{},
		},
		{
			name:         "all existing",
			discovered:   []string{"a", "b"},
			history:      []string{"a", "b"},
			wantNew:      []string{},
			wantExisting: []string{"a", "b"},
			wantVanished: []string{},
		},
		{
			name:         "all vanished",
			discovered:   nil,
			history:      []string{"a", "b"},
			wantNew:      []string{},
			wantExisting: []string{},
			wantVanished: []string{"a", "b"},
		},
		{
			name:         "mixed",
			discovered:   []string{"a", "b", "c"},
			history:      []string{"b", "c", "d"},
			wantNew:      []string{"a"},
			wantExisting: []string{"b", "c"},
			wantVanished: []string{"d"},
		},
		{
			name:         "duplicate discoveries collapse",
			discovered:   []string{"a", "a", "b", "b"},
			history:      []string{"b"},
			wantNew:      []string{"a"},
			wantExisting: []string{"b"},
			wantVanished: []string{},
		},
		{
			name:         "reappearing product is existing not new",
			discovered:   []string{"a"},
			history:      []string{"a", "b"},
			wantNew:      []string{},
			wantExisting: []string{"a"},
			wantVanished: []string{"b"},
		},
		{
			name:         "empty both",
			discovered:   nil,
			history:      nil,
			wantNew:      []string{},
			wantExisting: []string{},
			wantVanished: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PartitionURLs(tt.discovered, tt.history)
			if !equalStrings(p.New, tt.wantNew) {
				t.Errorf("New = %v, want %v", p.New, tt.wantNew)
			}
			if !equalStrings(p.Existing, tt.wantExisting) {
				t.Errorf("Existing = %v, want %v", p.Existing, tt.wantExisting)
			}
			if !equalStrings(p.Vanished, tt.wantVanished) {
				t.Errorf("Vanished = %v, want %v", p.Vanished, tt.wantVanished)
			}
		})
	}
}

// TestPartitionURLs_SetAlgebra checks the partition laws on randomized
// inputs: the three sets are pairwise disjoint, New ∪ Existing = discovered,
// Existing ∪ Vanished = history, and the union of all three covers
// discovered ∪ history.
func TestPartitionURLs_SetAlgebra(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 100; trial++ {
		discovered := randomURLs(rng, 40)
		history := randomURLs(rng, 40)

		p := PartitionURLs(discovered, history)

		inNew := toSet(p.New)
		inExisting := toSet(p.Existing)
		inVanished := toSet(p.Vanished)

		for u := range inNew {
			if inExisting[u] || inVanished[u] {
				t.Fatalf("trial %d: %q appears in more than one set", trial, u)
			}
		}
		for u := range inExisting {
			if inVanished[u] {
				t.Fatalf("trial %d: %q appears in both existing and vanished", trial, u)
			}
		}

		wantDiscovered := toSet(discovered)
		gotDiscovered := union(inNew, inExisting)
		if !sameSet(gotDiscovered, wantDiscovered) {
			t.Fatalf("trial %d: new ∪ existing != discovered", trial)
		}

		wantHistory := toSet(history)
		gotHistory := union(inExisting, inVanished)
		if !sameSet(gotHistory, wantHistory) {
			t.Fatalf("trial %d: existing ∪ vanished != history", trial)
		}

		all := union(gotDiscovered, inVanished)
		want := union(wantDiscovered, wantHistory)
		if !sameSet(all, want) {
			t.Fatalf("trial %d: partition does not cover discovered ∪ history", trial)
		}
	}
}

func TestPartitionOutputSorted(t *testing.T) {
	p := PartitionURLs([]string{"z", "m", "a"}, []string{"m", "q", "b"})
	for _, set := range [][]string{p.New, p.Existing, p.Vanished} {
		if !sort.StringsAreSorted(set) {
			t.Errorf("partition set %v is not sorted", set)
		}
	}
}

func randomURLs(rng *rand.Rand, n int) []string {
	urls := make([]string, 0, n)
	for i := 0; i < rng.Intn(n)+1; i++ {
		urls = append(urls, fmt.Sprintf("https://example.com/products/p%d", rng.Intn(30)))
	}
	return urls
}

func toSet(urls []string) map[string]bool {
	s := make(map[string]bool, len(urls))
	for _, u := range urls {
		s[u] = true
	}
	return s
}

func union(a, b map[string]bool) map[string]bool {
	u := make(map[string]bool, len(a)+len(b))
	for k := range a {
		u[k] = true
	}
	for k := range b {
		u[k] = true
	}
	return u
}

func sameSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
