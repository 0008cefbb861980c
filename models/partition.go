package models

import "sort"

// Partition is the three-way split of a session's discovered URLs against
// the roaster's full persisted history. The three sets are pairwise
// disjoint; their union covers discovered ∪ history.
type Partition struct {
	New      []string // discovered, never persisted: full extraction
	Existing []string // discovered and persisted: cheap diff patch
	Vanished []string // persisted, no longer discoverable: out-of-stock patch
}

// PartitionURLs computes New = discovered \ history, Existing =
// discovered ∩ history, Vanished = history \ discovered. History must be the
// roaster's full persisted URL set, not just the last session, so a product
// that disappears and later reappears classifies as Existing rather than New.
func PartitionURLs(discovered, history []string) Partition {
	seen := make(map[string]bool, len(history))
	for _, u := range history {
		seen[u] = true
	}

	var p Partition
	inDiscovery := make(map[string]bool, len(discovered))
	for _, u := range discovered {
		if inDiscovery[u] {
			continue
		}
		inDiscovery[u] = true
		if seen[u] {
			p.Existing = append(p.Existing, u)
		} else {
			p.New = append(p.New, u)
		}
	}
	for u := range seen {
		if !inDiscovery[u] {
			p.Vanished = append(p.Vanished, u)
		}
	}

	sort.Strings(p.New)
	sort.Strings(p.Existing)
	sort.Strings(p.Vanished)
	return p
}

// Total returns the number of URLs across all three sets.
func (p Partition) Total() int {
	return len(p.New) + len(p.Existing) + len(p.Vanished)
}
