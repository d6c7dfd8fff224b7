package rib

import "sort"

// Table is the unordered collection of Route Entries indexed by
// (network, mask). It is mutated exclusively from the single cooperative
// scheduler goroutine, so it carries no internal locking.
type Table struct {
	entries map[Key]*Entry
}

// NewTable returns an empty Route Table.
func NewTable() *Table {
	return &Table{entries: make(map[Key]*Entry)}
}

// Lookup returns the entry for (network, mask), if present.
func (t *Table) Lookup(network, mask uint32) (*Entry, bool) {
	e, ok := t.entries[Key{Network: network, Mask: mask}]
	return e, ok
}

// Insert adds or replaces the entry under its own (network, mask) key, so
// at most one entry ever exists per key.
func (t *Table) Insert(e *Entry) {
	t.entries[e.Key()] = e
}

// Remove deletes the entry with the given key, if present.
func (t *Table) Remove(k Key) {
	delete(t.entries, k)
}

// All returns a stable-ordered snapshot of every entry currently in the
// table. A snapshot is used rather than a live iterator since callers
// (timeout scans, GC sweeps, update emission) may want to mutate the table
// while walking results.
func (t *Table) All() []*Entry {
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Network != out[j].Network {
			return out[i].Network < out[j].Network
		}
		return out[i].Mask < out[j].Mask
	})
	return out
}

// Len returns the number of entries in the table.
func (t *Table) Len() int { return len(t.entries) }
