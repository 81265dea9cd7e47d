// Package slots maps in-flight request identifiers to their requests. The
// table is a fixed array indexed by the identifier's low bits, so lookup is
// one atomic load plus an identifier recheck that rejects entries from an
// earlier generation of the same slot.
package slots

import "sync/atomic"

// Table holds at most one entry per slot index. window must be a power of
// two matching the identifier window; key extracts the identifier an entry
// was registered under.
type Table[T any] struct {
	key     func(*T) uint64
	mask    uint64
	entries []atomic.Pointer[T]
}

// New creates a table with window slots.
func New[T any](window uint64, key func(*T) uint64) *Table[T] {
	return &Table[T]{
		key:     key,
		mask:    window - 1,
		entries: make([]atomic.Pointer[T], window),
	}
}

// Register stores v under id. The identifier allocator guarantees a slot is
// registered at most once per identifier generation.
func (t *Table[T]) Register(id uint64, v *T) {
	t.entries[id&t.mask].Store(v)
}

// Lookup returns the entry registered under id, or nil when the slot is
// empty or holds a different generation of the slot index.
func (t *Table[T]) Lookup(id uint64) *T {
	v := t.entries[id&t.mask].Load()
	if v == nil || t.key(v) != id {
		return nil
	}
	return v
}

// Clear removes the entry registered under id. Clearing a slot that has
// already moved on to another identifier is a no-op.
func (t *Table[T]) Clear(id uint64) {
	slot := &t.entries[id&t.mask]
	if v := slot.Load(); v != nil && t.key(v) == id {
		slot.CompareAndSwap(v, nil)
	}
}

// Walk calls fn for every registered entry. Entries registered or cleared
// concurrently may or may not be visited.
func (t *Table[T]) Walk(fn func(*T)) {
	for i := range t.entries {
		if v := t.entries[i].Load(); v != nil {
			fn(v)
		}
	}
}

// Len counts the registered entries.
func (t *Table[T]) Len() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].Load() != nil {
			n++
		}
	}
	return n
}
