// Package memtrack accounts for the engine's index memory consumption. It is
// adapted from the teacher lineage's arena allocator: the same lock-free
// atomic-position idiom, repurposed from "where in this buffer is free" to
// "how many bytes does the index currently hold."
package memtrack

import (
	"logblock/internal/arch"
)

// entryOverheadBytes is the estimated per-entry footprint of a LogBlock in
// the index: the map bucket, the BlockId key, and the (container pointer,
// offset, length) value.
const entryOverheadBytes = 64

// Tracker is a shared, lock-free counter of bytes attributed to live index
// entries. Add/Sub are the hot path and never block.
type Tracker struct {
	consumed arch.AtomicInt
}

// New returns a zeroed Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Add accounts for n additional bytes of consumption.
func (t *Tracker) Add(n int64) {
	t.consumed.Add(arch.IntToArchSize(int(n)))
}

// Sub releases n bytes of consumption previously accounted for by Add.
func (t *Tracker) Sub(n int64) {
	t.consumed.Add(-arch.IntToArchSize(int(n)))
}

// AddEntry accounts for one freshly inserted index entry.
func (t *Tracker) AddEntry() {
	t.Add(entryOverheadBytes)
}

// SubEntry releases the accounting for one removed index entry.
func (t *Tracker) SubEntry() {
	t.Sub(entryOverheadBytes)
}

// Consumption returns the current byte count attributed to the index.
func (t *Tracker) Consumption() int64 {
	return int64(t.consumed.Load())
}
