// Package idgen provides the two oracle collaborators the engine treats as
// black boxes per the design's scope: block ID allocation beyond
// uniqueness, and directory-group placement. Both default implementations
// are intentionally simple; callers needing smarter policy substitute their
// own via the engine's Options.
package idgen

import (
	"logblock/internal/arch"
	"logblock/internal/base"
)

// IDGenerator allocates fresh block IDs. Next must never return an ID that
// has already been observed, either by a prior Next call or by
// NotifyBlockId.
type IDGenerator interface {
	Next() base.BlockId
	Notify(id base.BlockId)
}

// AtomicIDGenerator is the default IDGenerator: a single atomic counter
// seeded at Open time to strictly exceed every ID observed during repair.
type AtomicIDGenerator struct {
	next arch.AtomicUint
}

// NewAtomicIDGenerator returns a generator whose first Next() call returns
// floor+1.
func NewAtomicIDGenerator(floor base.BlockId) *AtomicIDGenerator {
	g := &AtomicIDGenerator{}
	g.next.Store(arch.UintToArchSize(uint(floor)))
	return g
}

// Next returns a fresh, previously unused ID.
func (g *AtomicIDGenerator) Next() base.BlockId {
	return base.BlockId(g.next.Add(1))
}

// Notify bumps the floor so a subsequent Next() never collides with an
// externally-chosen ID.
func (g *AtomicIDGenerator) Notify(id base.BlockId) {
	for {
		cur := g.next.Load()
		if uint64(cur) >= uint64(id) {
			return
		}
		next := arch.UintToArchSize(uint(id))
		if g.next.CompareAndSwap(cur, next) {
			return
		}
	}
}
