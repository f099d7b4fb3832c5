// Package index implements the engine's in-memory block index: a map from
// BlockId to its location, the set of IDs currently being written, and the
// set of directories with pending filesystem metadata not yet fsync'd. It
// is the direct descendant of the teacher lineage's memtable — same
// RWMutex discipline — but backed by a plain hash map instead of an
// ordered skiplist, since nothing in this domain needs sorted iteration
// over block IDs.
package index

import (
	"sync"

	"logblock/internal/base"
	"logblock/internal/container"
	"logblock/internal/memtrack"
)

// LogBlock is a live block's index entry.
type LogBlock struct {
	Container *container.Container
	BlockId   base.BlockId
	Offset    int64
	Length    int64
}

// Index holds all block-location state for the engine. The zero value is
// not usable; construct with New.
type Index struct {
	mu        sync.RWMutex
	blocks    map[base.BlockId]LogBlock
	openIDs   map[base.BlockId]struct{}
	dirtyDirs map[string]struct{}
	tracker   *memtrack.Tracker
}

// New returns an empty Index that accounts its memory usage against
// tracker.
func New(tracker *memtrack.Tracker) *Index {
	return &Index{
		blocks:    make(map[base.BlockId]LogBlock),
		openIDs:   make(map[base.BlockId]struct{}),
		dirtyDirs: make(map[string]struct{}),
		tracker:   tracker,
	}
}

// Claim reserves id for an in-flight write. Returns base.ErrAlreadyPresent
// if id is already live or already claimed.
func (idx *Index) Claim(id base.BlockId) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, live := idx.blocks[id]; live {
		return base.ErrAlreadyPresent
	}
	if _, open := idx.openIDs[id]; open {
		return base.ErrAlreadyPresent
	}
	idx.openIDs[id] = struct{}{}
	return nil
}

// Unclaim releases id from the open set without publishing it, used by
// Abort.
func (idx *Index) Unclaim(id base.BlockId) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.openIDs, id)
}

// Publish moves a batch of claimed IDs from open into the live map in a
// single critical section, so readers never observe a partially-published
// transaction. Every block in blocks must have previously been Claimed;
// publishing clears its open-set membership as part of the same section.
func (idx *Index) Publish(blocks []LogBlock) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, b := range blocks {
		delete(idx.openIDs, b.BlockId)
		idx.blocks[b.BlockId] = b
		idx.tracker.AddEntry()
	}
}

// Lookup returns the LogBlock for id, if live.
func (idx *Index) Lookup(id base.BlockId) (LogBlock, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	b, ok := idx.blocks[id]
	return b, ok
}

// Remove deletes a batch of IDs from the live map in a single critical
// section, returning the LogBlocks actually removed and the subset of ids
// that were not found.
func (idx *Index) Remove(ids []base.BlockId) (removed []LogBlock, notFound []base.BlockId) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range ids {
		b, ok := idx.blocks[id]
		if !ok {
			notFound = append(notFound, id)
			continue
		}
		delete(idx.blocks, id)
		idx.tracker.SubEntry()
		removed = append(removed, b)
	}
	return removed, notFound
}

// SeedLive inserts a block discovered during startup replay directly into
// the live map, bypassing the claim/publish protocol (there is no writer
// to coordinate with at startup).
func (idx *Index) SeedLive(b LogBlock) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.blocks[b.BlockId] = b
	idx.tracker.AddEntry()
}

// AllBlockIds returns a snapshot of every live block ID. The returned slice
// is exactly the set of IDs present at some instant during the call, taken
// under the read lock.
func (idx *Index) AllBlockIds() []base.BlockId {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]base.BlockId, 0, len(idx.blocks))
	for id := range idx.blocks {
		ids = append(ids, id)
	}
	return ids
}

// MarkDirtyDir records that dir has pending filesystem metadata (new or
// renamed files) not yet fsync'd.
func (idx *Index) MarkDirtyDir(dir string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.dirtyDirs[dir] = struct{}{}
}

// TakeDirtyDirs returns and clears the set of dirty directories, for a
// caller about to fsync all of them as a batch.
func (idx *Index) TakeDirtyDirs() []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	dirs := make([]string, 0, len(idx.dirtyDirs))
	for d := range idx.dirtyDirs {
		dirs = append(dirs, d)
	}
	idx.dirtyDirs = make(map[string]struct{})
	return dirs
}

// Len returns the number of live blocks (for tests/metrics).
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.blocks)
}
