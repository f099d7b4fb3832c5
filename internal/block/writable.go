// Package block implements the two handle types callers interact with
// directly: WritableBlock for appending a new block's bytes, and
// ReadableBlock for reading back a published one. The refcounted latch on
// ReadableBlock is the same shape as the teacher lineage's sstable handle;
// WritableBlock's Clean/Dirty/Finalized/Closed progression is new, since
// nothing in the teacher plays this role.
package block

import (
	"fmt"
	"sync"
	"time"

	"logblock/internal/base"
	"logblock/internal/checkout"
	"logblock/internal/container"
	"logblock/internal/index"
)

type writeState uint8

const (
	stateClean writeState = iota
	stateDirty
	stateFinalized
	stateClosed
)

// WritableBlock accumulates appended bytes in memory and, on Finalize,
// writes them to its container at a freshly allocated offset and returns
// the container to its checkout pool — a sibling writer may start using the
// same container immediately, since the container's own mutex (not
// checkout) is what actually serializes access to its cursors. Finalize
// does not append or publish a CREATE record; a CreationTransaction
// collects the records from every block it manages and appends them in the
// ordered, crash-safe sequence described by the container protocol. A block
// used without an explicit transaction commits itself on Close.
type WritableBlock struct {
	mu sync.Mutex

	c  *container.Container
	id base.BlockId

	buf    []byte
	offset int64
	length int64

	state        writeState
	committed    bool
	poolReturned bool
	released     bool

	idx  *index.Index
	pool *checkout.Pool
}

// New returns a WritableBlock that will write into c once finalized. c is
// assumed already checked out from pool for this write, and id already
// claimed in idx.
func New(c *container.Container, id base.BlockId, idx *index.Index, pool *checkout.Pool) *WritableBlock {
	return &WritableBlock{c: c, id: id, idx: idx, pool: pool}
}

// ID returns the block's ID.
func (b *WritableBlock) ID() base.BlockId {
	return b.id
}

// Container returns the block's backing container, for a transaction
// coordinating multiple blocks to append its own CREATE record directly.
func (b *WritableBlock) Container() *container.Container {
	return b.c
}

// Append buffers p for writing at Finalize time. Append after Finalize or
// Close returns base.ErrClosed.
func (b *WritableBlock) Append(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateFinalized || b.state == stateClosed {
		return base.ErrClosed
	}
	b.buf = append(b.buf, p...)
	b.state = stateDirty
	return nil
}

// Finalize writes the buffered bytes to the container at a freshly
// allocated offset and releases the container back to its checkout pool,
// letting another writer start on it immediately. It returns the CREATE
// record for the written bytes but does not append or publish it.
// Idempotent: calling it again after success returns a record for the same
// block, offset and length without reallocating; only its timestamp is
// taken afresh.
func (b *WritableBlock) Finalize() (base.CreateRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finalizeLocked()
}

func (b *WritableBlock) finalizeLocked() (base.CreateRecord, error) {
	if b.state == stateClosed {
		return base.CreateRecord{}, base.ErrClosed
	}
	if b.state == stateFinalized {
		return b.record(), nil
	}

	offset, err := b.c.Allocate(int64(len(b.buf)))
	if err != nil {
		return base.CreateRecord{}, fmt.Errorf("block: allocate: %w", err)
	}
	if len(b.buf) > 0 {
		if err := b.c.WriteData(offset, b.buf); err != nil {
			return base.CreateRecord{}, fmt.Errorf("block: write: %w", err)
		}
	}
	b.offset = offset
	b.length = int64(len(b.buf))
	b.state = stateFinalized

	b.pool.Return(b.c.Dir, b.c)
	b.poolReturned = true

	return b.record(), nil
}

func (b *WritableBlock) record() base.CreateRecord {
	return base.CreateRecord{
		BlockId:  b.id,
		Offset:   b.offset,
		Length:   b.length,
		TSMicros: uint64(time.Now().UnixMicro()),
	}
}

// MarkCommitted tells the block that an external transaction has already
// durably appended its CREATE record and published it to the index, so
// Close need only release resources.
func (b *WritableBlock) MarkCommitted() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.committed = true
}

// Abort discards the block without publishing a CREATE record. Any bytes
// already written to the container's data file become unreferenced garbage
// reclaimed by a later repair pass, not a correctness issue: the container
// never advertises them because no CREATE record exists.
func (b *WritableBlock) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.idx.Unclaim(b.id)
	if !b.poolReturned {
		b.pool.Return(b.c.Dir, b.c)
		b.poolReturned = true
	}
	b.state = stateClosed
	b.released = true
}

// Close finalizes the block if needed and, unless a transaction already
// committed it, performs an inline single-block commit. A block already
// committed by a transaction closes as a pure no-op; a block that was
// finalized but not committed is committed inline.
func (b *WritableBlock) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil
	}
	if b.state != stateFinalized {
		if _, err := b.finalizeLocked(); err != nil {
			b.idx.Unclaim(b.id)
			b.c.MarkReadOnly()
			if !b.poolReturned {
				b.pool.Return(b.c.Dir, b.c)
				b.poolReturned = true
			}
			b.released = true
			return err
		}
	}
	if !b.committed {
		if err := b.commitLocked(); err != nil {
			b.idx.Unclaim(b.id)
			b.c.MarkReadOnly()
			b.released = true
			return err
		}
	}
	b.state = stateClosed
	b.released = true
	return nil
}

func (b *WritableBlock) commitLocked() error {
	if err := b.c.SyncData(); err != nil {
		return err
	}
	if err := b.c.AppendCreate(b.record()); err != nil {
		return err
	}
	if err := b.c.SyncMetadata(); err != nil {
		return err
	}
	b.idx.Publish([]index.LogBlock{{
		Container: b.c,
		BlockId:   b.id,
		Offset:    b.offset,
		Length:    b.length,
	}})
	b.committed = true
	return nil
}
