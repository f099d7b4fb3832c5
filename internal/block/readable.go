package block

import (
	"fmt"
	"sync/atomic"

	"logblock/internal/base"
	"logblock/internal/filecache"
	"logblock/internal/index"
)

// ReadableBlock is a refcounted handle onto a published block's bytes,
// backed by a cached data-file descriptor shared with every other open
// block in the same container. Reads are bounds-checked against the
// block's own [offset, offset+length) extent and can never see another
// block's bytes, live or reclaimed.
type ReadableBlock struct {
	id     base.BlockId
	offset int64
	length int64

	handle filecache.Handle
	refs   atomic.Int32
}

// Open acquires a ReadableBlock for blk, opening (or reusing) its
// container's data file through cache. The returned block holds one
// reference; the caller must Close it.
func Open(blk index.LogBlock, cache *filecache.Cache) (*ReadableBlock, error) {
	h, err := cache.Open(blk.Container.DataPath())
	if err != nil {
		return nil, fmt.Errorf("block: open %d: %w", blk.BlockId, err)
	}
	b := &ReadableBlock{
		id:     blk.BlockId,
		offset: blk.Offset,
		length: blk.Length,
		handle: h,
	}
	b.refs.Store(1)
	return b, nil
}

// ID returns the block's ID.
func (b *ReadableBlock) ID() base.BlockId {
	return b.id
}

// Length returns the block's length in bytes.
func (b *ReadableBlock) Length() int64 {
	return b.length
}

// Retain adds a reference, for a second consumer sharing this handle
// instead of reopening the block.
func (b *ReadableBlock) Retain() {
	b.refs.Add(1)
}

// ReadAt reads into p starting at off within the block's own byte range.
// It never reads past the block's length, truncating p's effective length
// instead of returning an out-of-range error, mirroring io.ReaderAt's
// short-read allowance at EOF.
func (b *ReadableBlock) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > b.length {
		return 0, fmt.Errorf("block: read at %d out of range [0,%d)", off, b.length)
	}
	n := len(p)
	if off+int64(n) > b.length {
		n = int(b.length - off)
	}
	if n == 0 {
		return 0, nil
	}
	return b.handle.File().ReadAt(p[:n], b.offset+off)
}

// Close releases this reference. Once every reference has been released,
// the underlying file-cache handle is released too.
func (b *ReadableBlock) Close() error {
	if b.refs.Add(-1) == 0 {
		b.handle.Release()
	}
	return nil
}
