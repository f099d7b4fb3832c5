// Package container implements a log block manager container: a pair of
// append-only files (one data, one metadata) sharing a name stem, together
// with the cursors and state machine that make concurrent, crash-safe
// writers possible.
package container

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"logblock/internal/base"
)

const (
	// DataSuffix is the filename suffix of a container's data file.
	DataSuffix = ".data"
	// MetadataSuffix is the filename suffix of a container's metadata file.
	MetadataSuffix = ".metadata"
)

// Container owns a <stem>.data / <stem>.metadata file pair. It is safe for
// concurrent use: the cursor mutex serializes allocation and appends, while
// Sync calls are made without holding it so a slow fsync does not stall
// other writers claiming space.
type Container struct {
	Dir  string
	Name string

	fsBlockSize int64
	blockLimit  int64 // <=0 means unlimited

	data     *alignedWriter
	metadata *metadataLog

	mu                 sync.Mutex
	dataCursor         int64
	metadataCursor     int64
	liveBytes          int64
	liveBlocks         int64
	totalBlocksWritten int64

	state *base.AtomicContainerState
}

// Create creates a brand-new container with fresh files in dir.
func Create(dir, name string, fsBlockSize, blockLimit int64) (*Container, error) {
	dataPath := filepath.Join(dir, name+DataSuffix)
	metaPath := filepath.Join(dir, name+MetadataSuffix)

	data, err := newAlignedWriter(dataPath, os.O_CREATE|os.O_RDWR|os.O_EXCL, int(fsBlockSize))
	if err != nil {
		return nil, fmt.Errorf("container: create data file: %w", err)
	}
	metadata, err := openMetadataLog(metaPath, os.O_CREATE|os.O_RDWR|os.O_EXCL)
	if err != nil {
		data.Close()
		os.Remove(dataPath)
		return nil, fmt.Errorf("container: create metadata file: %w", err)
	}

	c := &Container{
		Dir:         dir,
		Name:        name,
		fsBlockSize: fsBlockSize,
		blockLimit:  blockLimit,
		data:        data,
		metadata:    metadata,
		state:       base.NewAtomicContainerState(),
	}
	c.state.TransitionTo(base.ContainerOpen)
	return c, nil
}

// OpenExisting reopens a container discovered on disk during repair, with
// cursors seeded from the already-replayed metadata state.
func OpenExisting(dir, name string, fsBlockSize, blockLimit, dataCursor, metadataCursor, liveBytes, liveBlocks, totalBlocksWritten int64) (*Container, error) {
	dataPath := filepath.Join(dir, name+DataSuffix)
	metaPath := filepath.Join(dir, name+MetadataSuffix)

	data, err := newAlignedWriter(dataPath, os.O_RDWR, int(fsBlockSize))
	if err != nil {
		return nil, fmt.Errorf("container: open data file: %w", err)
	}
	metadata, err := openMetadataLog(metaPath, os.O_RDWR)
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("container: open metadata file: %w", err)
	}

	c := &Container{
		Dir:                dir,
		Name:               name,
		fsBlockSize:        fsBlockSize,
		blockLimit:         blockLimit,
		data:               data,
		metadata:            metadata,
		dataCursor:         dataCursor,
		metadataCursor:     metadataCursor,
		liveBytes:          liveBytes,
		liveBlocks:         liveBlocks,
		totalBlocksWritten: totalBlocksWritten,
		state:              base.NewAtomicContainerState(),
	}
	c.state.TransitionTo(base.ContainerOpen)
	if blockLimit > 0 && totalBlocksWritten >= blockLimit {
		c.state.TransitionTo(base.ContainerFull)
	}
	return c, nil
}

func alignUp(offset, block int64) int64 {
	if block <= 0 {
		return offset
	}
	rem := offset % block
	if rem == 0 {
		return offset
	}
	return offset + (block - rem)
}

// State returns the container's current lifecycle state.
func (c *Container) State() base.ContainerState {
	return c.state.Load()
}

// Allocate reserves length bytes starting at the next block-aligned offset,
// advancing the data cursor. It fails if the container cannot accept new
// writes or the per-directory block limit would be exceeded.
func (c *Container) Allocate(length int64) (offset int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Writable() {
		return 0, base.ErrReadOnly
	}
	if c.blockLimit > 0 && c.totalBlocksWritten >= c.blockLimit {
		return 0, base.ErrResourceExhausted
	}

	offset = alignUp(c.dataCursor, c.fsBlockSize)
	c.dataCursor = offset + length
	c.totalBlocksWritten++
	return offset, nil
}

// WriteData writes bytes at offset. offset must fall within a range
// previously returned by Allocate. A write whose end lies past the current
// data cursor is rejected; the offset itself is not checked against earlier
// allocations, so a write below the cursor is accepted.
func (c *Container) WriteData(offset int64, bytes []byte) error {
	c.mu.Lock()
	cursor := c.dataCursor
	c.mu.Unlock()

	if offset+int64(len(bytes)) > cursor {
		return fmt.Errorf("container: write at %d+%d exceeds cursor %d", offset, len(bytes), cursor)
	}
	if _, err := c.data.WriteAt(bytes, offset); err != nil {
		return fmt.Errorf("%w: %v", base.ErrIOError, err)
	}
	return nil
}

// SyncData fsyncs the data file.
func (c *Container) SyncData() error {
	if err := c.data.Sync(); err != nil {
		return fmt.Errorf("%w: %v", base.ErrIOError, err)
	}
	return nil
}

// SyncMetadata fsyncs the metadata file.
func (c *Container) SyncMetadata() error {
	if err := c.metadata.sync(); err != nil {
		return fmt.Errorf("%w: %v", base.ErrIOError, err)
	}
	return nil
}

// AppendCreate serializes and appends a CREATE record and adds it to the
// container's live-block and live-byte counters. It moves the container to
// Full once its block limit has been reached.
func (c *Container) AppendCreate(r base.CreateRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cursor, err := c.metadata.appendCreate(r)
	if err != nil {
		return fmt.Errorf("%w: %v", base.ErrIOError, err)
	}
	c.metadataCursor = cursor
	c.liveBytes += r.Length
	c.liveBlocks++

	if c.blockLimit > 0 && c.totalBlocksWritten >= c.blockLimit {
		c.state.TransitionTo(base.ContainerFull)
	}
	return nil
}

// AppendDelete serializes and appends a DELETE record.
func (c *Container) AppendDelete(r base.DeleteRecord, removedLength int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cursor, err := c.metadata.appendDelete(r)
	if err != nil {
		return fmt.Errorf("%w: %v", base.ErrIOError, err)
	}
	c.metadataCursor = cursor
	c.liveBytes -= removedLength
	c.liveBlocks--
	return nil
}

// PunchHole deallocates [offset, offset+length) after rounding outward to
// filesystem-block multiples, via fallocate(FALLOC_FL_PUNCH_HOLE). It never
// contracts the file. A failure that indicates the operation is unsupported
// on this filesystem is reported to the caller so it can be tracked as
// reclaimable garbage rather than treated as fatal.
func (c *Container) PunchHole(offset, length int64) error {
	block := c.fsBlockSize
	roundedStart := offset - (offset % block)
	end := offset + length
	roundedEnd := alignUp(end, block)

	err := unix.Fallocate(int(c.data.file.Fd()),
		unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE,
		roundedStart, roundedEnd-roundedStart)
	if err != nil {
		return fmt.Errorf("%w: punch hole [%d,%d): %v", base.ErrIOError, roundedStart, roundedEnd, err)
	}
	return nil
}

// MarkReadOnly poisons the container after a commit failure. Idempotent.
func (c *Container) MarkReadOnly() {
	c.state.TransitionTo(base.ContainerReadOnly)
}

// MarkDead marks the container unusable after repair detects irrecoverable
// damage.
func (c *Container) MarkDead() {
	c.state.TransitionTo(base.ContainerDead)
}

// Stats is a point-in-time snapshot of a container's bookkeeping, used for
// the startup report and for metadata-compaction decisions.
type Stats struct {
	LiveBlocks         int64
	LiveBytes          int64
	TotalBlocksWritten int64
	DataCursor         int64
	MetadataCursor     int64
}

// Stats returns a snapshot of the container's current counters.
func (c *Container) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		LiveBlocks:         c.liveBlocks,
		LiveBytes:          c.liveBytes,
		TotalBlocksWritten: c.totalBlocksWritten,
		DataCursor:         c.dataCursor,
		MetadataCursor:     c.metadataCursor,
	}
}

// DataPath returns the path to the container's data file.
func (c *Container) DataPath() string {
	return filepath.Join(c.Dir, c.Name+DataSuffix)
}

// MetadataPath returns the path to the container's metadata file.
func (c *Container) MetadataPath() string {
	return filepath.Join(c.Dir, c.Name+MetadataSuffix)
}

// Close closes the container's open file handles without deleting anything.
func (c *Container) Close() error {
	dataErr := c.data.Close()
	metaErr := c.metadata.close()
	if dataErr != nil {
		return dataErr
	}
	return metaErr
}
