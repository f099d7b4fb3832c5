// Package engine wires the log block manager's leaf components — codec,
// container, index, checkout pool, file cache, memory tracker, ID
// generator, directory picker, kernel-quirk table, and repair — behind the
// public LogBlockManager operations. It owns the per-directory lock files
// and is the only package that touches all of the above at once.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"logblock/internal/base"
	"logblock/internal/block"
	"logblock/internal/checkout"
	"logblock/internal/container"
	"logblock/internal/filecache"
	"logblock/internal/idgen"
	"logblock/internal/index"
	"logblock/internal/kernelquirk"
	"logblock/internal/memtrack"
	"logblock/internal/repair"
	"logblock/internal/txn"
)

const defaultFileCacheCapacity = 256
const defaultFSBlockSize = 4096
const lockFileName = "db.lock"

// Options configures a LogBlockManager at Open time. The zero value is not
// usable: DataDirs must be set. Every other field has a documented default.
type Options struct {
	DataDirs                      []string
	MaxBlocksPerContainerOverride *int64
	MetadataCompactionLiveRatio   float64
	FileCacheCapacity             int
	FSBlockSizeOverride           int64
	EnableHolePunching            bool
	IDGenerator                   idgen.IDGenerator
	DirectoryPicker               idgen.DirectoryPicker
	Logger                        logrus.FieldLogger
}

// LogBlockManager is the engine facade: the sole entry point for creating,
// reading, and deleting blocks, and the owner of every resource acquired at
// Open.
type LogBlockManager struct {
	opts        Options
	log         logrus.FieldLogger
	fsBlockSize int64
	blockLimit  int64

	idx     *index.Index
	pool    *checkout.Pool
	cache   *filecache.Cache
	tracker *memtrack.Tracker
	ids     idgen.IDGenerator
	picker  idgen.DirectoryPicker

	mu         sync.Mutex
	containers []*container.Container
	locks      []*os.File
	closed     bool
}

// Open runs startup repair over every configured data directory and
// returns a ready-to-use LogBlockManager, along with the FsReport repair
// produced.
func Open(opts Options) (*LogBlockManager, *repair.FsReport, error) {
	if len(opts.DataDirs) == 0 {
		return nil, nil, fmt.Errorf("engine: at least one data directory is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.FileCacheCapacity <= 0 {
		opts.FileCacheCapacity = defaultFileCacheCapacity
	}

	fsBlockSize := opts.FSBlockSizeOverride
	if fsBlockSize <= 0 {
		fsBlockSize = probeFSBlockSize(opts.DataDirs[0], opts.Logger)
	}

	blockLimit := effectiveBlockLimit(opts, fsBlockSize)

	locks, err := acquireLockFiles(opts.DataDirs)
	if err != nil {
		return nil, nil, err
	}

	tracker := memtrack.New()
	e := &LogBlockManager{
		opts:        opts,
		log:         opts.Logger,
		fsBlockSize: fsBlockSize,
		blockLimit:  blockLimit,
		idx:         index.New(tracker),
		pool:        checkout.New(),
		cache:       filecache.New(opts.FileCacheCapacity),
		tracker:     tracker,
		locks:       locks,
	}

	e.ids = opts.IDGenerator
	if e.ids == nil {
		e.ids = idgen.NewAtomicIDGenerator(0)
	}
	e.picker = opts.DirectoryPicker
	if e.picker == nil {
		e.picker = idgen.NewRoundRobinPicker(opts.DataDirs)
	}

	report, err := repair.Run(repair.Config{
		DataDirs:            opts.DataDirs,
		FSBlockSize:         fsBlockSize,
		BlockLimit:          blockLimit,
		CompactionLiveRatio: opts.MetadataCompactionLiveRatio,
		Logger:              opts.Logger,
	}, e.idx, e.pool)
	if err != nil {
		e.log.WithError(err).Warn("engine: startup repair reported errors, continuing with the recoverable subset")
	}
	for _, dr := range report.Dirs {
		e.containers = append(e.containers, dr.Containers...)
	}
	e.ids.Notify(report.MaxBlockId)

	return e, &report, nil
}

func probeFSBlockSize(dir string, log logrus.FieldLogger) int64 {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		log.WithError(err).WithField("dir", dir).
			Warn("engine: statfs failed, falling back to the default filesystem block size")
		return defaultFSBlockSize
	}
	if stat.Bsize <= 0 {
		return defaultFSBlockSize
	}
	return int64(stat.Bsize)
}

// effectiveBlockLimit applies the KUDU-1508 carve-out: the kernel-quirk
// table, when the running kernel is known-affected, may only lower the
// operator-configured override, never raise it.
func effectiveBlockLimit(opts Options, fsBlockSize int64) int64 {
	var limit int64
	if opts.MaxBlocksPerContainerOverride != nil {
		limit = *opts.MaxBlocksPerContainerOverride
	}

	if kernelquirk.ProbeKernelQuirk() {
		if quirkLimit, ok := kernelquirk.LookupBlockLimit(fsBlockSize); ok {
			if limit <= 0 || quirkLimit < limit {
				limit = quirkLimit
			}
		}
	}
	return limit
}

func acquireLockFiles(dataDirs []string) ([]*os.File, error) {
	var locks []*os.File
	for _, dir := range dataDirs {
		path := filepath.Join(dir, lockFileName)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			releaseLockFiles(locks)
			return nil, fmt.Errorf("engine: open lock file %s: %w", path, err)
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close()
			releaseLockFiles(locks)
			return nil, fmt.Errorf("engine: data directory %s is already in use by another instance: %w", dir, err)
		}
		locks = append(locks, f)
	}
	return locks, nil
}

func releaseLockFiles(locks []*os.File) {
	for _, f := range locks {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}
}

// CreateBlock checks out (or creates) a container per hint and returns a
// fresh WritableBlock claimed against a newly minted BlockId.
func (e *LogBlockManager) CreateBlock(hint idgen.CreateHint) (*block.WritableBlock, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, base.ErrClosed
	}
	e.mu.Unlock()

	id := e.ids.Next()
	if err := e.idx.Claim(id); err != nil {
		return nil, err
	}

	dir, err := e.picker.Pick(hint)
	if err != nil {
		e.idx.Unclaim(id)
		return nil, err
	}

	c, ok := e.pool.Checkout(dir)
	if !ok {
		c, err = e.newContainer(dir)
		if err != nil {
			e.idx.Unclaim(id)
			return nil, err
		}
	}

	return block.New(c, id, e.idx, e.pool), nil
}

func (e *LogBlockManager) newContainer(dir string) (*container.Container, error) {
	stem := uuid.New().String()
	c, err := container.Create(dir, stem, e.fsBlockSize, e.blockLimit)
	if err != nil {
		return nil, fmt.Errorf("engine: create container in %s: %w", dir, err)
	}
	e.idx.MarkDirtyDir(dir)

	e.mu.Lock()
	e.containers = append(e.containers, c)
	e.mu.Unlock()
	return c, nil
}

// OpenBlock returns a ReadableBlock for id, or base.ErrNotFound if id is
// not currently live.
func (e *LogBlockManager) OpenBlock(id base.BlockId) (*block.ReadableBlock, error) {
	lb, ok := e.idx.Lookup(id)
	if !ok {
		return nil, base.ErrNotFound
	}
	return block.Open(lb, e.cache)
}

// NewCreationTransaction returns an empty batch of blocks to commit
// together.
func (e *LogBlockManager) NewCreationTransaction() *txn.CreationTransaction {
	return txn.NewCreationTransaction(e.idx, e.log)
}

// NewDeletionTransaction returns an empty batch of block IDs to delete
// together.
func (e *LogBlockManager) NewDeletionTransaction() *txn.DeletionTransaction {
	return txn.NewDeletionTransaction(e.idx, e.log, e.opts.EnableHolePunching)
}

// AllBlockIds returns a snapshot of every currently live block ID.
func (e *LogBlockManager) AllBlockIds() []base.BlockId {
	return e.idx.AllBlockIds()
}

// NotifyBlockId bumps the ID generator's floor so a subsequent CreateBlock
// never mints an ID that collides with one chosen externally.
func (e *LogBlockManager) NotifyBlockId(id base.BlockId) {
	e.ids.Notify(id)
}

// Consumption reports the memory tracker's current byte count, mostly for
// introspection and tests.
func (e *LogBlockManager) Consumption() int64 {
	return e.tracker.Consumption()
}

// Close closes every open container and releases the per-directory lock
// files. Idempotent.
func (e *LogBlockManager) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	for _, c := range e.containers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	releaseLockFiles(e.locks)
	return firstErr
}
