package logblock

import (
	"github.com/sirupsen/logrus"

	"logblock/internal/engine"
	"logblock/internal/idgen"
)

// Option configures a BlockManager at Open time, following the teacher
// lineage's functional-options idiom.
type Option func(*engine.Options)

// WithMaxBlocksPerContainer overrides the kernel-quirk table's lookup,
// capping (never raising past the quirk's own cap) how many blocks a
// single container may ever hold.
func WithMaxBlocksPerContainer(n int64) Option {
	return func(o *engine.Options) {
		o.MaxBlocksPerContainerOverride = &n
	}
}

// WithMetadataCompactionLiveRatio sets the live-fraction threshold below
// which startup repair rewrites a container's metadata file.
func WithMetadataCompactionLiveRatio(ratio float64) Option {
	return func(o *engine.Options) {
		o.MetadataCompactionLiveRatio = ratio
	}
}

// WithFileCacheCapacity sets the shared reader file-descriptor budget.
func WithFileCacheCapacity(capacity int) Option {
	return func(o *engine.Options) {
		o.FileCacheCapacity = capacity
	}
}

// WithFSBlockSizeOverride skips the statfs probe, for tests and for hosts
// where the probe is unavailable.
func WithFSBlockSizeOverride(size int64) Option {
	return func(o *engine.Options) {
		o.FSBlockSizeOverride = size
	}
}

// WithHolePunching toggles whether deletions punch holes immediately
// (default true) or merely accumulate as reclaimable garbage until the
// next startup repair.
func WithHolePunching(enabled bool) Option {
	return func(o *engine.Options) {
		o.EnableHolePunching = enabled
	}
}

// WithIDGenerator substitutes a caller-supplied block ID allocator for the
// default atomic counter.
func WithIDGenerator(gen idgen.IDGenerator) Option {
	return func(o *engine.Options) {
		o.IDGenerator = gen
	}
}

// WithDirectoryPicker substitutes a caller-supplied placement policy for
// the default round-robin picker.
func WithDirectoryPicker(picker idgen.DirectoryPicker) Option {
	return func(o *engine.Options) {
		o.DirectoryPicker = picker
	}
}

// WithLogger overrides the default package-level logrus logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *engine.Options) {
		o.Logger = log
	}
}
