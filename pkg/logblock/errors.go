package logblock

import "logblock/internal/base"

// Sentinel errors returned by a BlockManager. Callers match against these
// with errors.Is.
var (
	ErrNotFound          = base.ErrNotFound
	ErrAlreadyPresent    = base.ErrAlreadyPresent
	ErrCorruption        = base.ErrCorruption
	ErrIOError           = base.ErrIOError
	ErrDiskFailure       = base.ErrDiskFailure
	ErrResourceExhausted = base.ErrResourceExhausted
	ErrReadOnly          = base.ErrReadOnly
	ErrClosed            = base.ErrClosed
)
