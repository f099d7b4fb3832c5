package base

import "errors"

// Sentinel errors returned by the engine and its internal collaborators.
// Callers should match against these with errors.Is; wrapped variants carry
// additional context via fmt.Errorf("...: %w", Err...).
var (
	// ErrNotFound is returned when a block ID is unknown at read or delete.
	ErrNotFound = errors.New("logblock: block not found")
	// ErrAlreadyPresent is returned when a create observes an ID collision.
	ErrAlreadyPresent = errors.New("logblock: block id already present")
	// ErrCorruption is returned when metadata replay finds an irrecoverable
	// decode error.
	ErrCorruption = errors.New("logblock: metadata corruption")
	// ErrIOError wraps an underlying file operation failure.
	ErrIOError = errors.New("logblock: io error")
	// ErrDiskFailure is returned when a data directory becomes unusable.
	ErrDiskFailure = errors.New("logblock: disk failure")
	// ErrResourceExhausted is returned when the per-directory block limit
	// prevents container creation and no spare directory exists.
	ErrResourceExhausted = errors.New("logblock: resource exhausted")
	// ErrReadOnly is returned by any write attempted on a read-only or dead
	// container.
	ErrReadOnly = errors.New("logblock: container is read-only")
	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errors.New("logblock: engine closed")
)
