// Package logblock is the public entry point for the log-structured block
// manager: open a BlockManager rooted at one or more data directories, then
// create, read, and delete opaque byte blocks through it. It is a thin
// facade over internal/engine; the type aliases below let a caller name
// these types without importing an internal package directly.
package logblock

import (
	"logblock/internal/base"
	"logblock/internal/block"
	"logblock/internal/idgen"
	"logblock/internal/txn"
)

// BlockId identifies a block, unique within one BlockManager instance.
type BlockId = base.BlockId

// CreateHint carries a caller's placement preference for a new block.
type CreateHint = idgen.CreateHint

// WritableBlock accumulates bytes for a new block. See block.WritableBlock
// for the full lifecycle (Append, Finalize, Close, Abort).
type WritableBlock = block.WritableBlock

// ReadableBlock is a refcounted handle onto a published block's bytes.
type ReadableBlock = block.ReadableBlock

// CreationTransaction batches a set of WritableBlocks to publish together.
type CreationTransaction = txn.CreationTransaction

// DeletionTransaction batches a set of block IDs to delete together.
type DeletionTransaction = txn.DeletionTransaction

// BlockManager is the full set of operations a BlockManager instance
// exposes.
type BlockManager interface {
	CreateBlock(hint CreateHint) (*WritableBlock, error)
	OpenBlock(id BlockId) (*ReadableBlock, error)
	NewCreationTransaction() *CreationTransaction
	NewDeletionTransaction() *DeletionTransaction
	AllBlockIds() []BlockId
	NotifyBlockId(id BlockId)
	Close() error
}
