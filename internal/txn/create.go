// Package txn implements the multi-block creation and deletion
// transactions: batches of blocks across possibly many containers that must
// become durable (or fail) together from the caller's point of view, each
// following the container-level ordering protocol that keeps a crash from
// ever observing a CREATE without its data, or a dangling data region
// without its DELETE.
package txn

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"logblock/internal/base"
	"logblock/internal/block"
	"logblock/internal/container"
	"logblock/internal/index"
)

// CreationTransaction batches WritableBlocks created together so their
// CREATE records become visible to readers in one critical section.
// Visibility is all-or-nothing per container, not across the whole batch:
// when one container's commit fails, the blocks of the containers that did
// commit are still published.
//
// The commit protocol, run independently per container (since containers
// never share a data or metadata file):
//  1. fsync each container's data file, so every block's bytes are durable
//     before any CREATE record referencing them is appended.
//  2. append that container's CREATE records to its metadata log.
//  3. fsync each container's metadata file.
//  4. publish every block whose container committed to the index in one
//     critical section.
//
// A container that fails step 1-3 is marked read-only and its blocks are
// dropped from the batch; the transaction reports the failure but still
// publishes the blocks whose containers succeeded.
type CreationTransaction struct {
	idx    *index.Index
	log    logrus.FieldLogger
	blocks []*block.WritableBlock
}

// NewCreationTransaction returns an empty transaction. AddCreatedBlock must
// be called once the caller has finished appending to each block.
func NewCreationTransaction(idx *index.Index, log logrus.FieldLogger) *CreationTransaction {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CreationTransaction{idx: idx, log: log}
}

// AddCreatedBlock enrolls b in the transaction. b must not be finalized or
// closed independently; the transaction owns its commit from here on.
func (t *CreationTransaction) AddCreatedBlock(b *block.WritableBlock) {
	t.blocks = append(t.blocks, b)
}

// CommitCreatedBlocks finalizes every enrolled block and durably publishes
// them grouped by container, per the ordering protocol. Blocks whose
// container failed are reported in the returned error but are not rolled
// back individually — the container itself is poisoned read-only, which is
// the crash-consistency boundary: the failure stays confined to that
// container, the other containers in the batch still commit and publish,
// and nothing already committed is undone.
func (t *CreationTransaction) CommitCreatedBlocks() error {
	type pending struct {
		c       *container.Container
		blocks  []*block.WritableBlock
		entries []index.LogBlock
		records []base.CreateRecord
	}
	byContainer := make(map[*container.Container]*pending)
	var order []*container.Container

	for _, b := range t.blocks {
		rec, err := b.Finalize()
		if err != nil {
			for _, pending := range byContainer {
				for _, finalized := range pending.blocks {
					t.idx.Unclaim(finalized.ID())
				}
			}
			t.idx.Unclaim(b.ID())
			return fmt.Errorf("txn: finalize block %s: %w", b.ID(), err)
		}
		c := b.Container()
		p, ok := byContainer[c]
		if !ok {
			p = &pending{c: c}
			byContainer[c] = p
			order = append(order, c)
		}
		p.blocks = append(p.blocks, b)
		p.entries = append(p.entries, index.LogBlock{
			Container: c,
			BlockId:   b.ID(),
			Offset:    rec.Offset,
			Length:    rec.Length,
		})
		p.records = append(p.records, rec)
	}

	var merr *multierror.Error
	var toPublish []index.LogBlock
	var committed []*block.WritableBlock

	for _, c := range order {
		p := byContainer[c]
		if err := t.commitContainer(p.c, p.records); err != nil {
			t.log.WithError(err).WithField("container", p.c.Name).
				Error("creation transaction: container commit failed, marking read-only")
			p.c.MarkReadOnly()
			merr = multierror.Append(merr, fmt.Errorf("container %s: %w", p.c.Name, err))
			for _, b := range p.blocks {
				t.idx.Unclaim(b.ID())
			}
			continue
		}
		toPublish = append(toPublish, p.entries...)
		committed = append(committed, p.blocks...)
	}

	if len(toPublish) > 0 {
		t.idx.Publish(toPublish)
		for _, b := range committed {
			b.MarkCommitted()
		}
	}

	for _, dir := range t.idx.TakeDirtyDirs() {
		if err := syncDir(dir); err != nil {
			t.log.WithError(err).WithField("dir", dir).Warn("creation transaction: directory fsync failed")
			merr = multierror.Append(merr, fmt.Errorf("fsync dir %s: %w", dir, err))
		}
	}

	return merr.ErrorOrNil()
}

func (t *CreationTransaction) commitContainer(c *container.Container, records []base.CreateRecord) error {
	if err := c.SyncData(); err != nil {
		return err
	}
	for _, r := range records {
		if err := c.AppendCreate(r); err != nil {
			return err
		}
	}
	return c.SyncMetadata()
}

// syncDir fsyncs a directory's own metadata (entry creation/rename), the
// POSIX-portable way to make a new file's presence in a directory durable.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
