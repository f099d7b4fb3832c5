package txn

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"logblock/internal/base"
	"logblock/internal/container"
	"logblock/internal/index"
)

// DeletionTransaction batches a set of block IDs to remove together. The
// commit protocol is metadata-before-data: once a block's DELETE record is
// durable, a crash can never resurrect it on replay even if the hole punch
// that follows never runs, so a failed or skipped punch only costs disk
// space, never correctness.
//
//  1. remove the IDs from the live index, so no reader can start a fresh
//     read of them after this point.
//  2. append DELETE records per container and fsync each metadata file.
//  3. best-effort fallocate(FALLOC_FL_PUNCH_HOLE) the reclaimed byte ranges.
type DeletionTransaction struct {
	idx        *index.Index
	log        logrus.FieldLogger
	punchHoles bool
	ids        []base.BlockId
}

// NewDeletionTransaction returns an empty transaction. When punchHoles is
// false, reclaimed ranges are left as garbage for the next startup repair
// to punch instead of being punched immediately.
func NewDeletionTransaction(idx *index.Index, log logrus.FieldLogger, punchHoles bool) *DeletionTransaction {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DeletionTransaction{idx: idx, log: log, punchHoles: punchHoles}
}

// AddDeletedBlockId enrolls id for deletion.
func (t *DeletionTransaction) AddDeletedBlockId(id base.BlockId) {
	t.ids = append(t.ids, id)
}

// CommitDeletedBlocks removes every enrolled ID, returning base.ErrNotFound
// (joined via multierror, one per missing ID) for any that were not live.
// IDs that were found are deleted regardless of whether others were not.
func (t *DeletionTransaction) CommitDeletedBlocks() error {
	removed, notFound := t.idx.Remove(t.ids)

	var merr *multierror.Error
	for _, id := range notFound {
		merr = multierror.Append(merr, fmt.Errorf("block %s: %w", id, base.ErrNotFound))
	}

	byContainer := make(map[*container.Container][]index.LogBlock)
	var order []*container.Container
	for _, lb := range removed {
		if _, ok := byContainer[lb.Container]; !ok {
			order = append(order, lb.Container)
		}
		byContainer[lb.Container] = append(byContainer[lb.Container], lb)
	}

	now := uint64(time.Now().UnixMicro())
	for _, c := range order {
		blocks := byContainer[c]
		if err := t.commitContainer(c, blocks, now); err != nil {
			t.log.WithError(err).WithField("container", c.Name).
				Error("deletion transaction: container commit failed, marking read-only")
			c.MarkReadOnly()
			merr = multierror.Append(merr, fmt.Errorf("container %s: %w", c.Name, err))
			continue
		}
		if !t.punchHoles {
			continue
		}
		for _, lb := range blocks {
			if err := c.PunchHole(lb.Offset, lb.Length); err != nil {
				// Space reclamation is best-effort; the block is already
				// durably deleted in metadata.
				t.log.WithError(err).WithField("block", lb.BlockId).
					Warn("deletion transaction: hole punch failed, leaking disk space until compaction")
			}
		}
	}

	return merr.ErrorOrNil()
}

func (t *DeletionTransaction) commitContainer(c *container.Container, blocks []index.LogBlock, now uint64) error {
	for _, lb := range blocks {
		if err := c.AppendDelete(base.DeleteRecord{BlockId: lb.BlockId, TSMicros: now}, lb.Length); err != nil {
			return err
		}
	}
	return c.SyncMetadata()
}
