package repair

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logblock/internal/base"
	"logblock/internal/block"
	"logblock/internal/checkout"
	"logblock/internal/container"
	"logblock/internal/index"
	"logblock/internal/memtrack"
	"logblock/internal/txn"
)

func TestRunSeedsLiveBlocksAndPool(t *testing.T) {
	dir := t.TempDir()

	c, err := container.Create(dir, "000000000000000000000000000001", 4096, 0)
	require.NoError(t, err)
	idxSetup := index.New(memtrack.New())
	poolSetup := checkout.New()
	require.NoError(t, idxSetup.Claim(1))
	wb := block.New(c, 1, idxSetup, poolSetup)
	require.NoError(t, wb.Append([]byte("hello world")))
	require.NoError(t, wb.Close())
	require.NoError(t, c.Close())

	idx := index.New(memtrack.New())
	pool := checkout.New()
	report, err := Run(Config{DataDirs: []string{dir}, FSBlockSize: 4096}, idx, pool)
	require.NoError(t, err)

	lb, ok := idx.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, int64(11), lb.Length)
	assert.Equal(t, base.BlockId(1), report.MaxBlockId)
	assert.Equal(t, 1, pool.Len(dir))
}

func TestRunCompactsSparseMetadataBelowLiveRatio(t *testing.T) {
	dir := t.TempDir()
	stem := "000000000000000000000000000003"

	c, err := container.Create(dir, stem, 4096, 0)
	require.NoError(t, err)
	idxSetup := index.New(memtrack.New())
	poolSetup := checkout.New()

	require.NoError(t, idxSetup.Claim(1))
	wb1 := block.New(c, 1, idxSetup, poolSetup)
	require.NoError(t, wb1.Append([]byte("keep me")))
	require.NoError(t, wb1.Close())

	require.NoError(t, idxSetup.Claim(2))
	wb2 := block.New(c, 2, idxSetup, poolSetup)
	require.NoError(t, wb2.Append([]byte("delete me")))
	require.NoError(t, wb2.Close())

	dtx := txn.NewDeletionTransaction(idxSetup, nil, false)
	dtx.AddDeletedBlockId(2)
	require.NoError(t, dtx.CommitDeletedBlocks())
	require.NoError(t, c.Close())

	metaPath := filepath.Join(dir, stem+container.MetadataSuffix)
	before, err := os.Stat(metaPath)
	require.NoError(t, err)

	idx := index.New(memtrack.New())
	pool := checkout.New()
	_, err = Run(Config{DataDirs: []string{dir}, FSBlockSize: 4096, CompactionLiveRatio: 0.9}, idx, pool)
	require.NoError(t, err)

	after, err := os.Stat(metaPath)
	require.NoError(t, err)
	assert.Less(t, after.Size(), before.Size())

	_, ok := idx.Lookup(1)
	assert.True(t, ok)
	_, ok = idx.Lookup(2)
	assert.False(t, ok)
}

func TestRunDropsOutOfBoundsRecordButKeepsContainerAlive(t *testing.T) {
	dir := t.TempDir()
	stem := "000000000000000000000000000004"

	c, err := container.Create(dir, stem, 4096, 0)
	require.NoError(t, err)
	idxSetup := index.New(memtrack.New())
	poolSetup := checkout.New()
	require.NoError(t, idxSetup.Claim(1))
	wb := block.New(c, 1, idxSetup, poolSetup)
	require.NoError(t, wb.Append([]byte("hello world")))
	require.NoError(t, wb.Close())

	require.NoError(t, c.AppendCreate(base.CreateRecord{
		BlockId: 2,
		Offset:  1 << 20,
		Length:  11,
	}))
	require.NoError(t, c.SyncMetadata())
	require.NoError(t, c.Close())

	idx := index.New(memtrack.New())
	pool := checkout.New()
	report, err := Run(Config{DataDirs: []string{dir}, FSBlockSize: 4096}, idx, pool)
	require.NoError(t, err)

	_, ok := idx.Lookup(1)
	assert.True(t, ok, "block 1 should survive despite block 2's out-of-bounds record")
	_, ok = idx.Lookup(2)
	assert.False(t, ok, "block 2's out-of-bounds record should be dropped as an anomaly")

	require.Len(t, report.Dirs, 1)
	assert.Equal(t, 1, report.Dirs[0].ContainersOpened)
	assert.Equal(t, 0, report.Dirs[0].ContainersDead)
	assert.Equal(t, int64(1), report.Dirs[0].AnomaliesDropped)
}

func TestRunRepunchesDeletedRangeOnReplay(t *testing.T) {
	dir := t.TempDir()
	stem := "000000000000000000000000000005"

	c, err := container.Create(dir, stem, 4096, 0)
	require.NoError(t, err)
	idxSetup := index.New(memtrack.New())
	poolSetup := checkout.New()
	require.NoError(t, idxSetup.Claim(1))
	wb := block.New(c, 1, idxSetup, poolSetup)
	require.NoError(t, wb.Append([]byte("ephemeral")))
	require.NoError(t, wb.Close())

	dtx := txn.NewDeletionTransaction(idxSetup, nil, false)
	dtx.AddDeletedBlockId(1)
	require.NoError(t, dtx.CommitDeletedBlocks())
	require.NoError(t, c.Close())

	idx := index.New(memtrack.New())
	pool := checkout.New()
	report, err := Run(Config{DataDirs: []string{dir}, FSBlockSize: 4096}, idx, pool)
	require.NoError(t, err)

	// Whether the underlying filesystem actually supports FALLOC_FL_PUNCH_HOLE
	// varies by test environment, and runDir treats a punch failure as a
	// logged warning rather than a repair failure. Only the index-visible
	// outcome and the absence of a hard error are asserted here.
	_, ok := idx.Lookup(1)
	assert.False(t, ok)
	require.Len(t, report.Dirs, 1)
}

func TestRunUnlinksOrphanMetadataFile(t *testing.T) {
	dir := t.TempDir()
	stem := "000000000000000000000000000006"
	c, err := container.Create(dir, stem, 4096, 0)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, os.Remove(filepath.Join(dir, stem+container.DataSuffix)))

	idx := index.New(memtrack.New())
	pool := checkout.New()
	report, err := Run(Config{DataDirs: []string{dir}, FSBlockSize: 4096}, idx, pool)
	require.NoError(t, err)
	require.Len(t, report.Dirs, 1)
	assert.Len(t, report.Dirs[0].OrphanMetadataRemoved, 1)
	_, statErr := os.Stat(filepath.Join(dir, stem+container.MetadataSuffix))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunRemovesOrphanDataFile(t *testing.T) {
	dir := t.TempDir()
	c, err := container.Create(dir, "000000000000000000000000000002", 4096, 0)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, os.Remove(filepath.Join(dir, "000000000000000000000000000002"+container.MetadataSuffix)))

	idx := index.New(memtrack.New())
	pool := checkout.New()
	report, err := Run(Config{DataDirs: []string{dir}, FSBlockSize: 4096}, idx, pool)
	require.NoError(t, err)
	require.Len(t, report.Dirs, 1)
	assert.Len(t, report.Dirs[0].OrphanDataRemoved, 1)
}
