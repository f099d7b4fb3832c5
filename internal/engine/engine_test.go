package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logblock/internal/base"
	"logblock/internal/idgen"
)

func TestCreateReadDeleteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	e, report, err := Open(Options{DataDirs: []string{dir}, FSBlockSizeOverride: 4096})
	require.NoError(t, err)
	require.NotNil(t, report)
	defer e.Close()

	wb, err := e.CreateBlock(idgen.CreateHint{})
	require.NoError(t, err)
	require.NoError(t, wb.Append([]byte("payload bytes")))
	require.NoError(t, wb.Close())

	ids := e.AllBlockIds()
	require.Len(t, ids, 1)

	rb, err := e.OpenBlock(ids[0])
	require.NoError(t, err)
	buf := make([]byte, len("payload bytes"))
	n, err := rb.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "payload bytes", string(buf[:n]))
	require.NoError(t, rb.Close())

	dtx := e.NewDeletionTransaction()
	dtx.AddDeletedBlockId(ids[0])
	require.NoError(t, dtx.CommitDeletedBlocks())

	assert.Empty(t, e.AllBlockIds())
	_, err = e.OpenBlock(ids[0])
	assert.ErrorIs(t, err, base.ErrNotFound)
}

func TestCreationTransactionMultiBlock(t *testing.T) {
	dir := t.TempDir()
	e, _, err := Open(Options{DataDirs: []string{dir}, FSBlockSizeOverride: 4096})
	require.NoError(t, err)
	defer e.Close()

	ctx := e.NewCreationTransaction()
	wb1, err := e.CreateBlock(idgen.CreateHint{})
	require.NoError(t, err)
	require.NoError(t, wb1.Append([]byte("one")))
	ctx.AddCreatedBlock(wb1)

	wb2, err := e.CreateBlock(idgen.CreateHint{})
	require.NoError(t, err)
	require.NoError(t, wb2.Append([]byte("two")))
	ctx.AddCreatedBlock(wb2)

	require.NoError(t, ctx.CommitCreatedBlocks())
	assert.Len(t, e.AllBlockIds(), 2)

	require.NoError(t, wb1.Close())
	require.NoError(t, wb2.Close())
}

func TestReopenAfterCleanCloseRecoversBlocks(t *testing.T) {
	dir := t.TempDir()
	e1, _, err := Open(Options{DataDirs: []string{dir}, FSBlockSizeOverride: 4096})
	require.NoError(t, err)

	wb, err := e1.CreateBlock(idgen.CreateHint{})
	require.NoError(t, err)
	require.NoError(t, wb.Append([]byte("durable")))
	require.NoError(t, wb.Close())
	id := e1.AllBlockIds()[0]
	require.NoError(t, e1.Close())

	e2, report, err := Open(Options{DataDirs: []string{dir}, FSBlockSizeOverride: 4096})
	require.NoError(t, err)
	defer e2.Close()

	assert.Equal(t, id, report.MaxBlockId)
	lb, ok := e2.idx.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, int64(len("durable")), lb.Length)
}

func TestSecondOpenOnSameDirFails(t *testing.T) {
	dir := t.TempDir()
	e1, _, err := Open(Options{DataDirs: []string{dir}, FSBlockSizeOverride: 4096})
	require.NoError(t, err)
	defer e1.Close()

	_, _, err = Open(Options{DataDirs: []string{dir}, FSBlockSizeOverride: 4096})
	assert.Error(t, err)
}
