package logblock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreateReadDelete(t *testing.T) {
	dir := t.TempDir()
	bm, err := Open([]string{dir}, WithFSBlockSizeOverride(4096))
	require.NoError(t, err)
	defer bm.Close()

	wb, err := bm.CreateBlock(CreateHint{})
	require.NoError(t, err)
	require.NoError(t, wb.Append([]byte("zero-copy, they said")))
	require.NoError(t, wb.Close())

	ids := bm.AllBlockIds()
	require.Len(t, ids, 1)

	rb, err := bm.OpenBlock(ids[0])
	require.NoError(t, err)
	defer rb.Close()

	buf := make([]byte, rb.Length())
	n, err := rb.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "zero-copy, they said", string(buf[:n]))
}

func TestOpenRejectsEmptyDataDirs(t *testing.T) {
	_, err := Open(nil)
	assert.Error(t, err)
}

func TestDeleteUnknownBlockReportsNotFound(t *testing.T) {
	dir := t.TempDir()
	bm, err := Open([]string{dir}, WithFSBlockSizeOverride(4096))
	require.NoError(t, err)
	defer bm.Close()

	dtx := bm.NewDeletionTransaction()
	dtx.AddDeletedBlockId(12345)
	err = dtx.CommitDeletedBlocks()
	assert.ErrorIs(t, err, ErrNotFound)
}
