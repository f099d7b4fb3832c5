package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logblock/internal/base"
	"logblock/internal/block"
	"logblock/internal/checkout"
	"logblock/internal/container"
	"logblock/internal/index"
	"logblock/internal/memtrack"
)

func newTxnTestContainer(t *testing.T, name string) *container.Container {
	t.Helper()
	dir := t.TempDir()
	c, err := container.Create(dir, name, 4096, 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCreationTransactionPublishesAcrossContainers(t *testing.T) {
	idx := index.New(memtrack.New())
	pool := checkout.New()
	c1 := newTxnTestContainer(t, "c1")
	c2 := newTxnTestContainer(t, "c2")

	require.NoError(t, idx.Claim(1))
	require.NoError(t, idx.Claim(2))

	b1 := block.New(c1, 1, idx, pool)
	require.NoError(t, b1.Append([]byte("alpha")))
	b2 := block.New(c2, 2, idx, pool)
	require.NoError(t, b2.Append([]byte("beta")))

	tx := NewCreationTransaction(idx, nil)
	tx.AddCreatedBlock(b1)
	tx.AddCreatedBlock(b2)
	require.NoError(t, tx.CommitCreatedBlocks())

	lb1, ok := idx.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, int64(5), lb1.Length)
	lb2, ok := idx.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, int64(4), lb2.Length)

	// Close should be a clean no-op: the transaction already committed.
	require.NoError(t, b1.Close())
	require.NoError(t, b2.Close())
}

func TestDeletionTransactionRemovesAndReportsMissing(t *testing.T) {
	idx := index.New(memtrack.New())
	pool := checkout.New()
	c := newTxnTestContainer(t, "c1")

	require.NoError(t, idx.Claim(1))
	b := block.New(c, 1, idx, pool)
	require.NoError(t, b.Append([]byte("payload")))
	require.NoError(t, b.Close())

	dtx := NewDeletionTransaction(idx, nil, true)
	dtx.AddDeletedBlockId(1)
	dtx.AddDeletedBlockId(99)

	err := dtx.CommitDeletedBlocks()
	require.Error(t, err)
	assert.ErrorIs(t, err, base.ErrNotFound)

	_, ok := idx.Lookup(1)
	assert.False(t, ok)
}
