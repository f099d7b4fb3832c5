package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logblock/internal/base"
	"logblock/internal/checkout"
	"logblock/internal/container"
	"logblock/internal/filecache"
	"logblock/internal/index"
	"logblock/internal/memtrack"
)

func newTestContainer(t *testing.T) *container.Container {
	t.Helper()
	dir := t.TempDir()
	c, err := container.Create(dir, "000000000000000000000000000001", 4096, 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestWritableBlockCloseCommitsAndPublishes(t *testing.T) {
	c := newTestContainer(t)
	idx := index.New(memtrack.New())
	pool := checkout.New()
	require.NoError(t, idx.Claim(1))

	wb := New(c, 1, idx, pool)
	require.NoError(t, wb.Append([]byte("hello")))
	require.NoError(t, wb.Close())

	lb, ok := idx.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, int64(5), lb.Length)
	assert.Equal(t, 1, pool.Len(c.Dir))
}

func TestWritableBlockAbortDoesNotPublish(t *testing.T) {
	c := newTestContainer(t)
	idx := index.New(memtrack.New())
	pool := checkout.New()
	require.NoError(t, idx.Claim(2))

	wb := New(c, 2, idx, pool)
	require.NoError(t, wb.Append([]byte("discarded")))
	wb.Abort()

	_, ok := idx.Lookup(2)
	assert.False(t, ok)
	assert.Equal(t, 1, pool.Len(c.Dir))
}

func TestWritableBlockAppendAfterCloseFails(t *testing.T) {
	c := newTestContainer(t)
	idx := index.New(memtrack.New())
	pool := checkout.New()
	require.NoError(t, idx.Claim(3))

	wb := New(c, 3, idx, pool)
	require.NoError(t, wb.Close())
	assert.ErrorIs(t, wb.Append([]byte("x")), base.ErrClosed)
}

func TestReadableBlockBoundedRead(t *testing.T) {
	c := newTestContainer(t)
	idx := index.New(memtrack.New())
	pool := checkout.New()
	require.NoError(t, idx.Claim(4))

	wb := New(c, 4, idx, pool)
	require.NoError(t, wb.Append([]byte("0123456789")))
	require.NoError(t, wb.Close())

	lb, ok := idx.Lookup(4)
	require.True(t, ok)

	cache := filecache.New(4)
	rb, err := Open(lb, cache)
	require.NoError(t, err)
	defer rb.Close()

	buf := make([]byte, 4)
	n, err := rb.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "2345", string(buf))

	// Reading past the block's own length truncates rather than reading
	// into the next block's bytes.
	buf2 := make([]byte, 100)
	n2, err := rb.ReadAt(buf2, 8)
	require.NoError(t, err)
	assert.Equal(t, 2, n2)
	assert.Equal(t, "89", string(buf2[:n2]))
}

func TestReadableBlockRetainRelease(t *testing.T) {
	c := newTestContainer(t)
	idx := index.New(memtrack.New())
	pool := checkout.New()
	require.NoError(t, idx.Claim(5))

	wb := New(c, 5, idx, pool)
	require.NoError(t, wb.Append([]byte("payload")))
	require.NoError(t, wb.Close())

	lb, _ := idx.Lookup(5)
	cache := filecache.New(4)
	rb, err := Open(lb, cache)
	require.NoError(t, err)

	rb.Retain()
	require.NoError(t, rb.Close())
	assert.Equal(t, 1, cache.Len())
	require.NoError(t, rb.Close())
	assert.Equal(t, 0, cache.Len())
}
