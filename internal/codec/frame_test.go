package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logblock/internal/base"
)

func TestEncodeDecodeCreate(t *testing.T) {
	want := base.CreateRecord{BlockId: 42, Offset: 4096, Length: 200, TSMicros: 123456}
	buf := EncodeCreate(want)

	rec, n, err := Decode(NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, base.RecordCreate, rec.Kind)
	assert.Equal(t, want, rec.Create)
}

func TestEncodeDecodeDelete(t *testing.T) {
	want := base.DeleteRecord{BlockId: 7, TSMicros: 99}
	buf := EncodeDelete(want)

	rec, n, err := Decode(NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, base.RecordDelete, rec.Kind)
	assert.Equal(t, want, rec.Delete)
}

func TestDecodeTruncatedTail(t *testing.T) {
	buf := EncodeCreate(base.CreateRecord{BlockId: 1, Offset: 0, Length: 1})
	for _, cut := range []int{0, 1, len(buf) - 1, len(buf) - 3} {
		_, _, err := Decode(NewReader(buf[:cut]))
		assert.ErrorIs(t, err, ErrTruncatedFrame, "cut=%d", cut)
	}
}

func TestDecodeCorruptChecksum(t *testing.T) {
	buf := EncodeCreate(base.CreateRecord{BlockId: 1, Offset: 0, Length: 1})
	buf[len(buf)-1] ^= 0xFF

	_, _, err := Decode(NewReader(buf))
	assert.ErrorIs(t, err, ErrCorruptFrame)
}

func TestDecodeStream(t *testing.T) {
	var buf []byte
	buf = append(buf, EncodeCreate(base.CreateRecord{BlockId: 1, Offset: 0, Length: 10})...)
	buf = append(buf, EncodeCreate(base.CreateRecord{BlockId: 2, Offset: 4096, Length: 20})...)
	buf = append(buf, EncodeDelete(base.DeleteRecord{BlockId: 1})...)

	r := NewReader(buf)
	var kinds []base.RecordKind
	for r.Len() > 0 {
		rec, _, err := Decode(r)
		require.NoError(t, err)
		kinds = append(kinds, rec.Kind)
	}
	assert.Equal(t, []base.RecordKind{base.RecordCreate, base.RecordCreate, base.RecordDelete}, kinds)
}
