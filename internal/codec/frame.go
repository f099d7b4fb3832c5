// Package codec encodes and decodes the length-prefixed metadata frames
// written to a container's metadata file. It has no knowledge of containers
// or the index; it only turns records into bytes and back.
//
//	frame  := length:uvarint kind:u8 payload:bytes[length-1] crc32c:u32
//	create := block_id:u64 offset:u64 length:u64 ts_micros:u64
//	delete := block_id:u64 ts_micros:u64
//
// crc32c covers kind||payload.
package codec

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"

	"logblock/internal/base"
)

// ErrTruncatedFrame is returned when a frame's length prefix or payload runs
// off the end of the stream. This is the only recoverable decode error;
// startup repair truncates the file at the last valid boundary and moves on.
var ErrTruncatedFrame = errors.New("codec: truncated frame")

// ErrCorruptFrame is returned when a frame's checksum does not match its
// payload. Unlike ErrTruncatedFrame, this is fatal for the container it
// occurs in wherever in the file it appears, including the very last frame:
// it is reported as corrupt, never silently dropped.
var ErrCorruptFrame = errors.New("codec: checksum mismatch")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const (
	createPayloadLen = 8 + 8 + 8 + 8 // block_id, offset, length, ts_micros
	deletePayloadLen = 8 + 8         // block_id, ts_micros
	crcLen           = 4
)

// EncodeCreate serializes a CREATE frame.
func EncodeCreate(r base.CreateRecord) []byte {
	payload := make([]byte, 1+createPayloadLen)
	payload[0] = byte(base.RecordCreate)
	binary.LittleEndian.PutUint64(payload[1:], uint64(r.BlockId))
	binary.LittleEndian.PutUint64(payload[9:], uint64(r.Offset))
	binary.LittleEndian.PutUint64(payload[17:], uint64(r.Length))
	binary.LittleEndian.PutUint64(payload[25:], r.TSMicros)
	return frame(payload)
}

// EncodeDelete serializes a DELETE frame.
func EncodeDelete(r base.DeleteRecord) []byte {
	payload := make([]byte, 1+deletePayloadLen)
	payload[0] = byte(base.RecordDelete)
	binary.LittleEndian.PutUint64(payload[1:], uint64(r.BlockId))
	binary.LittleEndian.PutUint64(payload[9:], r.TSMicros)
	return frame(payload)
}

// frame wraps a kind||payload buffer with its uvarint length prefix and
// trailing crc32c.
func frame(kindAndPayload []byte) []byte {
	sum := crc32.Checksum(kindAndPayload, castagnoli)

	lenBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(lenBuf, uint64(len(kindAndPayload)))

	out := make([]byte, 0, n+len(kindAndPayload)+crcLen)
	out = append(out, lenBuf[:n]...)
	out = append(out, kindAndPayload...)
	out = binary.LittleEndian.AppendUint32(out, sum)
	return out
}

// Record is the decoded union of a CREATE or DELETE frame. Exactly one of
// Create/Delete is populated, selected by Kind.
type Record struct {
	Kind   base.RecordKind
	Create base.CreateRecord
	Delete base.DeleteRecord
}

// Decode reads a single frame from r, returning the number of bytes
// consumed. A truncated length prefix, truncated payload, or truncated crc
// all map to ErrTruncatedFrame; a checksum mismatch maps to ErrCorruptFrame.
func Decode(r *bufferedReader) (Record, int, error) {
	length, lenN, err := r.readUvarint()
	if err != nil {
		return Record{}, lenN, ErrTruncatedFrame
	}
	if length < 1 {
		return Record{}, lenN, ErrCorruptFrame
	}

	kindAndPayload, err := r.readN(int(length))
	if err != nil {
		return Record{}, lenN + len(kindAndPayload), ErrTruncatedFrame
	}

	crcBuf, err := r.readN(crcLen)
	if err != nil {
		return Record{}, lenN + len(kindAndPayload) + len(crcBuf), ErrTruncatedFrame
	}

	want := binary.LittleEndian.Uint32(crcBuf)
	got := crc32.Checksum(kindAndPayload, castagnoli)
	total := lenN + len(kindAndPayload) + len(crcBuf)
	if want != got {
		return Record{}, total, ErrCorruptFrame
	}

	rec, err := decodePayload(kindAndPayload)
	if err != nil {
		return Record{}, total, err
	}
	return rec, total, nil
}

func decodePayload(kindAndPayload []byte) (Record, error) {
	kind := base.RecordKind(kindAndPayload[0])
	payload := kindAndPayload[1:]
	switch kind {
	case base.RecordCreate:
		if len(payload) != createPayloadLen {
			return Record{}, ErrCorruptFrame
		}
		return Record{
			Kind: kind,
			Create: base.CreateRecord{
				BlockId:  base.BlockId(binary.LittleEndian.Uint64(payload[0:])),
				Offset:   int64(binary.LittleEndian.Uint64(payload[8:])),
				Length:   int64(binary.LittleEndian.Uint64(payload[16:])),
				TSMicros: binary.LittleEndian.Uint64(payload[24:]),
			},
		}, nil
	case base.RecordDelete:
		if len(payload) != deletePayloadLen {
			return Record{}, ErrCorruptFrame
		}
		return Record{
			Kind: kind,
			Delete: base.DeleteRecord{
				BlockId:  base.BlockId(binary.LittleEndian.Uint64(payload[0:])),
				TSMicros: binary.LittleEndian.Uint64(payload[8:]),
			},
		}, nil
	default:
		return Record{}, ErrCorruptFrame
	}
}

// bufferedReader is a minimal byte-counting reader over an in-memory buffer,
// used by Decode so replay can track exactly how many bytes were consumed
// (needed to truncate at the last valid frame boundary).
type bufferedReader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for frame-at-a-time decoding.
func NewReader(buf []byte) *bufferedReader {
	return &bufferedReader{buf: buf}
}

// Pos returns the current read offset into the underlying buffer.
func (r *bufferedReader) Pos() int {
	return r.pos
}

// Len returns the number of unread bytes remaining.
func (r *bufferedReader) Len() int {
	return len(r.buf) - r.pos
}

func (r *bufferedReader) readN(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		rest := r.buf[r.pos:]
		r.pos = len(r.buf)
		return rest, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *bufferedReader) readUvarint() (uint64, int, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		// n == 0: buffer too short; n < 0: overflow, treat as truncated.
		consumed := len(r.buf) - r.pos
		r.pos = len(r.buf)
		return 0, consumed, io.ErrUnexpectedEOF
	}
	r.pos += n
	return v, n, nil
}
