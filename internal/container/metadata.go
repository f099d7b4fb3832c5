package container

import (
	"os"

	"logblock/internal/base"
	"logblock/internal/codec"
)

// metadataLog is the append-only record log backing a container's
// <stem>.metadata file. It is the direct descendant of the teacher
// lineage's write-ahead log: an append-only file that is replayed in full
// at open time and never read randomly afterward.
type metadataLog struct {
	file   *os.File
	cursor int64
}

func openMetadataLog(path string, flag int) (*metadataLog, error) {
	file, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &metadataLog{file: file, cursor: info.Size()}, nil
}

// appendCreate serializes and appends a CREATE record, returning the
// updated cursor.
func (m *metadataLog) appendCreate(r base.CreateRecord) (int64, error) {
	return m.append(codec.EncodeCreate(r))
}

// appendDelete serializes and appends a DELETE record, returning the
// updated cursor.
func (m *metadataLog) appendDelete(r base.DeleteRecord) (int64, error) {
	return m.append(codec.EncodeDelete(r))
}

func (m *metadataLog) append(frame []byte) (int64, error) {
	n, err := m.file.WriteAt(frame, m.cursor)
	if err != nil {
		return m.cursor, err
	}
	m.cursor += int64(n)
	return m.cursor, nil
}

func (m *metadataLog) sync() error {
	return m.file.Sync()
}

func (m *metadataLog) close() error {
	return m.file.Close()
}

// truncate cuts the file at offset, discarding anything past it. Used by
// repair to drop a truncated trailing frame.
func (m *metadataLog) truncate(offset int64) error {
	if err := m.file.Truncate(offset); err != nil {
		return err
	}
	m.cursor = offset
	return nil
}

// DeadRange is a data-file byte range that was live and then deleted within
// the same metadata file replay. Repair re-punches these on startup in case
// a crash landed between the DELETE record's append and its hole punch.
type DeadRange struct {
	BlockId  base.BlockId
	Offset   int64
	Length   int64
	TSMicros uint64
}

// ReplayResult is the outcome of replaying one metadata file from the start.
type ReplayResult struct {
	// Live is the set of records still live after the full replay: CREATE
	// inserts, DELETE removes.
	Live map[base.BlockId]base.CreateRecord
	// Deleted holds the data-file ranges of blocks that were created and
	// then deleted within this same metadata file, used by repair to
	// re-punch holes that may not have completed before a crash.
	Deleted map[base.BlockId]DeadRange
	// Anomalies holds the block IDs of live CREATE records dropped because
	// their range extends past the data file's actual end — recorded rather
	// than failing the whole container, per repair's tolerant-replay rule.
	Anomalies []base.BlockId
	// Truncated is true if the final frame in the file was a short tail
	// (recoverable: the file is truncated at ValidLength).
	Truncated bool
	// ValidLength is the offset of the last valid frame boundary.
	ValidLength int64
	// TotalCreated is the number of CREATE records observed, live or not;
	// used to seed a container's total_blocks_written counter.
	TotalCreated int64
}

// replayMetadata reads buf (the full contents of a metadata file) and
// reconstructs the live-record map per §4.G of the block manager's design:
// duplicate CREATE for a live ID, or DELETE for an absent ID, is corruption
// fatal to this container. A truncated trailing frame is reported but is not
// an error — the caller truncates the file and continues.
func replayMetadata(buf []byte) (ReplayResult, error) {
	res := ReplayResult{
		Live:    make(map[base.BlockId]base.CreateRecord),
		Deleted: make(map[base.BlockId]DeadRange),
	}

	r := codec.NewReader(buf)
	for r.Len() > 0 {
		before := r.Pos()
		rec, _, err := codec.Decode(r)
		if err != nil {
			if err == codec.ErrTruncatedFrame {
				res.Truncated = true
				res.ValidLength = int64(before)
				return res, nil
			}
			return res, base.ErrCorruption
		}

		switch rec.Kind {
		case base.RecordCreate:
			if _, live := res.Live[rec.Create.BlockId]; live {
				return res, base.ErrCorruption
			}
			res.Live[rec.Create.BlockId] = rec.Create
			res.TotalCreated++
		case base.RecordDelete:
			created, live := res.Live[rec.Delete.BlockId]
			if !live {
				return res, base.ErrCorruption
			}
			delete(res.Live, rec.Delete.BlockId)
			res.Deleted[rec.Delete.BlockId] = DeadRange{
				BlockId:  rec.Delete.BlockId,
				Offset:   created.Offset,
				Length:   created.Length,
				TSMicros: rec.Delete.TSMicros,
			}
		}
	}
	res.ValidLength = int64(len(buf))
	return res, nil
}
