package container

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"logblock/internal/base"
	"logblock/internal/codec"
)

// DiscoverStems scans dir and returns the name of every stem with both a
// .data and a .metadata file present. A stem with only one of the two is
// reported separately so the caller can decide how to handle the orphan
// (the design treats a lone .data file as reclaimable garbage from a crash
// between data creation and metadata's first CREATE, since nothing ever
// advertised it as live).
func DiscoverStems(dir string) (paired []string, orphanData []string, orphanMeta []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("container: read dir %s: %w", dir, err)
	}

	hasData := make(map[string]bool)
	hasMeta := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, DataSuffix):
			hasData[strings.TrimSuffix(name, DataSuffix)] = true
		case strings.HasSuffix(name, MetadataSuffix):
			hasMeta[strings.TrimSuffix(name, MetadataSuffix)] = true
		}
	}

	for stem := range hasData {
		if hasMeta[stem] {
			paired = append(paired, stem)
		} else {
			orphanData = append(orphanData, stem)
		}
	}
	for stem := range hasMeta {
		if !hasData[stem] {
			orphanMeta = append(orphanMeta, stem)
		}
	}
	return paired, orphanData, orphanMeta, nil
}

// OpenAndReplay replays name's metadata file from scratch, reconciles it
// against its data file's actual size, and returns an opened Container
// seeded with the reconciled cursors plus the full replay result so the
// caller can seed the in-memory index. A truncated trailing metadata frame
// is dropped from disk before the container is opened for further writes.
func OpenAndReplay(dir, name string, fsBlockSize, blockLimit int64) (*Container, ReplayResult, error) {
	metaPath := filepath.Join(dir, name+MetadataSuffix)
	dataPath := filepath.Join(dir, name+DataSuffix)

	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, ReplayResult{}, fmt.Errorf("container: read metadata %s: %w", metaPath, err)
	}
	res, err := replayMetadata(metaBytes)
	if err != nil {
		return nil, res, fmt.Errorf("container %s: %w", name, err)
	}

	dataInfo, err := os.Stat(dataPath)
	if err != nil {
		return nil, res, fmt.Errorf("container: stat data %s: %w", dataPath, err)
	}
	dataSize := dataInfo.Size()
	for id, rec := range res.Live {
		if rec.Offset+rec.Length > dataSize {
			delete(res.Live, id)
			res.Anomalies = append(res.Anomalies, id)
		}
	}

	if res.Truncated {
		if err := os.Truncate(metaPath, res.ValidLength); err != nil {
			return nil, res, fmt.Errorf("container: truncate metadata %s: %w", metaPath, err)
		}
	}

	var liveBytes int64
	for _, rec := range res.Live {
		liveBytes += rec.Length
	}

	c, err := OpenExisting(dir, name, fsBlockSize, blockLimit,
		dataSize, res.ValidLength, liveBytes, int64(len(res.Live)), res.TotalCreated)
	if err != nil {
		return nil, res, err
	}
	return c, res, nil
}

// PeekMetadata replays name's metadata file without opening the container,
// so a caller can inspect the live fraction before deciding whether to
// compact it.
func PeekMetadata(dir, name string) (ReplayResult, error) {
	metaPath := filepath.Join(dir, name+MetadataSuffix)
	buf, err := os.ReadFile(metaPath)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("container: read metadata %s: %w", metaPath, err)
	}
	return replayMetadata(buf)
}

// CompactMetadataFile rewrites name's metadata file down to just the CREATE
// records in live, dropping every DELETE and every superseded CREATE. It
// writes to a temp file, fsyncs it, and renames it over the original so a
// crash mid-compaction never leaves a half-written metadata file in place.
// The data file is untouched; only the metadata log shrinks.
func CompactMetadataFile(dir, name string, live map[base.BlockId]base.CreateRecord) error {
	metaPath := filepath.Join(dir, name+MetadataSuffix)
	tmpPath := metaPath + ".compact"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("container: create compaction temp file %s: %w", tmpPath, err)
	}
	for _, rec := range live {
		if _, err := f.Write(codec.EncodeCreate(rec)); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("container: write compacted metadata %s: %w", tmpPath, err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("container: sync compacted metadata %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("container: close compacted metadata %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("container: rename compacted metadata into place %s: %w", metaPath, err)
	}
	return nil
}
