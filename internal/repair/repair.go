// Package repair implements the engine's startup pass: discover every
// container in every configured data directory, replay its metadata log,
// reconcile it against its data file, and seed the in-memory index and
// checkout pool so the engine comes up with exactly the state a clean
// shutdown would have left behind. Each directory is processed
// independently and concurrently, since containers never span directories.
package repair

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"logblock/internal/base"
	"logblock/internal/checkout"
	"logblock/internal/container"
	"logblock/internal/index"
)

// DirReport summarizes what repair found and did in one data directory.
type DirReport struct {
	Dir                   string
	ContainersOpened      int
	ContainersDead        int
	LiveBlocks            int64
	LiveBytes             int64
	OrphanDataRemoved     []string
	OrphanMetadataRemoved []string
	AnomaliesDropped      int64
	RepunchedRanges       int64
	Containers            []*container.Container
}

// FsReport is the aggregate result of a full startup repair pass, handed
// back to the caller for logging and to the engine to seed its ID
// generator past every block ID it observed.
type FsReport struct {
	Dirs       []DirReport
	MaxBlockId base.BlockId
}

// Config bundles the parameters repair needs that are otherwise owned by
// the engine.
type Config struct {
	DataDirs    []string
	FSBlockSize int64
	BlockLimit  int64
	// CompactionLiveRatio triggers a metadata rewrite-and-rename for any
	// paired container whose live fraction (len(Live)/TotalCreated) falls
	// below this threshold before it is replayed for real. Zero disables
	// compaction.
	CompactionLiveRatio float64
	Logger              logrus.FieldLogger
}

// Run performs the full pass, publishing every live block it finds directly
// into idx via SeedLive and returning every reconciled Open container to
// pool so the engine can write into it immediately.
func Run(cfg Config, idx *index.Index, pool *checkout.Pool) (FsReport, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		merr   *multierror.Error
		report FsReport
	)

	for _, dir := range cfg.DataDirs {
		dir := dir
		wg.Add(1)
		go func() {
			defer wg.Done()
			dr, maxID, err := runDir(dir, cfg.FSBlockSize, cfg.BlockLimit, cfg.CompactionLiveRatio, idx, pool, log)
			mu.Lock()
			defer mu.Unlock()
			report.Dirs = append(report.Dirs, dr)
			if maxID > report.MaxBlockId {
				report.MaxBlockId = maxID
			}
			if err != nil {
				merr = multierror.Append(merr, err)
			}
		}()
	}
	wg.Wait()

	return report, merr.ErrorOrNil()
}

func runDir(dir string, fsBlockSize, blockLimit int64, compactionLiveRatio float64, idx *index.Index, pool *checkout.Pool, log logrus.FieldLogger) (DirReport, base.BlockId, error) {
	dr := DirReport{Dir: dir}
	var maxID base.BlockId

	paired, orphanData, orphanMeta, err := container.DiscoverStems(dir)
	if err != nil {
		return dr, maxID, err
	}

	for _, stem := range orphanMeta {
		metaPath := filepath.Join(dir, stem+container.MetadataSuffix)
		log.WithField("dir", dir).WithField("stem", stem).
			Error("repair: metadata file with no matching data file, container is corrupt, unlinking")
		if err := os.Remove(metaPath); err != nil {
			log.WithError(err).WithField("path", metaPath).
				Warn("repair: failed to remove orphan metadata file")
			continue
		}
		dr.OrphanMetadataRemoved = append(dr.OrphanMetadataRemoved, metaPath)
	}

	for _, stem := range orphanData {
		dataPath := filepath.Join(dir, stem+container.DataSuffix)
		if err := os.Remove(dataPath); err != nil {
			log.WithError(err).WithField("path", dataPath).
				Warn("repair: failed to remove orphan data file")
			continue
		}
		dr.OrphanDataRemoved = append(dr.OrphanDataRemoved, dataPath)
		log.WithField("path", dataPath).Info("repair: removed orphan data file from an interrupted create")
	}

	var merr *multierror.Error
	for _, stem := range paired {
		if compactionLiveRatio > 0 {
			maybeCompactMetadata(dir, stem, compactionLiveRatio, log)
		}

		c, res, err := container.OpenAndReplay(dir, stem, fsBlockSize, blockLimit)
		if err != nil {
			dr.ContainersDead++
			merr = multierror.Append(merr, err)
			log.WithError(err).WithField("dir", dir).WithField("stem", stem).
				Error("repair: container failed to reconcile, marking dead")
			continue
		}

		for id, rec := range res.Live {
			idx.SeedLive(index.LogBlock{
				Container: c,
				BlockId:   id,
				Offset:    rec.Offset,
				Length:    rec.Length,
			})
			if id > maxID {
				maxID = id
			}
			dr.LiveBlocks++
			dr.LiveBytes += rec.Length
		}
		for _, id := range res.Anomalies {
			if id > maxID {
				maxID = id
			}
			dr.AnomaliesDropped++
			log.WithField("dir", dir).WithField("stem", stem).WithField("block_id", id).
				Error("repair: CREATE record extends past data file end, dropping block")
		}
		for id, dead := range res.Deleted {
			if id > maxID {
				maxID = id
			}
			if err := c.PunchHole(dead.Offset, dead.Length); err != nil {
				log.WithError(err).WithField("dir", dir).WithField("stem", stem).WithField("block_id", id).
					Warn("repair: re-punch of a deleted range failed, leaving as reclaimable garbage")
				continue
			}
			dr.RepunchedRanges++
		}

		if c.State() == base.ContainerOpen {
			pool.Seed(dir, c)
		}
		dr.Containers = append(dr.Containers, c)
		dr.ContainersOpened++
	}

	return dr, maxID, merr.ErrorOrNil()
}

// maybeCompactMetadata peeks at stem's metadata file and, if its live
// fraction falls below ratio, rewrites it down to just the live CREATE
// records before the real replay in OpenAndReplay runs. Compaction is
// best-effort: any failure here just leaves the original metadata file in
// place, which OpenAndReplay will then replay as-is.
func maybeCompactMetadata(dir, stem string, ratio float64, log logrus.FieldLogger) {
	peek, err := container.PeekMetadata(dir, stem)
	if err != nil || peek.Truncated || peek.TotalCreated == 0 {
		return
	}
	live := float64(len(peek.Live)) / float64(peek.TotalCreated)
	if live >= ratio {
		return
	}
	if err := container.CompactMetadataFile(dir, stem, peek.Live); err != nil {
		log.WithError(err).WithField("dir", dir).WithField("stem", stem).
			Warn("repair: metadata compaction failed, continuing with the uncompacted file")
		return
	}
	log.WithField("dir", dir).WithField("stem", stem).WithField("live_ratio", live).
		Info("repair: compacted metadata file")
}
