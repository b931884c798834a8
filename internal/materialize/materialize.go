// Package materialize extracts the circle cut images of an imagery snapshot
// into the cache as individual PNG files.
package materialize

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"

	"github.com/RoaringBitmap/roaring"
	billy "github.com/go-git/go-billy/v5"

	"github.com/agentic-research/cominavi/internal/cache"
	"github.com/agentic-research/cominavi/internal/snapshot"
	"github.com/agentic-research/cominavi/internal/state"
	"github.com/agentic-research/cominavi/internal/syncerr"
)

// DefaultSampleEvery is the progress reporting interval in rows.
const DefaultSampleEvery = 20

// Target identifies where one imagery snapshot is extracted to.
type Target struct {
	InstanceID    string
	ImageryDigest string
	// Dir is the FS-relative directory receiving {id}.png files.
	Dir string
}

// Result summarizes one extraction run.
type Result struct {
	// Cached is set when the completion marker short-circuited the run.
	Cached   bool
	Total    int
	Written  int
	Existing int
	Empty    int
	// OnDisk holds every circle id whose image file exists after the run.
	// Nil when Cached.
	OnDisk *roaring.Bitmap
}

type Materializer struct {
	FS      billy.Filesystem
	Markers *state.Markers
	// SampleEvery reports progress every N rows; <= 0 uses DefaultSampleEvery.
	SampleEvery int
	Logger      *slog.Logger
}

func (m *Materializer) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m *Materializer) sampleEvery() int {
	if m.SampleEvery <= 0 {
		return DefaultSampleEvery
	}
	return m.SampleEvery
}

// ProgressMessage formats the periodic extraction status line.
func ProgressMessage(i, count int) string {
	percent := 0
	if count > 0 {
		percent = i * 100 / count
	}
	return fmt.Sprintf("Extracting images %d%% (%d/%d)...", percent, i, count)
}

// MaterializeCircleImages writes every non-empty cut to {Dir}/{id}.png,
// skipping files that already exist, then records completion for the
// imagery digest. It is safe to rerun after an interruption.
func (m *Materializer) MaterializeCircleImages(ctx context.Context, imagery *snapshot.Store, tgt Target, onProgress func(string)) (Result, error) {
	log := m.logger().With("instance", tgt.InstanceID)

	done, err := m.Markers.ImagesExtracted(tgt.InstanceID, tgt.ImageryDigest)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", syncerr.ErrExtraction, err)
	}
	if done {
		log.Info("materialize: already extracted", "digest", tgt.ImageryDigest)
		return Result{Cached: true}, nil
	}

	if err := m.FS.MkdirAll(tgt.Dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("%w: mkdir %s: %w", syncerr.ErrExtraction, tgt.Dir, err)
	}

	count, err := snapshot.Count(ctx, imagery, snapshot.CircleImages, snapshot.Predicate{})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", syncerr.ErrExtraction, err)
	}

	res := Result{OnDisk: roaring.New()}
	every := m.sampleEvery()
	i := 0
	err = snapshot.Each(ctx, imagery, snapshot.CircleImages, snapshot.Predicate{}, func(row snapshot.CircleImage) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		i++
		res.Total++
		if i%every == 0 && onProgress != nil {
			onProgress(ProgressMessage(i, count))
		}

		if len(row.CutImage) == 0 {
			res.Empty++
			return nil
		}
		name := path.Join(tgt.Dir, strconv.Itoa(row.ID)+".png")
		exists, err := cache.Exists(m.FS, name)
		if err != nil {
			return err
		}
		if !exists {
			if err := cache.WriteAtomic(m.FS, name, row.CutImage); err != nil {
				return err
			}
			res.Written++
		} else {
			res.Existing++
		}
		if row.ID >= 0 {
			res.OnDisk.Add(uint32(row.ID))
		}
		return nil
	})
	if err != nil {
		log.Warn("materialize: aborted", "at", i, "count", count, "err", err)
		return Result{}, fmt.Errorf("%w: %w", syncerr.ErrExtraction, err)
	}

	if err := m.Markers.SetImagesExtracted(tgt.InstanceID, tgt.ImageryDigest); err != nil {
		return Result{}, fmt.Errorf("%w: %w", syncerr.ErrExtraction, err)
	}
	log.Info("materialize: done",
		"total", res.Total, "written", res.Written, "existing", res.Existing, "empty", res.Empty)
	return res, nil
}

// ScanDir returns the ids of every {id}.png present in dir. Used to rebuild
// the on-disk index when extraction was skipped through the marker.
func ScanDir(fs billy.Filesystem, dir string) (*roaring.Bitmap, error) {
	bm := roaring.New()
	entries, err := fs.ReadDir(dir)
	if err != nil {
		if ok, _ := cache.Exists(fs, dir); !ok {
			return bm, nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", syncerr.ErrIO, dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || path.Ext(name) != ".png" {
			continue
		}
		id, err := strconv.ParseUint(name[:len(name)-len(".png")], 10, 32)
		if err != nil {
			continue
		}
		bm.Add(uint32(id))
	}
	return bm, nil
}
