// Package download fans the snapshot fetches of one instance out
// concurrently and folds their byte counters into a single aggregate.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/cominavi/api"
	"github.com/agentic-research/cominavi/internal/cache"
	"github.com/agentic-research/cominavi/internal/digest"
	"github.com/agentic-research/cominavi/internal/fetch"
	"github.com/agentic-research/cominavi/internal/state"
)

// Entry is one snapshot file of an instance. LocalPath is fully determined
// by (InstanceID, Kind).
type Entry struct {
	InstanceID string
	Kind       api.FileKind
	Digest     string
	URL        string
	LocalPath  string
}

// Entries builds the cache entries of a manifest in manifest order.
func Entries(instanceID string, m api.DatasetManifest, r *cache.Resolver) []Entry {
	out := make([]Entry, 0, len(api.Kinds))
	for _, k := range api.Kinds {
		f := m.File(k)
		out = append(out, Entry{
			InstanceID: instanceID,
			Kind:       k,
			Digest:     f.Digest,
			URL:        f.URL,
			LocalPath:  r.DatabasePath(instanceID, k),
		})
	}
	return out
}

// Estimates seeds the aggregate total before servers report Content-Length.
type Estimates map[api.FileKind]int64

// DefaultEstimates are typical compressed sizes of the two snapshots.
var DefaultEstimates = Estimates{
	api.FilePrimary: 4_880_130,
	api.FileImagery: 341_840_565,
}

// Fetcher is the part of fetch.Fetcher the coordinator uses.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request, onProgress fetch.ProgressFunc) error
}

// Coordinator downloads the entries that are not already cached.
type Coordinator struct {
	Fetcher   Fetcher
	Markers   *state.Markers
	Estimates Estimates // nil uses DefaultEstimates
	Logger    *slog.Logger
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Coordinator) estimate(kind api.FileKind) int64 {
	est := c.Estimates
	if est == nil {
		est = DefaultEstimates
	}
	return est[kind]
}

// ShouldSkip reports whether e is already present with the expected digest.
// The file itself is not re-hashed.
func (c *Coordinator) ShouldSkip(e Entry) (bool, error) {
	if _, err := os.Stat(e.LocalPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", e.LocalPath, err)
	}
	have, err := c.Markers.DownloadedDigest(e.InstanceID, e.Kind)
	if err != nil {
		return false, err
	}
	return digest.Equal(have, e.Digest), nil
}

// DownloadAll fetches every entry not skipped by ShouldSkip. onProgress is
// invoked with a fresh copy of the aggregate after every chunk of any file;
// calls are serialized and CompletedBytes never decreases across them.
// Each entry's marker is persisted as soon as that entry succeeds.
func (c *Coordinator) DownloadAll(ctx context.Context, entries []Entry, onProgress func(Aggregate)) error {
	var pending []Entry
	for _, e := range entries {
		skip, err := c.ShouldSkip(e)
		if err != nil {
			return err
		}
		if skip {
			c.logger().Info("download: cached", "instance", e.InstanceID, "kind", e.Kind)
			continue
		}
		pending = append(pending, e)
	}
	if len(pending) == 0 {
		return nil
	}

	agg := &tracker{onProgress: onProgress}
	for _, e := range pending {
		agg.files = append(agg.files, Progress{Kind: e.Kind, TotalBytes: c.estimate(e.Kind)})
	}
	agg.publish()

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range pending {
		g.Go(func() error {
			log := c.logger().With("instance", e.InstanceID, "kind", e.Kind)
			log.Info("download: start", "url", e.URL)
			err := c.Fetcher.Fetch(gctx, fetch.Request{URL: e.URL, Dest: e.LocalPath, Digest: e.Digest},
				func(completed, total int64) { agg.update(i, completed, total) })
			if err != nil {
				log.Warn("download: failed", "err", err)
				return fmt.Errorf("%s snapshot: %w", e.Kind, err)
			}
			if err := c.Markers.SetDownloadedDigest(e.InstanceID, e.Kind, e.Digest); err != nil {
				return err
			}
			log.Info("download: done")
			return nil
		})
	}
	return g.Wait()
}

// tracker owns the live aggregate; every mutation republishes while still
// holding the lock so observers see a totally ordered sequence.
type tracker struct {
	mu         sync.Mutex
	files      []Progress
	onProgress func(Aggregate)
}

func (t *tracker) update(slot int, completed, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &t.files[slot]
	if completed > p.CompletedBytes {
		p.CompletedBytes = completed
	}
	if total > 0 {
		p.TotalBytes = total
	}
	t.publishLocked()
}

func (t *tracker) publish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publishLocked()
}

func (t *tracker) publishLocked() {
	if t.onProgress == nil {
		return
	}
	t.onProgress(Aggregate{Files: append([]Progress(nil), t.files...)})
}
