// Package syncer drives one catalog instance from a manifest to a queryable,
// fully cached dataset and publishes its progress as a Readiness stream.
//
// A run is strictly sequential: download, open stores, project, extract
// images, preload circles. Any failure ends the run in the Failed state; a
// fresh Orchestrator over the same cache resumes from the persisted markers.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/cominavi/api"
	"github.com/agentic-research/cominavi/internal/cache"
	"github.com/agentic-research/cominavi/internal/catalog"
	"github.com/agentic-research/cominavi/internal/download"
	"github.com/agentic-research/cominavi/internal/fetch"
	"github.com/agentic-research/cominavi/internal/materialize"
	"github.com/agentic-research/cominavi/internal/projector"
	"github.com/agentic-research/cominavi/internal/snapshot"
)

const (
	StageOpenDatabases = "Initializing databases..."
	StagePreload       = "Preloading dataset..."
	StageExtract       = "Extracting images..."
	StageCircles       = "Fetching circle list..."
	StageFinalize      = "Finalizing..."
)

var (
	// ErrNotReady is returned by queries before the run reached Ready.
	ErrNotReady = errors.New("catalog is not ready")
	// ErrNotFound is returned when a requested image does not exist.
	ErrNotFound = errors.New("not found")
)

// Options configures a run.
type Options struct {
	InstanceID string
	Manifest   api.DatasetManifest
	Resolver   *cache.Resolver
	// Fetcher defaults to a fetch.Fetcher using http.DefaultClient.
	Fetcher     download.Fetcher
	Estimates   download.Estimates
	SampleEvery int
	Logger      *slog.Logger
}

// Orchestrator owns one sync run and, once Ready, the open snapshot stores
// backing the query methods.
type Orchestrator struct {
	opts   Options
	log    *slog.Logger
	status *Broadcaster
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	graph   *api.CatalogGraph
	index   *catalog.Index
	primary *snapshot.Store
	imagery *snapshot.Store
	closed  bool
}

// Start begins a run in the background and returns immediately. The run
// stops early if ctx is cancelled or Close is called.
func Start(ctx context.Context, opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Fetcher == nil {
		opts.Fetcher = &fetch.Fetcher{Logger: log}
	}
	runCtx, cancel := context.WithCancel(ctx)
	o := &Orchestrator{
		opts:   opts,
		log:    log.With("instance", opts.InstanceID),
		status: NewBroadcaster(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go o.run(runCtx)
	return o
}

func (o *Orchestrator) InstanceID() string { return o.opts.InstanceID }

func (o *Orchestrator) Manifest() api.DatasetManifest { return o.opts.Manifest }

func (o *Orchestrator) Resolver() *cache.Resolver { return o.opts.Resolver }

// Done is closed when the run has reached Ready or Failed.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

func (o *Orchestrator) Current() Readiness { return o.status.Current() }

// Subscribe delivers the current Readiness and every later change to fn.
func (o *Orchestrator) Subscribe(fn func(Readiness)) (cancel func()) {
	return o.status.Subscribe(fn)
}

// Wait blocks until the run is terminal or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) (Readiness, error) {
	select {
	case <-o.done:
		return o.status.Current(), nil
	case <-ctx.Done():
		return o.status.Current(), ctx.Err()
	}
}

func (o *Orchestrator) publish(r Readiness) {
	o.status.Publish(r)
}

func (o *Orchestrator) stage(name string) {
	o.log.Debug("sync: stage", "stage", name)
	o.publish(initializingState(name))
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.done)
	if err := o.sync(ctx); err != nil {
		o.log.Error("sync: failed", "code", failedState(err).Code, "err", err)
		o.publish(failedState(err))
	}
}

func (o *Orchestrator) sync(ctx context.Context) error {
	id := o.opts.InstanceID
	r := o.opts.Resolver
	if r == nil {
		return errors.New("sync: no cache resolver configured")
	}
	if err := o.opts.Manifest.Validate(); err != nil {
		return err
	}

	unlock, err := r.Lock(id)
	if err != nil {
		return fmt.Errorf("lock instance %s: %w", id, err)
	}
	defer func() {
		if err := unlock(); err != nil {
			o.log.Warn("sync: unlock", "err", err)
		}
	}()

	o.publish(downloadingState(download.Aggregate{}))
	coord := &download.Coordinator{
		Fetcher:   o.opts.Fetcher,
		Markers:   r.Markers(),
		Estimates: o.opts.Estimates,
		Logger:    o.log,
	}
	entries := download.Entries(id, o.opts.Manifest, r)
	if err := coord.DownloadAll(ctx, entries, func(a download.Aggregate) {
		o.publish(downloadingState(a))
	}); err != nil {
		return err
	}

	o.stage(StageOpenDatabases)
	primary, err := snapshot.Open(r.DatabasePath(id, api.FilePrimary))
	if err != nil {
		return err
	}
	imagery, err := snapshot.Open(r.DatabasePath(id, api.FileImagery))
	if err != nil {
		_ = primary.Close()
		return err
	}
	published := false
	defer func() {
		if !published {
			_ = primary.Close()
			_ = imagery.Close()
		}
	}()

	o.stage(StagePreload)
	proj := &projector.Projector{FS: r.FS(), CoverPath: r.CoverFile(id), Logger: o.log}
	g, err := proj.Project(ctx, primary, imagery)
	if err != nil {
		return err
	}

	o.stage(StageExtract)
	mat := &materialize.Materializer{
		FS:          r.FS(),
		Markers:     r.Markers(),
		SampleEvery: o.opts.SampleEvery,
		Logger:      o.log,
	}
	tgt := materialize.Target{InstanceID: id, ImageryDigest: o.opts.Manifest.Imagery.Digest, Dir: r.CircleImagesDir(id)}
	res, err := mat.MaterializeCircleImages(ctx, imagery, tgt, o.stage)
	if err != nil {
		return err
	}
	onDisk := res.OnDisk
	if res.Cached {
		if onDisk, err = materialize.ScanDir(r.FS(), tgt.Dir); err != nil {
			o.log.Warn("sync: scan image cache", "err", err)
			onDisk = roaring.New()
		}
	}

	o.stage(StageCircles)
	ix, err := catalog.Load(ctx, primary, onDisk)
	if err != nil {
		o.log.Warn("sync: circle list unavailable", "err", err)
		ix = catalog.Empty()
	}

	o.stage(StageFinalize)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	o.mu.Lock()
	o.graph, o.index = g, ix
	o.primary, o.imagery = primary, imagery
	published = true
	// Publishing under the lock makes a non-nil Catalog imply Ready.
	o.publish(Readiness{State: Ready})
	o.mu.Unlock()

	o.log.Info("sync: ready", "days", len(g.Days), "circles", ix.Len(), "images", ix.ImageCount())
	return nil
}

// Catalog returns the graph once Ready, nil before.
func (o *Orchestrator) Catalog() *api.CatalogGraph {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.graph
}

// view is the state published at Ready.
type view struct {
	graph   *api.CatalogGraph
	index   *catalog.Index
	imagery *snapshot.Store
}

func (o *Orchestrator) ready() (view, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.graph == nil || o.closed {
		return view{}, ErrNotReady
	}
	return view{graph: o.graph, index: o.index, imagery: o.imagery}, nil
}

// Index exposes the circle index once Ready.
func (o *Orchestrator) Index() (*catalog.Index, error) {
	v, err := o.ready()
	return v.index, err
}

func (o *Orchestrator) Circles() ([]snapshot.Circle, error) {
	v, err := o.ready()
	if err != nil {
		return nil, err
	}
	return v.index.Circles(), nil
}

func (o *Orchestrator) SearchCircles(keyword string) ([]snapshot.Circle, error) {
	v, err := o.ready()
	if err != nil {
		return nil, err
	}
	return v.index.Search(keyword), nil
}

func (o *Orchestrator) BlockGroups(circles []snapshot.Circle) ([]catalog.BlockGroup, error) {
	v, err := o.ready()
	if err != nil {
		return nil, err
	}
	return catalog.BlockGroups(v.graph, circles), nil
}

// CircleImage returns the circle cut from the image cache, falling back to
// the imagery snapshot for circles that were never extracted.
func (o *Orchestrator) CircleImage(ctx context.Context, circleID int) ([]byte, error) {
	v, err := o.ready()
	if err != nil {
		return nil, err
	}
	r := o.opts.Resolver
	name := r.CircleImageFile(o.opts.InstanceID, circleID)
	if data, err := util.ReadFile(r.FS(), name); err == nil && len(data) > 0 {
		return data, nil
	}

	row, err := snapshot.FetchOne(ctx, v.imagery, snapshot.CircleImages,
		snapshot.Where("comiketNo = ? AND id = ?", v.graph.Number, circleID))
	if err != nil {
		return nil, err
	}
	if row == nil || len(row.CutImage) == 0 {
		return nil, fmt.Errorf("circle image %d: %w", circleID, ErrNotFound)
	}
	return row.CutImage, nil
}

// CommonImage looks up a shared image by name, e.g. the cover "0001".
func (o *Orchestrator) CommonImage(ctx context.Context, name string) (*snapshot.CommonImage, error) {
	v, err := o.ready()
	if err != nil {
		return nil, err
	}
	row, err := snapshot.FetchOne(ctx, v.imagery, snapshot.CommonImages,
		snapshot.Where("comiketNo = ? AND name = ?", v.graph.Number, name))
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("common image %q: %w", name, ErrNotFound)
	}
	return row, nil
}

// FloorLayer selects one of the floor map image layers.
type FloorLayer string

const (
	LayerBase  FloorLayer = "WMP"
	LayerGenre FloorLayer = "WGR"
)

// ParseFloorLayer accepts "base"/"genre" or the raw layer codes.
func ParseFloorLayer(s string) (FloorLayer, error) {
	switch s {
	case "base", string(LayerBase):
		return LayerBase, nil
	case "genre", string(LayerGenre):
		return LayerGenre, nil
	}
	return "", fmt.Errorf("unknown floor map layer %q", s)
}

// FloorMapName is the common image name of a floor map, e.g. "LWMP1E123".
func FloorMapName(layer FloorLayer, day int, areaFragment string) string {
	return "L" + string(layer) + strconv.Itoa(day) + areaFragment
}

func (o *Orchestrator) FloorMap(ctx context.Context, layer FloorLayer, day int, areaFragment string) (*snapshot.CommonImage, error) {
	return o.CommonImage(ctx, FloorMapName(layer, day, areaFragment))
}

// CleanAllCaches removes the instance's cached files and markers. The next
// run starts from scratch.
func (o *Orchestrator) CleanAllCaches() error {
	return o.opts.Resolver.CleanAll(o.opts.InstanceID)
}

// Close stops an unfinished run, waits for it, and closes the stores.
func (o *Orchestrator) Close() error {
	o.cancel()
	<-o.done

	o.mu.Lock()
	o.closed = true
	primary, imagery := o.primary, o.imagery
	o.primary, o.imagery = nil, nil
	o.mu.Unlock()

	var errs []error
	if primary != nil {
		errs = append(errs, primary.Close())
	}
	if imagery != nil {
		errs = append(errs, imagery.Close())
	}
	o.status.Close()
	return errors.Join(errs...)
}
