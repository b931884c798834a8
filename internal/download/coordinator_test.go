package download

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/cominavi/api"
	"github.com/agentic-research/cominavi/internal/cache"
	"github.com/agentic-research/cominavi/internal/fetch"
	"github.com/agentic-research/cominavi/internal/state"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []fetch.Request
	fn    func(ctx context.Context, req fetch.Request, onProgress fetch.ProgressFunc) error
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetch.Request, onProgress fetch.ProgressFunc) error {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(ctx, req, onProgress)
}

func (f *fakeFetcher) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.URL)
	}
	return out
}

// writeChunks simulates a fetch: progress in n steps, then the file appears.
func writeChunks(n int, chunk int64) func(context.Context, fetch.Request, fetch.ProgressFunc) error {
	return func(ctx context.Context, req fetch.Request, onProgress fetch.ProgressFunc) error {
		for i := 1; i <= n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			onProgress(int64(i)*chunk, int64(n)*chunk)
		}
		if err := os.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
			return err
		}
		return os.WriteFile(req.Dest, []byte(req.URL), 0o644)
	}
}

func fixture(t *testing.T) (*cache.Resolver, *state.Markers, []Entry) {
	t.Helper()
	markers := state.NewMarkers(state.NewMemoryStore())
	r := cache.New(t.TempDir(), markers)
	m := api.DatasetManifest{
		Primary: api.RemoteFile{URL: "https://example.test/main.gz", Digest: "aaaa"},
		Imagery: api.RemoteFile{URL: "https://example.test/image.gz", Digest: "bbbb"},
	}
	return r, markers, Entries("104", m, r)
}

func TestEntries(t *testing.T) {
	r, _, entries := fixture(t)
	require.Len(t, entries, 2)
	assert.Equal(t, api.FilePrimary, entries[0].Kind)
	assert.Equal(t, r.DatabasePath("104", api.FilePrimary), entries[0].LocalPath)
	assert.Equal(t, api.FileImagery, entries[1].Kind)
	assert.Equal(t, "bbbb", entries[1].Digest)
}

func TestSkipOnMatch(t *testing.T) {
	_, markers, entries := fixture(t)
	primary := entries[0]
	require.NoError(t, os.MkdirAll(filepath.Dir(primary.LocalPath), 0o755))
	require.NoError(t, os.WriteFile(primary.LocalPath, []byte("db"), 0o644))
	require.NoError(t, markers.SetDownloadedDigest("104", api.FilePrimary, "AAAA"))

	ff := &fakeFetcher{fn: writeChunks(3, 10)}
	c := &Coordinator{Fetcher: ff, Markers: markers}

	var seen []Aggregate
	require.NoError(t, c.DownloadAll(context.Background(), entries, func(a Aggregate) { seen = append(seen, a) }))

	assert.Equal(t, []string{"https://example.test/image.gz"}, ff.urls())
	require.NotEmpty(t, seen)
	for _, a := range seen {
		_, hasPrimary := a.File(api.FilePrimary)
		assert.False(t, hasPrimary, "skipped entries never appear in progress")
	}
}

func TestSkipNeedsFile(t *testing.T) {
	_, markers, entries := fixture(t)
	require.NoError(t, markers.SetDownloadedDigest("104", api.FilePrimary, "aaaa"))
	c := &Coordinator{Markers: markers}

	skip, err := c.ShouldSkip(entries[0])
	require.NoError(t, err)
	assert.False(t, skip, "marker without file is not a cache hit")
}

func TestNothingToDownload(t *testing.T) {
	_, markers, entries := fixture(t)
	for _, e := range entries {
		require.NoError(t, os.MkdirAll(filepath.Dir(e.LocalPath), 0o755))
		require.NoError(t, os.WriteFile(e.LocalPath, nil, 0o644))
		require.NoError(t, markers.SetDownloadedDigest(e.InstanceID, e.Kind, e.Digest))
	}
	ff := &fakeFetcher{fn: writeChunks(1, 1)}
	c := &Coordinator{Fetcher: ff, Markers: markers}

	called := false
	require.NoError(t, c.DownloadAll(context.Background(), entries, func(Aggregate) { called = true }))
	assert.False(t, called)
	assert.Empty(t, ff.urls())
}

func TestAggregateMonotonic(t *testing.T) {
	_, markers, entries := fixture(t)
	ff := &fakeFetcher{fn: writeChunks(50, 1000)}
	c := &Coordinator{Fetcher: ff, Markers: markers, Estimates: Estimates{api.FilePrimary: 10, api.FileImagery: 20}}

	var mu sync.Mutex
	var seen []Aggregate
	require.NoError(t, c.DownloadAll(context.Background(), entries, func(a Aggregate) {
		mu.Lock()
		seen = append(seen, a)
		mu.Unlock()
	}))

	require.NotEmpty(t, seen)
	first := seen[0]
	assert.Equal(t, int64(30), first.TotalBytes(), "seeded with estimates")
	assert.Zero(t, first.CompletedBytes())

	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].CompletedBytes(), seen[i-1].CompletedBytes())
	}
	last := seen[len(seen)-1]
	assert.Equal(t, int64(100_000), last.TotalBytes(), "Content-Length replaces estimates")
	assert.Equal(t, int64(100_000), last.CompletedBytes())
	assert.InDelta(t, 1.0, last.FractionCompleted(), 1e-9)

	for _, e := range entries {
		d, err := markers.DownloadedDigest(e.InstanceID, e.Kind)
		require.NoError(t, err)
		assert.Equal(t, e.Digest, d)
	}
}

func TestTrackerClampsRegressions(t *testing.T) {
	var seen []Aggregate
	tr := &tracker{files: []Progress{{Kind: api.FilePrimary, TotalBytes: 100}}, onProgress: func(a Aggregate) { seen = append(seen, a) }}
	tr.update(0, 50, -1)
	tr.update(0, 20, -1)
	tr.update(0, 60, 0)
	require.Len(t, seen, 3)
	assert.Equal(t, int64(50), seen[1].CompletedBytes())
	assert.Equal(t, int64(60), seen[2].CompletedBytes())
	assert.Equal(t, int64(100), seen[2].TotalBytes(), "unknown totals keep the estimate")

	// Published copies do not alias the live slots.
	seen[0].Files[0].CompletedBytes = 999
	assert.Equal(t, int64(50), seen[1].Files[0].CompletedBytes)
}

func TestFractionCompleted(t *testing.T) {
	assert.Zero(t, Aggregate{}.FractionCompleted())
	a := Aggregate{Files: []Progress{{TotalBytes: 10, CompletedBytes: 5}, {TotalBytes: 10, CompletedBytes: 15}}}
	assert.InDelta(t, 1.0, a.FractionCompleted(), 1e-9)
	a.Files[1].CompletedBytes = 0
	assert.InDelta(t, 0.25, a.FractionCompleted(), 1e-9)
}

func TestFailureIsolation(t *testing.T) {
	_, markers, entries := fixture(t)
	errImagery := errors.New("imagery unavailable")

	ff := &fakeFetcher{}
	primaryOK := writeChunks(2, 10)
	ff.fn = func(ctx context.Context, req fetch.Request, onProgress fetch.ProgressFunc) error {
		if strings.HasSuffix(req.URL, "main.gz") {
			return primaryOK(ctx, req, onProgress)
		}
		// Fail only after the primary entry has been committed.
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if d, _ := markers.DownloadedDigest("104", api.FilePrimary); d != "" {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		return errImagery
	}
	c := &Coordinator{Fetcher: ff, Markers: markers}

	err := c.DownloadAll(context.Background(), entries, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errImagery)

	d, err := markers.DownloadedDigest("104", api.FilePrimary)
	require.NoError(t, err)
	assert.Equal(t, "aaaa", d)
	d, err = markers.DownloadedDigest("104", api.FileImagery)
	require.NoError(t, err)
	assert.Empty(t, d)

	retry := &fakeFetcher{fn: writeChunks(1, 10)}
	c.Fetcher = retry
	require.NoError(t, c.DownloadAll(context.Background(), entries, nil))
	assert.Equal(t, []string{"https://example.test/image.gz"}, retry.urls())
}

func TestDownloadAllOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload for " + r.URL.Path))
	}))
	defer srv.Close()

	markers := state.NewMarkers(state.NewMemoryStore())
	r := cache.New(t.TempDir(), markers)
	m := api.DatasetManifest{
		Primary: api.RemoteFile{URL: srv.URL + "/main", Digest: md5hex("payload for /main")},
		Imagery: api.RemoteFile{URL: srv.URL + "/image", Digest: md5hex("payload for /image")},
	}
	entries := Entries("104", m, r)
	c := &Coordinator{Fetcher: &fetch.Fetcher{}, Markers: markers}
	require.NoError(t, c.DownloadAll(context.Background(), entries, nil))

	skip, err := c.ShouldSkip(entries[0])
	require.NoError(t, err)
	assert.True(t, skip)

	got, err := os.ReadFile(r.DatabasePath("104", api.FileImagery))
	require.NoError(t, err)
	assert.Equal(t, "payload for /image", string(got))
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
