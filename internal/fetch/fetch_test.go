package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/cominavi/internal/syncerr"
)

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func md5hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func serveBytes(payload []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
}

// dirEntries lists the names in dir; used to prove no temp files are left.
func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFetchGzipPayload(t *testing.T) {
	plain := bytes.Repeat([]byte("circle "), 20_000) // several chunks
	payload := gzipped(t, plain)
	srv := serveBytes(payload)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "db", "main.sqlite")

	var last, calls int64
	var total int64
	monotonic := true
	f := &Fetcher{}
	err := f.Fetch(context.Background(), Request{URL: srv.URL, Dest: dest, Digest: md5hex(payload)},
		func(completed, tot int64) {
			if completed < last {
				monotonic = false
			}
			last, total = completed, tot
			calls++
		})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, plain, got, "payload is stored decompressed")
	assert.True(t, monotonic)
	assert.Equal(t, int64(len(payload)), last)
	assert.Equal(t, int64(len(payload)), total)
	assert.Positive(t, calls)
	assert.Equal(t, []string{"main.sqlite"}, dirEntries(t, filepath.Dir(dest)))
}

func TestFetchPlainPayloadReplacesDest(t *testing.T) {
	payload := []byte("SQLite format 3\x00 not really")
	srv := serveBytes(payload)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "image.sqlite")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))

	f := &Fetcher{}
	require.NoError(t, f.Fetch(context.Background(), Request{URL: srv.URL, Dest: dest}, nil))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFetchBearerToken(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	f := &Fetcher{Tokens: StaticToken("s3cret")}
	require.NoError(t, f.Fetch(context.Background(),
		Request{URL: srv.URL, Dest: filepath.Join(t.TempDir(), "f")}, nil))
	assert.Equal(t, "Bearer s3cret", auth.Load())
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "main.sqlite")
	f := &Fetcher{}
	err := f.Fetch(context.Background(), Request{URL: srv.URL, Dest: dest}, nil)
	require.Error(t, err)

	var de *DownloadError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusInternalServerError, de.Status)
	assert.True(t, errors.Is(err, syncerr.ErrDownload))
	assert.Equal(t, syncerr.CodeDownload, syncerr.Classify(err))
	assert.NoFileExists(t, dest)
	assert.Empty(t, dirEntries(t, dir))
}

func TestFetchDigestMismatchKeepsOldDest(t *testing.T) {
	payload := gzipped(t, []byte("new content"))
	srv := serveBytes(payload)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "main.sqlite")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o644))

	f := &Fetcher{}
	err := f.Fetch(context.Background(), Request{URL: srv.URL, Dest: dest, Digest: md5hex([]byte("other"))}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch")
	assert.True(t, errors.Is(err, syncerr.ErrDownload))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
	assert.Equal(t, []string{"main.sqlite"}, dirEntries(t, dir))
}

func TestFetchCancelledMidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(4*ChunkSize))
		_, _ = w.Write(bytes.Repeat([]byte{'a'}, ChunkSize))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "main.sqlite")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &Fetcher{}
	err := f.Fetch(ctx, Request{URL: srv.URL, Dest: dest}, func(completed, total int64) {
		cancel()
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, syncerr.ErrDownload))
	assert.NoFileExists(t, dest)
	assert.Empty(t, dirEntries(t, dir), "temp files are removed")
}

func TestFetchTruncatedGzip(t *testing.T) {
	payload := gzipped(t, bytes.Repeat([]byte("z"), 100_000))
	payload = payload[:len(payload)/2]
	srv := serveBytes(payload)
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "main.sqlite")
	f := &Fetcher{}
	err := f.Fetch(context.Background(), Request{URL: srv.URL, Dest: dest}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gunzip")
	assert.NoFileExists(t, dest)
	assert.Empty(t, dirEntries(t, dir))
}
