package cache

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/cominavi/api"
	"github.com/agentic-research/cominavi/internal/state"
)

func TestLayout(t *testing.T) {
	r := NewWithFS("/cache", memfs.New(), nil)

	assert.Equal(t, "instance-104/circlems/databases", r.Rel("104", ScopeCircleMS, KindDatabases))
	assert.Equal(t, filepath.Join("/cache", "instance-104", "circlems", "databases", "main.sqlite"),
		r.DatabasePath("104", api.FilePrimary))
	assert.Equal(t, filepath.Join("/cache", "instance-104", "circlems", "databases", "image.sqlite"),
		r.DatabasePath("104", api.FileImagery))
	assert.Equal(t, "instance-104/circlems/images/cover.png", r.CoverFile("104"))
	assert.Equal(t, "instance-104/circlems/images/circles/1234.png", r.CircleImageFile("104", 1234))
}

func TestResolveCreates(t *testing.T) {
	root := t.TempDir()
	r := New(root, nil)

	dir, err := r.Resolve("104", ScopeCircleMS, KindImages, false)
	require.NoError(t, err)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "no directory without createIfNeeded")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Resolve("104", ScopeCircleMS, KindImages, true)
			assert.NoError(t, err)
			assert.Equal(t, dir, got)
		}()
	}
	wg.Wait()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCleanAll(t *testing.T) {
	fs := memfs.New()
	markers := state.NewMarkers(state.NewMemoryStore())
	r := NewWithFS("/cache", fs, markers)

	require.NoError(t, util.WriteFile(fs, r.CircleImageFile("104", 1), []byte("png"), 0o644))
	require.NoError(t, util.WriteFile(fs, r.CircleImageFile("105", 1), []byte("png"), 0o644))
	require.NoError(t, markers.SetDownloadedDigest("104", api.FilePrimary, "aa"))
	require.NoError(t, markers.SetImagesExtracted("104", "bb"))

	require.NoError(t, r.CleanAll("104"))

	_, err := fs.Stat("instance-104")
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = fs.Stat(r.CircleImageFile("105", 1))
	assert.NoError(t, err)

	d, err := markers.DownloadedDigest("104", api.FilePrimary)
	require.NoError(t, err)
	assert.Empty(t, d)
	ok, err := markers.ImagesExtracted("104", "bb")
	require.NoError(t, err)
	assert.False(t, ok)

	// Cleaning an absent instance is not an error.
	assert.NoError(t, r.CleanAll("999"))
}

func TestLockExclusive(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("advisory locks are unix-only")
	}
	r := New(t.TempDir(), nil)

	unlock, err := r.Lock("104")
	require.NoError(t, err)

	_, err = r.Lock("104")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)

	other, err := r.Lock("105")
	require.NoError(t, err)
	require.NoError(t, other())

	require.NoError(t, unlock())
	again, err := r.Lock("104")
	require.NoError(t, err)
	require.NoError(t, again())
}
