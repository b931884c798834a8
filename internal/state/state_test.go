package state

import (
	"path/filepath"
	"testing"

	"github.com/agentic-research/cominavi/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "state", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestStoreGetSetDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get("a")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set("a", "1"))
			require.NoError(t, s.Set("a", "2"))
			v, ok, err := s.Get("a")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "2", v)

			require.NoError(t, s.Delete("a"))
			_, ok, err = s.Get("a")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreDeletePrefix(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set("x/10/a", "1"))
			require.NoError(t, s.Set("x/10/b", "1"))
			require.NoError(t, s.Set("x/104/a", "1"))
			require.NoError(t, s.Set("x_10/a", "1"))

			require.NoError(t, s.DeletePrefix("x/10/"))

			for _, k := range []string{"x/10/a", "x/10/b"} {
				_, ok, err := s.Get(k)
				require.NoError(t, err)
				assert.False(t, ok, k)
			}
			for _, k := range []string{"x/104/a", "x_10/a"} {
				_, ok, err := s.Get(k)
				require.NoError(t, err)
				assert.True(t, ok, k)
			}
		})
	}
}

func TestMarkers(t *testing.T) {
	m := NewMarkers(NewMemoryStore())

	d, err := m.DownloadedDigest("104", api.FilePrimary)
	require.NoError(t, err)
	assert.Empty(t, d)

	require.NoError(t, m.SetDownloadedDigest("104", api.FilePrimary, "ABCDEF"))
	d, err = m.DownloadedDigest("104", api.FilePrimary)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", d)

	d, err = m.DownloadedDigest("104", api.FileImagery)
	require.NoError(t, err)
	assert.Empty(t, d, "markers are per kind")

	ok, err := m.ImagesExtracted("104", "FEED")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, m.SetImagesExtracted("104", "FEED"))
	ok, err = m.ImagesExtracted("104", "feed")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.SetDownloadedDigest("105", api.FilePrimary, "99"))
	require.NoError(t, m.ClearInstance("104"))

	d, err = m.DownloadedDigest("104", api.FilePrimary)
	require.NoError(t, err)
	assert.Empty(t, d)
	ok, err = m.ImagesExtracted("104", "feed")
	require.NoError(t, err)
	assert.False(t, ok)

	d, err = m.DownloadedDigest("105", api.FilePrimary)
	require.NoError(t, err)
	assert.Equal(t, "99", d, "other instances are untouched")
}
