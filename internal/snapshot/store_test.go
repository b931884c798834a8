package snapshot_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/cominavi/internal/snapshot"
	"github.com/agentic-research/cominavi/internal/snapshot/snapshottest"
	"github.com/agentic-research/cominavi/internal/syncerr"
)

func openSample(t *testing.T) (primary, imagery *snapshot.Store) {
	t.Helper()
	dir := t.TempDir()
	p, img := snapshottest.Sample()
	snapshottest.WritePrimary(t, filepath.Join(dir, "main.sqlite"), p)
	snapshottest.WriteImagery(t, filepath.Join(dir, "image.sqlite"), img)

	var err error
	primary, err = snapshot.Open(filepath.Join(dir, "main.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = primary.Close() })
	imagery, err = snapshot.Open(filepath.Join(dir, "image.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = imagery.Close() })
	return primary, imagery
}

func TestOpenMissing(t *testing.T) {
	_, err := snapshot.Open(filepath.Join(t.TempDir(), "nope.sqlite"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, syncerr.ErrStoreOpen))
	assert.Equal(t, syncerr.CodeStoreOpen, syncerr.Classify(err))
}

func TestOpenMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.sqlite")
	require.NoError(t, os.WriteFile(path, []byte("this is definitely not a sqlite database file, just text padding it out"), 0o644))
	_, err := snapshot.Open(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, syncerr.ErrStoreOpen))
}

func TestFetchAllRowOrderAndNulls(t *testing.T) {
	primary, _ := openSample(t)
	ctx := context.Background()

	floors, err := snapshot.FetchAll(ctx, primary, snapshot.Floors)
	require.NoError(t, err)
	require.Len(t, floors, 4)
	for i, f := range floors {
		assert.Equal(t, i+1, f.ID)
	}

	circles, err := snapshot.FetchAll(ctx, primary, snapshot.Circles)
	require.NoError(t, err)
	require.Len(t, circles, 4)
	require.NotNil(t, circles[0].CircleName)
	assert.Equal(t, "alphabeta", *circles[0].CircleName)
	assert.Nil(t, circles[3].CircleName)
	assert.Nil(t, circles[3].Description)
	require.NotNil(t, circles[3].BlockID)
	assert.Zero(t, *circles[3].BlockID)
}

func TestFetchWhereAndOne(t *testing.T) {
	primary, imagery := openSample(t)
	ctx := context.Background()

	day1, err := snapshot.FetchWhere(ctx, primary, snapshot.Floors, snapshot.Where("day = ?", 1))
	require.NoError(t, err)
	assert.Len(t, day1, 2)

	img, err := snapshot.FetchOne(ctx, imagery, snapshot.CircleImages, snapshot.Where("comiketNo = ? AND id = ?", 104, 2))
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, snapshottest.CirclePNG2, img.CutImage)

	missing, err := snapshot.FetchOne(ctx, imagery, snapshot.CircleImages, snapshot.Where("id = ?", 999))
	require.NoError(t, err)
	assert.Nil(t, missing)

	null, err := snapshot.FetchOne(ctx, imagery, snapshot.CircleImages, snapshot.Where("id = ?", 3))
	require.NoError(t, err)
	require.NotNil(t, null)
	assert.Nil(t, null.CutImage)
}

func TestEachStopsOnError(t *testing.T) {
	_, imagery := openSample(t)
	stop := errors.New("stop")
	var seen []int
	err := snapshot.Each(context.Background(), imagery, snapshot.CircleImages, snapshot.Predicate{}, func(r snapshot.CircleImage) error {
		seen = append(seen, r.ID)
		if r.ID == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestCount(t *testing.T) {
	primary, imagery := openSample(t)
	ctx := context.Background()

	n, err := snapshot.Count(ctx, imagery, snapshot.CircleImages, snapshot.Predicate{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = snapshot.Count(ctx, primary, snapshot.Mappings, snapshot.Where("day = ?", 2))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestQueryMissingTable(t *testing.T) {
	primary, _ := openSample(t)
	// The primary snapshot has no image tables.
	_, err := snapshot.FetchAll(context.Background(), primary, snapshot.CommonImages)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ComiketCommonImage")
}
