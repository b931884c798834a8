package graph

import (
	"encoding/json"
	"errors"
	"io/fs"
	"path"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/cominavi/api"
	"github.com/agentic-research/cominavi/internal/catalog"
	"github.com/agentic-research/cominavi/internal/snapshot/snapshottest"
)

func TestMemoryStoreNodes(t *testing.T) {
	store := NewMemoryStore()
	store.AddRoot(&Node{ID: "days", Mode: fs.ModeDir, Children: []string{"days/1"}})
	store.AddNode(&Node{ID: "days/1", Mode: fs.ModeDir})
	store.AddRoot(&Node{ID: "days", Mode: fs.ModeDir, Children: []string{"days/1"}})

	roots, err := store.ListChildren("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"days"}, roots)

	n, err := store.GetNode("/days/1")
	require.NoError(t, err)
	assert.True(t, n.Mode.IsDir())

	_, err = store.GetNode("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.ListChildren("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, store.Len())
}

func TestReadContentInline(t *testing.T) {
	store := NewMemoryStore()
	store.AddNode(&Node{ID: "f", Data: []byte("hello world")})

	buf := make([]byte, 5)
	n, err := store.ReadContent("f", buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	n, err = store.ReadContent("f", buf, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReadContentLazy(t *testing.T) {
	store := NewMemoryStore()
	store.AddNode(&Node{ID: "img", Ref: &ContentRef{Path: "x.png", Size: 3}})

	_, err := store.ReadContent("img", make([]byte, 3), 0)
	assert.Error(t, err, "no resolver")

	calls := 0
	store.SetResolver(func(ref *ContentRef) ([]byte, error) {
		calls++
		if ref.Path != "x.png" {
			return nil, errors.New("unexpected path")
		}
		return []byte("png"), nil
	})
	for range 2 {
		buf := make([]byte, 8)
		n, err := store.ReadContent("img", buf, 0)
		require.NoError(t, err)
		assert.Equal(t, "png", string(buf[:n]))
	}
	assert.Equal(t, 1, calls)

	n, _ := store.GetNode("img")
	assert.Equal(t, int64(3), n.ContentSize())
}

func TestContentCacheEvicts(t *testing.T) {
	c := newContentCache(2)
	c.put("a", []byte("1"))
	c.put("b", []byte("2"))
	c.put("c", []byte("3"))
	_, ok := c.get("a")
	assert.False(t, ok)
	v, ok := c.get("c")
	require.True(t, ok)
	assert.Equal(t, "3", string(v))
}

func TestHotSwap(t *testing.T) {
	empty := NewMemoryStore()
	full := NewMemoryStore()
	full.AddRoot(&Node{ID: "catalog.json", Data: []byte("{}")})

	h := NewHotSwapGraph(empty)
	_, err := h.GetNode("catalog.json")
	assert.ErrorIs(t, err, ErrNotFound)

	h.Swap(full)
	n, err := h.GetNode("catalog.json")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n.ContentSize())
	roots, err := h.ListChildren("")
	require.NoError(t, err)
	assert.Equal(t, []string{"catalog.json"}, roots)
}

func sampleGraph() *api.CatalogGraph {
	no := snapshottest.SampleNo
	return &api.CatalogGraph{
		ID: "104", Number: no, Name: "コミックマーケット104",
		Days: []api.Day{
			{ID: "104_1", DayIndex: 1, Halls: []api.Hall{
				{ID: "104_1_E123", Name: "東123", MapFileBaseName: "E123", ExternalMapID: 1, Areas: []api.Area{
					{ID: "104_1_1_1", Name: "東1", ExternalAreaID: 1},
				}},
				{ID: "104_1_W12", Name: "西12", MapFileBaseName: "W12", ExternalMapID: 2, Areas: []api.Area{
					{ID: "104_1_2_2", Name: "西1", ExternalAreaID: 2},
				}},
			}},
			{ID: "104_2", DayIndex: 2, Halls: []api.Hall{
				{ID: "104_2_E123", Name: "東123", MapFileBaseName: "E123", ExternalMapID: 1, Areas: []api.Area{
					{ID: "104_2_1_1", Name: "東1", ExternalAreaID: 1},
					{ID: "104_2_1_3", Name: "東2", ExternalAreaID: 3},
				}},
			}},
		},
		Blocks: []api.Block{
			{ID: "104_1", Name: "A", ExternalBlockID: 1, ExternalAreaID: 1},
			{ID: "104_2", Name: "あ", ExternalBlockID: 2, ExternalAreaID: 2},
			{ID: "104_3", Name: "B", ExternalBlockID: 3, ExternalAreaID: 3},
		},
	}
}

func TestBuildCatalogTree(t *testing.T) {
	p, _ := snapshottest.Sample()
	images := memfs.New()
	dir := "instance-104/circlems/images/circles"
	require.NoError(t, util.WriteFile(images, path.Join(dir, "1.png"), snapshottest.CirclePNG1, 0o644))
	require.NoError(t, util.WriteFile(images, path.Join(dir, "2.png"), snapshottest.CirclePNG2, 0o644))

	store, err := BuildCatalogTree(TreeSource{
		Graph:    sampleGraph(),
		Index:    catalog.NewIndex(p.Circles, roaring.BitmapOf(1, 2)),
		Images:   images,
		ImageDir: dir,
		ModTime:  time.Unix(1700000000, 0),
	})
	require.NoError(t, err)

	roots, err := store.ListChildren("/")
	require.NoError(t, err)
	assert.Equal(t, []string{CatalogFile, DaysDir, CirclesDir}, roots)

	var g api.CatalogGraph
	cat, err := store.GetNode(CatalogFile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(cat.Data, &g))
	assert.Equal(t, 104, g.Number)

	kids, err := store.ListChildren("days/1/東123/東1/A")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"days/1/東123/東1/A/1.json", "days/1/東123/東1/A/1.png",
		"days/1/東123/東1/A/2.json", "days/1/東123/東1/A/2.png",
	}, kids)

	kids, err = store.ListChildren("days/1/西12/西1/あ")
	require.NoError(t, err)
	assert.Equal(t, []string{"days/1/西12/西1/あ/3.json"}, kids)

	// Day 2 has the blocks but no circles.
	kids, err = store.ListChildren("days/2/東123/東2/B")
	require.NoError(t, err)
	assert.Empty(t, kids)

	kids, err = store.ListChildren(CirclesDir)
	require.NoError(t, err)
	assert.Len(t, kids, 6)

	buf := make([]byte, 64)
	n, err := store.ReadContent("circles/2.png", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, snapshottest.CirclePNG2, buf[:n])

	node, err := store.GetNode("circles/1.json")
	require.NoError(t, err)
	var c map[string]any
	require.NoError(t, json.Unmarshal(node.Data, &c))
	assert.Equal(t, "alphabeta", c["circle_name"])
}

func TestBuildCatalogTreeWithoutImages(t *testing.T) {
	store, err := BuildCatalogTree(TreeSource{Graph: sampleGraph()})
	require.NoError(t, err)
	kids, err := store.ListChildren(CirclesDir)
	require.NoError(t, err)
	assert.Empty(t, kids)

	_, err = BuildCatalogTree(TreeSource{})
	assert.Error(t, err)
}

func TestChildNameCollision(t *testing.T) {
	g := sampleGraph()
	g.Days[0].Halls[1].Name = "東123"
	store, err := BuildCatalogTree(TreeSource{Graph: g})
	require.NoError(t, err)
	kids, err := store.ListChildren("days/1")
	require.NoError(t, err)
	assert.Equal(t, []string{"days/1/東123", "days/1/東123~W12"}, kids)

	assert.Equal(t, "a_b", segment("a/b"))
	assert.Equal(t, "_", segment(".."))
}
