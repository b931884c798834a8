// Package catalog holds the preloaded circle list of an edition and answers
// keyword searches and block groupings over it.
package catalog

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/cominavi/api"
	"github.com/agentic-research/cominavi/internal/snapshot"
)

// Index is immutable once built and safe for concurrent readers. Positions
// in the bitmaps are offsets into circles.
type Index struct {
	circles []snapshot.Circle
	byID    map[int]int
	byBlock map[int]*roaring.Bitmap
	images  *roaring.Bitmap
}

// NewIndex indexes circles in the given order. images is the set of circle
// ids with an extracted cut; nil means none are known.
func NewIndex(circles []snapshot.Circle, images *roaring.Bitmap) *Index {
	if images == nil {
		images = roaring.New()
	}
	ix := &Index{
		circles: circles,
		byID:    make(map[int]int, len(circles)),
		byBlock: make(map[int]*roaring.Bitmap),
		images:  images,
	}
	for pos, c := range circles {
		if _, dup := ix.byID[c.ID]; !dup {
			ix.byID[c.ID] = pos
		}
		block := blockOf(c)
		bm, ok := ix.byBlock[block]
		if !ok {
			bm = roaring.New()
			ix.byBlock[block] = bm
		}
		bm.Add(uint32(pos))
	}
	return ix
}

// Empty is the index used when the circle list could not be loaded.
func Empty() *Index {
	return NewIndex(nil, nil)
}

// Load reads every circle of the primary snapshot in row order.
func Load(ctx context.Context, primary *snapshot.Store, images *roaring.Bitmap) (*Index, error) {
	circles, err := snapshot.FetchAll(ctx, primary, snapshot.Circles)
	if err != nil {
		return nil, fmt.Errorf("load circles: %w", err)
	}
	return NewIndex(circles, images), nil
}

func (ix *Index) Len() int { return len(ix.circles) }

// Circles returns the full list in source order. Callers must not modify it.
func (ix *Index) Circles() []snapshot.Circle { return ix.circles }

func (ix *Index) Circle(id int) (snapshot.Circle, bool) {
	pos, ok := ix.byID[id]
	if !ok {
		return snapshot.Circle{}, false
	}
	return ix.circles[pos], true
}

// HasImage reports whether the circle's cut was extracted to the cache.
func (ix *Index) HasImage(id int) bool {
	return id >= 0 && ix.images.Contains(uint32(id))
}

// ImageCount is the number of circles with an extracted cut.
func (ix *Index) ImageCount() uint64 { return ix.images.GetCardinality() }

// InBlock returns the circles placed in the block, in source order.
func (ix *Index) InBlock(blockID int) []snapshot.Circle {
	bm, ok := ix.byBlock[blockID]
	if !ok {
		return nil
	}
	return ix.at(bm)
}

// Search splits keyword on single spaces, ignores empty tokens, and returns
// the circles in which every token is a case-sensitive substring of the pen
// name, circle name or description. No tokens matches everything.
func (ix *Index) Search(keyword string) []snapshot.Circle {
	var tokens []string
	for _, tok := range strings.Split(keyword, " ") {
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 {
		return slices.Clone(ix.circles)
	}

	var hits *roaring.Bitmap
	for _, tok := range tokens {
		bm := roaring.New()
		for pos := range ix.circles {
			if hits != nil && !hits.Contains(uint32(pos)) {
				continue
			}
			if matches(&ix.circles[pos], tok) {
				bm.Add(uint32(pos))
			}
		}
		if hits == nil {
			hits = bm
		} else {
			hits.And(bm)
		}
		if hits.IsEmpty() {
			return nil
		}
	}
	return ix.at(hits)
}

func (ix *Index) at(bm *roaring.Bitmap) []snapshot.Circle {
	out := make([]snapshot.Circle, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, ix.circles[it.Next()])
	}
	return out
}

func matches(c *snapshot.Circle, tok string) bool {
	return contains(c.PenName, tok) || contains(c.CircleName, tok) || contains(c.Description, tok)
}

func contains(field *string, tok string) bool {
	return field != nil && strings.Contains(*field, tok)
}

func blockOf(c snapshot.Circle) int {
	if c.BlockID == nil {
		return 0
	}
	return *c.BlockID
}

// BlockGroup is a block with the circles placed in it.
type BlockGroup struct {
	Block   api.Block         `json:"block"`
	Circles []snapshot.Circle `json:"circles"`
}

// BlockGroups groups circles by block id in ascending id order. Circles whose
// block is not in the graph (including unplaced ones, block 0) are left out.
func BlockGroups(g *api.CatalogGraph, circles []snapshot.Circle) []BlockGroup {
	byBlock := make(map[int][]snapshot.Circle)
	for _, c := range circles {
		b := blockOf(c)
		byBlock[b] = append(byBlock[b], c)
	}
	ids := make([]int, 0, len(byBlock))
	for id := range byBlock {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var groups []BlockGroup
	for _, id := range ids {
		block := g.BlockByID(id)
		if block == nil {
			continue
		}
		groups = append(groups, BlockGroup{Block: *block, Circles: byBlock[id]})
	}
	return groups
}
