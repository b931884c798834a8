package graph

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/cominavi/api"
	"github.com/agentic-research/cominavi/internal/catalog"
	"github.com/agentic-research/cominavi/internal/snapshot"
)

// Top-level entries of the catalog tree.
const (
	CatalogFile = "catalog.json"
	DaysDir     = "days"
	CirclesDir  = "circles"
)

// TreeSource is everything BuildCatalogTree projects.
type TreeSource struct {
	Graph *api.CatalogGraph
	Index *catalog.Index
	// Images is the cache filesystem and ImageDir the directory holding
	// {id}.png cuts within it. A nil Images omits image files.
	Images   billy.Filesystem
	ImageDir string
	ModTime  time.Time
}

// BuildCatalogTree lays out
//
//	catalog.json
//	days/{day}/{hall}/{area}/{block}/{circle}.json|.png
//	circles/{circle}.json|.png
//
// Circles land under a block directory when their day and block resolve in
// the graph; every circle is listed under circles/.
func BuildCatalogTree(src TreeSource) (*MemoryStore, error) {
	b := &treeBuilder{src: src, store: NewMemoryStore()}
	if b.src.ModTime.IsZero() {
		b.src.ModTime = time.Now()
	}
	if src.Images != nil {
		images := src.Images
		b.store.SetResolver(func(ref *ContentRef) ([]byte, error) {
			return util.ReadFile(images, ref.Path)
		})
	}
	if err := b.build(); err != nil {
		return nil, err
	}
	return b.store, nil
}

type treeBuilder struct {
	src   TreeSource
	store *MemoryStore
}

func (b *treeBuilder) dir(id string, root bool) *Node {
	n := &Node{ID: id, Mode: fs.ModeDir, ModTime: b.src.ModTime}
	if root {
		b.store.AddRoot(n)
	} else {
		b.store.AddNode(n)
	}
	return n
}

func (b *treeBuilder) file(parent *Node, name string, data []byte) {
	id := parent.ID + "/" + name
	b.store.AddNode(&Node{ID: id, ModTime: b.src.ModTime, Data: data})
	parent.Children = append(parent.Children, id)
}

func (b *treeBuilder) build() error {
	g := b.src.Graph
	if g == nil {
		return fmt.Errorf("catalog tree: no graph")
	}
	if b.src.Index == nil {
		b.src.Index = catalog.Empty()
	}
	ix := b.src.Index

	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog tree: %w", err)
	}
	b.store.AddRoot(&Node{ID: CatalogFile, ModTime: b.src.ModTime, Data: append(data, '\n')})

	// Circles by (day, block) for the day directories.
	type slot struct{ day, block int }
	placed := make(map[slot][]snapshot.Circle)
	for _, c := range ix.Circles() {
		if c.Day == nil || c.BlockID == nil {
			continue
		}
		k := slot{*c.Day, *c.BlockID}
		placed[k] = append(placed[k], c)
	}
	blocksByArea := make(map[int][]api.Block)
	for _, bl := range g.Blocks {
		blocksByArea[bl.ExternalAreaID] = append(blocksByArea[bl.ExternalAreaID], bl)
	}

	days := b.dir(DaysDir, true)
	for _, day := range g.Days {
		dayDir := b.child(days, strconv.Itoa(day.DayIndex))
		for _, hall := range day.Halls {
			hallDir := b.child(dayDir, hall.Name, hall.MapFileBaseName)
			for _, area := range hall.Areas {
				areaDir := b.child(hallDir, area.Name, strconv.Itoa(area.ExternalAreaID))
				for _, bl := range blocksByArea[area.ExternalAreaID] {
					blockDir := b.child(areaDir, bl.Name, strconv.Itoa(bl.ExternalBlockID))
					for _, c := range placed[slot{day.DayIndex, bl.ExternalBlockID}] {
						if err := b.circle(blockDir, c); err != nil {
							return err
						}
					}
				}
			}
		}
	}

	circles := b.dir(CirclesDir, true)
	for _, c := range ix.Circles() {
		if err := b.circle(circles, c); err != nil {
			return err
		}
	}
	return nil
}

// child adds a subdirectory named after name, or fallback when name is
// empty. A name already taken in parent gets "~fallback" appended.
func (b *treeBuilder) child(parent *Node, name string, fallback ...string) *Node {
	seg := segment(name)
	alt := ""
	if len(fallback) > 0 {
		alt = segment(fallback[0])
	}
	if seg == "" {
		seg = alt
	}
	id := parent.ID + "/" + seg
	if _, err := b.store.GetNode(id); err == nil && alt != "" {
		id += "~" + alt
	}
	n := b.dir(id, false)
	parent.Children = append(parent.Children, id)
	return n
}

func (b *treeBuilder) circle(parent *Node, c snapshot.Circle) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog tree: circle %d: %w", c.ID, err)
	}
	name := strconv.Itoa(c.ID)
	b.file(parent, name+".json", append(data, '\n'))

	if b.src.Images == nil || !b.src.Index.HasImage(c.ID) {
		return nil
	}
	rel := path.Join(b.src.ImageDir, name+".png")
	fi, err := b.src.Images.Stat(rel)
	if err != nil {
		return nil
	}
	id := parent.ID + "/" + name + ".png"
	b.store.AddNode(&Node{ID: id, ModTime: fi.ModTime(), Ref: &ContentRef{Path: rel, Size: fi.Size()}})
	parent.Children = append(parent.Children, id)
	return nil
}

// segment makes a display name usable as one path element.
func segment(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "/", "_"))
	if name == "." || name == ".." {
		return "_"
	}
	return name
}
