// Package projector denormalizes the snapshot tables into an
// api.CatalogGraph.
//
// Joins that do not resolve (a floor whose map is missing, an area with no
// mapping row) drop the row silently; the catalog service routinely
// publishes such partial data ahead of the final maps. Only a missing info
// row is fatal, since the graph is anchored on it.
package projector

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	billy "github.com/go-git/go-billy/v5"

	"github.com/agentic-research/cominavi/api"
	"github.com/agentic-research/cominavi/internal/cache"
	"github.com/agentic-research/cominavi/internal/snapshot"
	"github.com/agentic-research/cominavi/internal/syncerr"
)

// CoverImageName is the ComiketCommonImage row holding the catalog cover.
const CoverImageName = "0001"

type Projector struct {
	// FS receives the cover image. Nil skips the cover entirely.
	FS billy.Filesystem
	// CoverPath is the FS-relative destination of the cover image.
	CoverPath string
	Logger    *slog.Logger
}

func (p *Projector) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Project reads both snapshots and returns the complete graph. No partial
// graph is ever returned.
func (p *Projector) Project(ctx context.Context, primary, imagery *snapshot.Store) (*api.CatalogGraph, error) {
	info, err := snapshot.FetchOne(ctx, primary, snapshot.Infos, snapshot.Predicate{})
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("project: %w", syncerr.ErrMissingInfo)
	}
	no := info.ComiketNo

	dates, err := snapshot.FetchAll(ctx, primary, snapshot.Dates)
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	areas, err := snapshot.FetchAll(ctx, primary, snapshot.Areas)
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	floors, err := snapshot.FetchAll(ctx, primary, snapshot.Floors)
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	maps, err := snapshot.FetchAll(ctx, primary, snapshot.Maps)
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	blocks, err := snapshot.FetchAll(ctx, primary, snapshot.Blocks)
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	mappings, err := snapshot.FetchAll(ctx, primary, snapshot.Mappings)
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}

	coverPath, err := p.materializeCover(ctx, imagery)
	if err != nil {
		return nil, err
	}

	g := &api.CatalogGraph{
		ID:             strconv.Itoa(no),
		Number:         no,
		Name:           deref(info.ComiketName),
		CoverImagePath: coverPath,
		Days:           make([]api.Day, 0, len(dates)),
		Blocks:         make([]api.Block, 0, len(blocks)),
	}

	for _, d := range dates {
		g.Days = append(g.Days, api.Day{
			ID:       fmt.Sprintf("%d_%d", no, d.ID),
			DayIndex: d.ID,
			Date: api.Date{
				Year:    derefInt(d.Year),
				Month:   derefInt(d.Month),
				Day:     derefInt(d.Day),
				Weekday: derefInt(d.Weekday),
			},
		})
	}

	mapsByID := make(map[int]snapshot.MapEntry, len(maps))
	for _, m := range maps {
		if _, dup := mapsByID[m.ID]; !dup {
			mapsByID[m.ID] = m
		}
	}

	var dropped int
	for _, f := range floors {
		day := g.DayByIndex(f.Day)
		m, ok := mapsByID[f.MapID]
		if day == nil || !ok {
			dropped++
			continue
		}
		name := deref(m.Name)
		day.Halls = append(day.Halls, api.Hall{
			ID:              fmt.Sprintf("%d_%d_%s", no, f.Day, name),
			Name:            name,
			MapFileBaseName: deref(m.Filename),
			ExternalMapID:   m.ID,
			ExternalFloorID: f.ID,
		})
	}

	for _, a := range areas {
		placed := false
		for _, dayIndex := range areaDays(mappings, a) {
			day := g.DayByIndex(dayIndex)
			if day == nil {
				continue
			}
			hall := hallForMap(day, a.MapID)
			if hall == nil {
				continue
			}
			hall.Areas = append(hall.Areas, api.Area{
				ID:             fmt.Sprintf("%d_%d_%d_%d", no, dayIndex, a.MapID, a.ID),
				Name:           deref(a.Name),
				ExternalAreaID: a.ID,
			})
			placed = true
		}
		if !placed {
			dropped++
		}
	}

	for _, b := range blocks {
		g.Blocks = append(g.Blocks, api.Block{
			ID:              fmt.Sprintf("%d_%d", no, b.ID),
			Name:            deref(b.Name),
			ExternalBlockID: b.ID,
			ExternalAreaID:  b.AreaID,
		})
	}

	p.logger().Info("projector: graph built",
		"instance", g.ID, "days", len(g.Days), "blocks", len(g.Blocks), "dropped", dropped)
	return g, nil
}

// areaDays lists, in first-seen order, the days on which the area's map is
// open according to the mapping table.
func areaDays(mappings []snapshot.MappingEntry, a snapshot.Area) []int {
	var days []int
	seen := make(map[int]bool)
	for _, m := range mappings {
		if m.AreaID != a.ID || m.MapID != a.MapID || seen[m.Day] {
			continue
		}
		seen[m.Day] = true
		days = append(days, m.Day)
	}
	return days
}

func hallForMap(day *api.Day, mapID int) *api.Hall {
	for i := range day.Halls {
		if day.Halls[i].ExternalMapID == mapID {
			return &day.Halls[i]
		}
	}
	return nil
}

// materializeCover writes the cover once and returns its path, or "" when
// the imagery snapshot has no cover data.
func (p *Projector) materializeCover(ctx context.Context, imagery *snapshot.Store) (string, error) {
	if p.FS == nil || p.CoverPath == "" || imagery == nil {
		return "", nil
	}
	row, err := snapshot.FetchOne(ctx, imagery, snapshot.CommonImages, snapshot.Where("name = ?", CoverImageName))
	if err != nil {
		return "", fmt.Errorf("project cover: %w", err)
	}
	if row == nil || len(row.Image) == 0 {
		return "", nil
	}
	exists, err := cache.Exists(p.FS, p.CoverPath)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := cache.WriteAtomic(p.FS, p.CoverPath, row.Image); err != nil {
			return "", err
		}
	}
	return p.CoverPath, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
