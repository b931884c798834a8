// Package mcptools exposes catalog queries as MCP tools so an agent can search
// circles and read images of a synced edition.
package mcptools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentic-research/cominavi/api"
	"github.com/agentic-research/cominavi/internal/catalog"
	"github.com/agentic-research/cominavi/internal/snapshot"
	"github.com/agentic-research/cominavi/internal/syncer"
)

// Backend is the query surface; *syncer.Orchestrator implements it.
type Backend interface {
	Current() syncer.Readiness
	Catalog() *api.CatalogGraph
	Index() (*catalog.Index, error)
	SearchCircles(keyword string) ([]snapshot.Circle, error)
	BlockGroups(circles []snapshot.Circle) ([]catalog.BlockGroup, error)
	CircleImage(ctx context.Context, circleID int) ([]byte, error)
	FloorMap(ctx context.Context, layer syncer.FloorLayer, day int, areaFragment string) (*snapshot.CommonImage, error)
}

var _ Backend = (*syncer.Orchestrator)(nil)

// maxResults caps list results so a broad search does not flood the client.
const maxResults = 200

// NewServer registers every tool over b.
func NewServer(b Backend, version string) *server.MCPServer {
	s := server.NewMCPServer("cominavi", version, server.WithToolCapabilities(false))
	s.AddTools(Tools(b)...)
	return s
}

// Tools returns the tool set over b.
func Tools(b Backend) []server.ServerTool {
	h := handlers{b}
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("readiness",
				mcp.WithDescription("Current sync state of the catalog: downloading, initializing, ready or error."),
			),
			Handler: h.readiness,
		},
		{
			Tool: mcp.NewTool("catalog_summary",
				mcp.WithDescription("Edition name and number with its days, halls and areas."),
			),
			Handler: h.catalogSummary,
		},
		{
			Tool: mcp.NewTool("search_circles",
				mcp.WithDescription("Find circles whose pen name, circle name or description contains every space-separated keyword (case-sensitive)."),
				mcp.WithString("keyword", mcp.Description("Space-separated keywords; empty lists all circles")),
			),
			Handler: h.searchCircles,
		},
		{
			Tool: mcp.NewTool("get_circle",
				mcp.WithDescription("Full record of one circle by id."),
				mcp.WithNumber("id", mcp.Required(), mcp.Description("Circle id")),
			),
			Handler: h.getCircle,
		},
		{
			Tool: mcp.NewTool("block_groups",
				mcp.WithDescription("Circles matching the keywords, grouped by block."),
				mcp.WithString("keyword", mcp.Description("Space-separated keywords; empty groups all circles")),
			),
			Handler: h.blockGroups,
		},
		{
			Tool: mcp.NewTool("circle_image",
				mcp.WithDescription("The circle cut image as PNG."),
				mcp.WithNumber("id", mcp.Required(), mcp.Description("Circle id")),
			),
			Handler: h.circleImage,
		},
		{
			Tool: mcp.NewTool("floor_map",
				mcp.WithDescription("A hall floor map image as PNG."),
				mcp.WithString("layer", mcp.Required(), mcp.Enum("base", "genre"), mcp.Description("Map layer")),
				mcp.WithNumber("day", mcp.Required(), mcp.Description("Day index, starting at 1")),
				mcp.WithString("area", mcp.Required(), mcp.Description("Map file base name, e.g. E123")),
			),
			Handler: h.floorMap,
		},
	}
}

type handlers struct {
	b Backend
}

func (h handlers) readiness(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(h.b.Current())
}

type hallSummary struct {
	Name  string   `json:"name"`
	Map   string   `json:"map"`
	Areas []string `json:"areas"`
}

type daySummary struct {
	Day   int           `json:"day"`
	Date  api.Date      `json:"date"`
	Halls []hallSummary `json:"halls"`
}

func (h handlers) catalogSummary(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	g := h.b.Catalog()
	if g == nil {
		return toolError(syncer.ErrNotReady), nil
	}
	days := make([]daySummary, 0, len(g.Days))
	for _, d := range g.Days {
		ds := daySummary{Day: d.DayIndex, Date: d.Date}
		for _, hall := range d.Halls {
			hs := hallSummary{Name: hall.Name, Map: hall.MapFileBaseName}
			for _, a := range hall.Areas {
				hs.Areas = append(hs.Areas, a.Name)
			}
			ds.Halls = append(ds.Halls, hs)
		}
		days = append(days, ds)
	}
	return jsonResult(map[string]any{
		"name":   g.Name,
		"number": g.Number,
		"days":   days,
		"blocks": len(g.Blocks),
	})
}

func (h handlers) searchCircles(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	circles, err := h.b.SearchCircles(req.GetString("keyword", ""))
	if err != nil {
		return toolError(err), nil
	}
	total := len(circles)
	if total > maxResults {
		circles = circles[:maxResults]
	}
	return jsonResult(map[string]any{"total": total, "circles": circles})
}

func (h handlers) getCircle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ix, err := h.b.Index()
	if err != nil {
		return toolError(err), nil
	}
	c, ok := ix.Circle(id)
	if !ok {
		return toolError(fmt.Errorf("circle %d: %w", id, syncer.ErrNotFound)), nil
	}
	return jsonResult(map[string]any{"circle": c, "has_image": ix.HasImage(id)})
}

func (h handlers) blockGroups(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	circles, err := h.b.SearchCircles(req.GetString("keyword", ""))
	if err != nil {
		return toolError(err), nil
	}
	groups, err := h.b.BlockGroups(circles)
	if err != nil {
		return toolError(err), nil
	}
	if groups == nil {
		groups = []catalog.BlockGroup{}
	}
	return jsonResult(groups)
}

func (h handlers) circleImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := h.b.CircleImage(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultImage(fmt.Sprintf("circle %d", id), base64.StdEncoding.EncodeToString(data), "image/png"), nil
}

func (h handlers) floorMap(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	layerName, err := req.RequireString("layer")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	layer, err := syncer.ParseFloorLayer(layerName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	day, err := req.RequireInt("day")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	area, err := req.RequireString("area")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	img, err := h.b.FloorMap(ctx, layer, day, area)
	if err != nil {
		return toolError(err), nil
	}
	name := syncer.FloorMapName(layer, day, area)
	return mcp.NewToolResultImage(name, base64.StdEncoding.EncodeToString(img.Image), "image/png"), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolError reports err to the model rather than failing the call.
func toolError(err error) *mcp.CallToolResult {
	if errors.Is(err, syncer.ErrNotReady) {
		return mcp.NewToolResultError("catalog is not ready yet; check the readiness tool")
	}
	return mcp.NewToolResultError(err.Error())
}
