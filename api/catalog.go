package api

import (
	"fmt"
	"strings"
)

// FileKind identifies one of the two snapshot databases of a catalog instance.
// The string value doubles as the local filename stem and the marker key fragment.
type FileKind string

const (
	// FilePrimary is the text/metadata database (circles, maps, dates...).
	FilePrimary FileKind = "main"
	// FileImagery is the binary image database (circle cuts, common images).
	FileImagery FileKind = "image"
)

// Kinds lists the file kinds in manifest order.
var Kinds = []FileKind{FilePrimary, FileImagery}

// RemoteFile describes one downloadable snapshot: where it lives and the
// lowercase hex MD5 digest of its (compressed) payload.
type RemoteFile struct {
	Digest string `json:"digest"`
	URL    string `json:"url"`
}

// DatasetManifest is the pair of remote snapshot descriptors for one instance.
// It is produced once per session and never mutated.
type DatasetManifest struct {
	Primary   RemoteFile `json:"primary"`
	Imagery   RemoteFile `json:"imagery"`
	UpdatedAt string     `json:"updated_at,omitempty"`
}

// File returns the descriptor for the given kind.
func (m DatasetManifest) File(kind FileKind) RemoteFile {
	if kind == FileImagery {
		return m.Imagery
	}
	return m.Primary
}

// Validate checks that both descriptors carry a URL and a digest.
func (m DatasetManifest) Validate() error {
	for _, k := range Kinds {
		f := m.File(k)
		if strings.TrimSpace(f.URL) == "" {
			return fmt.Errorf("manifest: %s url is empty", k)
		}
		if strings.TrimSpace(f.Digest) == "" {
			return fmt.Errorf("manifest: %s digest is empty", k)
		}
	}
	return nil
}

// CatalogGraph is the denormalized dataset of one convention edition:
// event → days → halls → areas, plus the flat block list.
type CatalogGraph struct {
	// ID equals the decimal form of Number, e.g. "104".
	ID     string `json:"id"`
	Number int    `json:"number"`
	Name   string `json:"name"`
	// CoverImagePath is relative to the cache root. Empty when the imagery
	// database has no cover.
	CoverImagePath string  `json:"cover_image_path,omitempty"`
	Days           []Day   `json:"days"`
	Blocks         []Block `json:"blocks"`
}

// Date holds the calendar components of a convention day. Zero means unknown.
type Date struct {
	Year    int `json:"year,omitempty"`
	Month   int `json:"month,omitempty"`
	Day     int `json:"day,omitempty"`
	Weekday int `json:"weekday,omitempty"` // 1 = Sunday ... 7 = Saturday
}

// Day is one convention day. DayIndex is 1-based.
type Day struct {
	ID       string `json:"id"` // "{number}_{dayIndex}"
	DayIndex int    `json:"day_index"`
	Date     Date   `json:"date"`
	Halls    []Hall `json:"halls"`
}

// Hall is a map (hall section) open on a given day.
type Hall struct {
	ID              string `json:"id"` // "{number}_{dayIndex}_{mapName}"
	Name            string `json:"name"`
	MapFileBaseName string `json:"map_file_base_name"` // "E123", "W12", ...
	ExternalMapID   int    `json:"external_map_id"`
	ExternalFloorID int    `json:"external_floor_id"`
	Areas           []Area `json:"areas"`
}

// Area is a named region within a hall.
type Area struct {
	ID             string `json:"id"` // "{number}_{dayIndex}_{mapId}_{areaId}"
	Name           string `json:"name"`
	ExternalAreaID int    `json:"external_area_id"`
}

// Block groups circle spaces under a single letter, e.g. "あ".
type Block struct {
	ID              string `json:"id"` // "{number}_{blockId}"
	Name            string `json:"name"`
	ExternalBlockID int    `json:"external_block_id"`
	ExternalAreaID  int    `json:"external_area_id"`
}

// DayByIndex returns the day with the given index, or nil.
func (g *CatalogGraph) DayByIndex(dayIndex int) *Day {
	for i := range g.Days {
		if g.Days[i].DayIndex == dayIndex {
			return &g.Days[i]
		}
	}
	return nil
}

// BlockByID returns the block with the given external id, or nil.
func (g *CatalogGraph) BlockByID(blockID int) *Block {
	for i := range g.Blocks {
		if g.Blocks[i].ExternalBlockID == blockID {
			return &g.Blocks[i]
		}
	}
	return nil
}
