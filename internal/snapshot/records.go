package snapshot

// Record types of the primary (text) and imagery snapshots. Columns that the
// catalog service may leave NULL are pointers; blobs are nil when NULL.

// Area is a row of ComiketAreaWC: a named district of a map, e.g. "東1".
type Area struct {
	ComiketNo   int
	ID          int
	Name        *string
	SimpleName  *string
	MapID       int
	X, Y, W, H  *int
	AllFilename *string
	X2, Y2      *int
	W2, H2      *int
}

var Areas = Table[Area]{
	Name:    "ComiketAreaWC",
	Columns: []string{"comiketNo", "id", "name", "simpleName", "mapId", "x", "y", "w", "h", "allFilename", "x2", "y2", "w2", "h2"},
	Fields: func(r *Area) []any {
		return []any{&r.ComiketNo, &r.ID, &r.Name, &r.SimpleName, &r.MapID, &r.X, &r.Y, &r.W, &r.H, &r.AllFilename, &r.X2, &r.Y2, &r.W2, &r.H2}
	},
}

// Block is a row of ComiketBlockWC.
type Block struct {
	ComiketNo int
	ID        int
	Name      *string
	AreaID    int
}

var Blocks = Table[Block]{
	Name:    "ComiketBlockWC",
	Columns: []string{"comiketNo", "id", "name", "areaId"},
	Fields:  func(r *Block) []any { return []any{&r.ComiketNo, &r.ID, &r.Name, &r.AreaID} },
}

// CircleExtend carries the web-catalog identifiers and social links of a circle.
type CircleExtend struct {
	ComiketNo         int
	ID                int
	WCID              int
	TwitterURL        *string
	PixivURL          *string
	CirclemsPortalURL *string
}

var CircleExtends = Table[CircleExtend]{
	Name:    "ComiketCircleExtend",
	Columns: []string{"comiketNo", "id", "WCId", "twitterURL", "pixivURL", "CirclemsPortalURL"},
	Fields: func(r *CircleExtend) []any {
		return []any{&r.ComiketNo, &r.ID, &r.WCID, &r.TwitterURL, &r.PixivURL, &r.CirclemsPortalURL}
	},
}

// Circle is a row of ComiketCircleWC. Zero placement fields mean the circle
// was not assigned a space.
type Circle struct {
	ComiketNo   int     `json:"comiket_no"`
	ID          int     `json:"id"`
	PageNo      *int    `json:"page_no,omitempty"`
	CutIndex    *int    `json:"cut_index,omitempty"`
	Day         *int    `json:"day,omitempty"`
	BlockID     *int    `json:"block_id,omitempty"`
	SpaceNo     *int    `json:"space_no,omitempty"`
	SpaceNoSub  *int    `json:"space_no_sub,omitempty"` // 0:a 1:b
	GenreID     *int    `json:"genre_id,omitempty"`
	CircleName  *string `json:"circle_name,omitempty"`
	CircleKana  *string `json:"circle_kana,omitempty"`
	PenName     *string `json:"pen_name,omitempty"`
	BookName    *string `json:"book_name,omitempty"`
	URL         *string `json:"url,omitempty"`
	MailAddr    *string `json:"mail_addr,omitempty"`
	Description *string `json:"description,omitempty"`
	Memo        *string `json:"memo,omitempty"`
	UpdateID    *int    `json:"update_id,omitempty"`
	UpdateData  *string `json:"update_data,omitempty"`
	Circlems    *string `json:"circlems,omitempty"`
	RSS         *string `json:"rss,omitempty"`
	UpdateFlag  *int    `json:"update_flag,omitempty"`
}

var Circles = Table[Circle]{
	Name: "ComiketCircleWC",
	Columns: []string{"comiketNo", "id", "pageNo", "cutIndex", "day", "blockId", "spaceNo", "spaceNoSub", "genreId",
		"circleName", "circleKana", "penName", "bookName", "url", "mailAddr", "description", "memo",
		"updateId", "updateData", "circlems", "rss", "updateFlag"},
	Fields: func(r *Circle) []any {
		return []any{&r.ComiketNo, &r.ID, &r.PageNo, &r.CutIndex, &r.Day, &r.BlockID, &r.SpaceNo, &r.SpaceNoSub, &r.GenreID,
			&r.CircleName, &r.CircleKana, &r.PenName, &r.BookName, &r.URL, &r.MailAddr, &r.Description, &r.Memo,
			&r.UpdateID, &r.UpdateData, &r.Circlems, &r.RSS, &r.UpdateFlag}
	},
}

// DateEntry is one convention day; ID 1 is the first day.
type DateEntry struct {
	ComiketNo int
	ID        int
	Year      *int
	Month     *int
	Day       *int
	Weekday   *int // 1 = Sunday ... 7 = Saturday
}

var Dates = Table[DateEntry]{
	Name:    "ComiketDateWC",
	Columns: []string{"comiketNo", "id", "year", "month", "day", "weekday"},
	Fields: func(r *DateEntry) []any {
		return []any{&r.ComiketNo, &r.ID, &r.Year, &r.Month, &r.Day, &r.Weekday}
	},
}

// FloorEntry binds a floor of a map to a day.
type FloorEntry struct {
	ComiketNo int
	ID        int
	Name      *string
	Day       int
	MapID     int
}

var Floors = Table[FloorEntry]{
	Name:    "ComiketFloorWC",
	Columns: []string{"comiketNo", "id", "name", "day", "mapId"},
	Fields:  func(r *FloorEntry) []any { return []any{&r.ComiketNo, &r.ID, &r.Name, &r.Day, &r.MapID} },
}

// GenreEntry; Day is 0 for genres not tied to one day.
type GenreEntry struct {
	ComiketNo int
	ID        int
	Name      *string
	Code      *int
	Day       *int
}

var Genres = Table[GenreEntry]{
	Name:    "ComiketGenreWC",
	Columns: []string{"comiketNo", "id", "name", "code", "day"},
	Fields:  func(r *GenreEntry) []any { return []any{&r.ComiketNo, &r.ID, &r.Name, &r.Code, &r.Day} },
}

// InfoEntry is the single row describing the edition and its cut/map geometry.
type InfoEntry struct {
	ComiketNo   int
	ComiketName *string
	CutSizeW    *int
	CutSizeH    *int
	CutOriginX  *int
	CutOriginY  *int
	CutOffsetX  *int
	CutOffsetY  *int
	MapSizeW    *int
	MapSizeH    *int
	MapOriginX  *int
	MapOriginY  *int
	Map2SizeW   *int
	Map2SizeH   *int
	Map2OriginX *int
	Map2OriginY *int
}

var Infos = Table[InfoEntry]{
	Name: "ComiketInfoWC",
	Columns: []string{"comiketNo", "comiketName", "cutSizeW", "cutSizeH", "cutOriginX", "cutOriginY", "cutOffsetX", "cutOffsetY",
		"mapSizeW", "mapSizeH", "mapOriginX", "mapOriginY", "map2SizeW", "map2SizeH", "map2OriginX", "map2OriginY"},
	Fields: func(r *InfoEntry) []any {
		return []any{&r.ComiketNo, &r.ComiketName, &r.CutSizeW, &r.CutSizeH, &r.CutOriginX, &r.CutOriginY, &r.CutOffsetX, &r.CutOffsetY,
			&r.MapSizeW, &r.MapSizeH, &r.MapOriginX, &r.MapOriginY, &r.Map2SizeW, &r.Map2SizeH, &r.Map2OriginX, &r.Map2OriginY}
	},
}

// LayoutEntry places one space on a map. Layout is the table orientation:
// 1 a-left, 2 a-bottom, 3 a-right, 4 a-top.
type LayoutEntry struct {
	ComiketNo int
	BlockID   *int
	SpaceNo   *int
	XPos      *int
	YPos      *int
	XPos2     *int
	YPos2     *int
	Layout    *int
	MapID     *int
	HallID    *int
}

var Layouts = Table[LayoutEntry]{
	Name:    "ComiketLayoutWC",
	Columns: []string{"comiketNo", "blockId", "spaceNo", "xpos", "ypos", "xpos2", "ypos2", "layout", "mapId", "hallId"},
	Fields: func(r *LayoutEntry) []any {
		return []any{&r.ComiketNo, &r.BlockID, &r.SpaceNo, &r.XPos, &r.YPos, &r.XPos2, &r.YPos2, &r.Layout, &r.MapID, &r.HallID}
	},
}

// MappingEntry links day, map, area, floor and block.
type MappingEntry struct {
	ComiketNo int
	Day       int
	MapID     int
	AreaID    int
	FloorID   int
	BlockID   int
}

var Mappings = Table[MappingEntry]{
	Name:    "ComiketMappingWC",
	Columns: []string{"comiketNo", "day", "mapId", "areaId", "floorId", "blockId"},
	Fields: func(r *MappingEntry) []any {
		return []any{&r.ComiketNo, &r.Day, &r.MapID, &r.AreaID, &r.FloorID, &r.BlockID}
	},
}

// MapEntry identifies a map image set, e.g. "東123".
type MapEntry struct {
	ComiketNo   int
	ID          int
	Name        *string
	Filename    *string
	X, Y, W, H  *int
	AllFilename *string
	X2, Y2      *int
	W2, H2      *int
	Rotate      *int // 0 upright, 1 rotated
}

var Maps = Table[MapEntry]{
	Name:    "ComiketMapWC",
	Columns: []string{"comiketNo", "id", "name", "filename", "x", "y", "w", "h", "allFilename", "x2", "y2", "w2", "h2", "rotate"},
	Fields: func(r *MapEntry) []any {
		return []any{&r.ComiketNo, &r.ID, &r.Name, &r.Filename, &r.X, &r.Y, &r.W, &r.H, &r.AllFilename, &r.X2, &r.Y2, &r.W2, &r.H2, &r.Rotate}
	},
}

// CircleImage is a circle cut from the imagery snapshot.
type CircleImage struct {
	ComiketNo int
	ID        int
	WCID      int
	Width     int
	Height    int
	Type      string
	Size      int
	MD5       []byte
	CutImage  []byte
}

var CircleImages = Table[CircleImage]{
	Name:    "ComiketCircleImage",
	Columns: []string{"comiketNo", "id", "WCId", "width", "height", "type", "size", "md5", "cutImage"},
	Fields: func(r *CircleImage) []any {
		return []any{&r.ComiketNo, &r.ID, &r.WCID, &r.Width, &r.Height, &r.Type, &r.Size, &r.MD5, &r.CutImage}
	},
}

// CommonImage is a named shared image: the cover ("0001") and the floor map
// layers ("LWMP...", "LWGR...").
type CommonImage struct {
	ComiketNo int
	Name      string
	Width     int
	Height    int
	Type      string
	Size      int
	MD5       []byte
	Image     []byte
}

var CommonImages = Table[CommonImage]{
	Name:    "ComiketCommonImage",
	Columns: []string{"comiketNo", "name", "width", "height", "type", "size", "md5", "image"},
	Fields: func(r *CommonImage) []any {
		return []any{&r.ComiketNo, &r.Name, &r.Width, &r.Height, &r.Type, &r.Size, &r.MD5, &r.Image}
	},
}
