package snapshottest

import "github.com/agentic-research/cominavi/internal/snapshot"

// SampleNo is the edition number used by Sample.
const SampleNo = 104

// Sample PNG payloads. The bytes only need to be distinct.
var (
	CoverPNG   = []byte("\x89PNG cover")
	FloorPNG   = []byte("\x89PNG floor LWMP1E123")
	GenrePNG   = []byte("\x89PNG floor LWGR1E123")
	CirclePNG1 = []byte("\x89PNG circle 1")
	CirclePNG2 = []byte("\x89PNG circle 2")
)

// Sample returns a small but complete edition:
//
//   - two days; day 1 opens halls 東123 and 西12, day 2 opens 東123 only
//   - floor 4 points at a map that does not exist and must be dropped
//   - area 4 has no mapping rows and must be dropped
//   - circle 3 has a NULL cut and circle 4 an empty one
func Sample() (Primary, Imagery) {
	no := SampleNo
	p := Primary{
		Infos: []snapshot.InfoEntry{{ComiketNo: no, ComiketName: Str("コミックマーケット104"), CutSizeW: Int(211), CutSizeH: Int(300)}},
		Dates: []snapshot.DateEntry{
			{ComiketNo: no, ID: 1, Year: Int(2024), Month: Int(8), Day: Int(11), Weekday: Int(1)},
			{ComiketNo: no, ID: 2, Year: Int(2024), Month: Int(8), Day: Int(12), Weekday: Int(2)},
		},
		Maps: []snapshot.MapEntry{
			{ComiketNo: no, ID: 1, Name: Str("東123"), Filename: Str("E123")},
			{ComiketNo: no, ID: 2, Name: Str("西12"), Filename: Str("W12")},
		},
		Floors: []snapshot.FloorEntry{
			{ComiketNo: no, ID: 1, Name: Str("1F"), Day: 1, MapID: 1},
			{ComiketNo: no, ID: 2, Name: Str("1F"), Day: 1, MapID: 2},
			{ComiketNo: no, ID: 3, Name: Str("1F"), Day: 2, MapID: 1},
			{ComiketNo: no, ID: 4, Name: Str("2F"), Day: 2, MapID: 99},
		},
		Areas: []snapshot.Area{
			{ComiketNo: no, ID: 1, Name: Str("東1"), SimpleName: Str("東"), MapID: 1},
			{ComiketNo: no, ID: 2, Name: Str("西1"), SimpleName: Str("西"), MapID: 2},
			{ComiketNo: no, ID: 3, Name: Str("東2"), SimpleName: Str("東"), MapID: 1},
			{ComiketNo: no, ID: 4, Name: Str("南1"), SimpleName: Str("南"), MapID: 3},
		},
		Blocks: []snapshot.Block{
			{ComiketNo: no, ID: 1, Name: Str("A"), AreaID: 1},
			{ComiketNo: no, ID: 2, Name: Str("あ"), AreaID: 2},
			{ComiketNo: no, ID: 3, Name: Str("B"), AreaID: 3},
		},
		Mappings: []snapshot.MappingEntry{
			{ComiketNo: no, Day: 1, MapID: 1, AreaID: 1, FloorID: 1, BlockID: 1},
			{ComiketNo: no, Day: 2, MapID: 1, AreaID: 1, FloorID: 3, BlockID: 1},
			{ComiketNo: no, Day: 1, MapID: 2, AreaID: 2, FloorID: 2, BlockID: 2},
			{ComiketNo: no, Day: 2, MapID: 1, AreaID: 3, FloorID: 3, BlockID: 3},
		},
		Circles: []snapshot.Circle{
			{ComiketNo: no, ID: 1, Day: Int(1), BlockID: Int(1), SpaceNo: Int(1), SpaceNoSub: Int(0), CircleName: Str("alphabeta"), PenName: Str("ゆき")},
			{ComiketNo: no, ID: 2, Day: Int(1), BlockID: Int(1), SpaceNo: Int(1), SpaceNoSub: Int(1), CircleName: Str("alpha"), Description: Str("gamma")},
			{ComiketNo: no, ID: 3, Day: Int(1), BlockID: Int(2), SpaceNo: Int(5), SpaceNoSub: Int(0), CircleName: Str("Alpha Team"), PenName: Str("beta-pen"), Description: Str("the alpha release")},
			{ComiketNo: no, ID: 4, Day: Int(0), BlockID: Int(0), SpaceNo: Int(0)},
		},
		CircleExtends: []snapshot.CircleExtend{
			{ComiketNo: no, ID: 1, WCID: 5001, TwitterURL: Str("https://x.example/alphabeta")},
		},
		Genres: []snapshot.GenreEntry{
			{ComiketNo: no, ID: 1, Name: Str("創作(少年)"), Code: Int(110), Day: Int(1)},
		},
		Layouts: []snapshot.LayoutEntry{
			{ComiketNo: no, BlockID: Int(1), SpaceNo: Int(1), XPos: Int(10), YPos: Int(20), Layout: Int(1), MapID: Int(1), HallID: Int(1)},
		},
	}
	img := Imagery{
		CircleImages: []snapshot.CircleImage{
			{ComiketNo: no, ID: 1, WCID: 5001, Width: 211, Height: 300, Type: "png", Size: len(CirclePNG1), CutImage: CirclePNG1},
			{ComiketNo: no, ID: 2, WCID: 5002, Width: 211, Height: 300, Type: "png", Size: len(CirclePNG2), CutImage: CirclePNG2},
			{ComiketNo: no, ID: 3, WCID: 5003, Width: 211, Height: 300, Type: "png"},
			{ComiketNo: no, ID: 4, WCID: 5004, Width: 211, Height: 300, Type: "png", CutImage: []byte{}},
		},
		CommonImages: []snapshot.CommonImage{
			{ComiketNo: no, Name: "0001", Width: 600, Height: 800, Type: "png", Size: len(CoverPNG), Image: CoverPNG},
			{ComiketNo: no, Name: "LWMP1E123", Type: "png", Size: len(FloorPNG), Image: FloorPNG},
			{ComiketNo: no, Name: "LWGR1E123", Type: "png", Size: len(GenrePNG), Image: GenrePNG},
		},
	}
	return p, img
}
