// Package snapshottest builds small catalog snapshot databases for tests.
package snapshottest

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/agentic-research/cominavi/internal/snapshot"
	_ "modernc.org/sqlite"
)

// Primary holds the rows of a text snapshot. Every table is created, even
// when its slice is empty.
type Primary struct {
	Infos         []snapshot.InfoEntry
	Dates         []snapshot.DateEntry
	Maps          []snapshot.MapEntry
	Floors        []snapshot.FloorEntry
	Areas         []snapshot.Area
	Blocks        []snapshot.Block
	Mappings      []snapshot.MappingEntry
	Circles       []snapshot.Circle
	CircleExtends []snapshot.CircleExtend
	Genres        []snapshot.GenreEntry
	Layouts       []snapshot.LayoutEntry
}

// Imagery holds the rows of an image snapshot.
type Imagery struct {
	CircleImages []snapshot.CircleImage
	CommonImages []snapshot.CommonImage
}

func WritePrimary(t testing.TB, path string, p Primary) {
	t.Helper()
	db := open(t, path)
	defer func() { _ = db.Close() }()
	create(t, db, snapshot.Infos, p.Infos)
	create(t, db, snapshot.Dates, p.Dates)
	create(t, db, snapshot.Maps, p.Maps)
	create(t, db, snapshot.Floors, p.Floors)
	create(t, db, snapshot.Areas, p.Areas)
	create(t, db, snapshot.Blocks, p.Blocks)
	create(t, db, snapshot.Mappings, p.Mappings)
	create(t, db, snapshot.Circles, p.Circles)
	create(t, db, snapshot.CircleExtends, p.CircleExtends)
	create(t, db, snapshot.Genres, p.Genres)
	create(t, db, snapshot.Layouts, p.Layouts)
}

func WriteImagery(t testing.TB, path string, img Imagery) {
	t.Helper()
	db := open(t, path)
	defer func() { _ = db.Close() }()
	create(t, db, snapshot.CircleImages, img.CircleImages)
	create(t, db, snapshot.CommonImages, img.CommonImages)
}

// Gzip returns the gzip-compressed contents of the file at path, the form
// the catalog service publishes snapshots in.
func Gzip(t testing.TB, path string) []byte {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	return buf.Bytes()
}

func open(t testing.TB, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	return db
}

func create[T any](t testing.TB, db *sql.DB, tbl snapshot.Table[T], rows []T) {
	t.Helper()
	quoted := make([]string, len(tbl.Columns))
	marks := make([]string, len(tbl.Columns))
	for i, c := range tbl.Columns {
		quoted[i] = `"` + c + `"`
		marks[i] = "?"
	}
	cols := strings.Join(quoted, ", ")
	if _, err := db.Exec(`CREATE TABLE "` + tbl.Name + `" (` + cols + `)`); err != nil {
		t.Fatalf("create %s: %v", tbl.Name, err)
	}
	insert := `INSERT INTO "` + tbl.Name + `" (` + cols + `) VALUES (` + strings.Join(marks, ", ") + `)`
	for i := range rows {
		if _, err := db.Exec(insert, values(tbl.Fields(&rows[i]))...); err != nil {
			t.Fatalf("insert %s: %v", tbl.Name, err)
		}
	}
}

// values turns scan destinations back into driver arguments: nil pointers
// and nil slices become NULL.
func values(fields []any) []any {
	out := make([]any, len(fields))
	for i, f := range fields {
		v := reflect.ValueOf(f).Elem()
		switch v.Kind() {
		case reflect.Pointer:
			if !v.IsNil() {
				out[i] = v.Elem().Interface()
			}
		case reflect.Slice:
			if !v.IsNil() {
				out[i] = v.Interface()
			}
		default:
			out[i] = v.Interface()
		}
	}
	return out
}

func Str(s string) *string { return &s }

func Int(n int) *int { return &n }
