// Package snapshot opens the downloaded catalog databases read-only and
// exposes typed, streaming queries over their tables.
//
// Rows come back in rowid order, which is the order the catalog service
// wrote them in. Nothing here ever writes to a snapshot.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/agentic-research/cominavi/internal/syncerr"
	_ "modernc.org/sqlite"
)

// Store is one read-only snapshot database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the snapshot at path. A missing or malformed file yields an
// error matching syncerr.ErrStoreOpen.
func Open(path string) (*Store, error) {
	fail := func(err error) error {
		return fmt.Errorf("%w: %s: %w", syncerr.ErrStoreOpen, path, err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fail(err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fail(err)
	}
	db.SetMaxOpenConns(4)

	// Opening is lazy; force a read so a non-database file fails here.
	var n int
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		_ = db.Close()
		return nil, fail(err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return s.db.Close()
}

// Table describes how a record type maps onto a snapshot table. Fields
// returns scan destinations for rec in Columns order.
type Table[T any] struct {
	Name    string
	Columns []string
	Fields  func(rec *T) []any
}

// Predicate is an optional WHERE clause with positional arguments. The zero
// value selects every row.
type Predicate struct {
	Where string
	Args  []any
}

// Where builds a Predicate, e.g. Where("comiketNo = ? AND id = ?", 104, 7).
func Where(clause string, args ...any) Predicate {
	return Predicate{Where: clause, Args: args}
}

func (t Table[T]) selectSQL(p Predicate, limit int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(`"` + c + `"`)
	}
	b.WriteString(` FROM "` + t.Name + `"`)
	if p.Where != "" {
		b.WriteString(" WHERE " + p.Where)
	}
	b.WriteString(" ORDER BY rowid")
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String()
}

// Each streams matching rows to fn one at a time. Returning an error from fn
// stops the iteration and is returned as is.
func Each[T any](ctx context.Context, s *Store, t Table[T], p Predicate, fn func(T) error) error {
	return each(ctx, s, t, p, 0, fn)
}

func each[T any](ctx context.Context, s *Store, t Table[T], p Predicate, limit int, fn func(T) error) error {
	rows, err := s.db.QueryContext(ctx, t.selectSQL(p, limit), p.Args...)
	if err != nil {
		return fmt.Errorf("query %s: %w", t.Name, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var rec T
		if err := rows.Scan(t.Fields(&rec)...); err != nil {
			return fmt.Errorf("scan %s: %w", t.Name, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", t.Name, err)
	}
	return nil
}

func FetchAll[T any](ctx context.Context, s *Store, t Table[T]) ([]T, error) {
	return FetchWhere(ctx, s, t, Predicate{})
}

func FetchWhere[T any](ctx context.Context, s *Store, t Table[T], p Predicate) ([]T, error) {
	var out []T
	err := Each(ctx, s, t, p, func(rec T) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchOne returns the first matching row, or nil when there is none.
func FetchOne[T any](ctx context.Context, s *Store, t Table[T], p Predicate) (*T, error) {
	var found *T
	err := each(ctx, s, t, p, 1, func(rec T) error {
		found = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func Count[T any](ctx context.Context, s *Store, t Table[T], p Predicate) (int, error) {
	q := `SELECT count(*) FROM "` + t.Name + `"`
	if p.Where != "" {
		q += " WHERE " + p.Where
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, p.Args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", t.Name, err)
	}
	return n, nil
}
