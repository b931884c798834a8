// Package cache resolves the on-disk layout of the catalog cache:
//
//	{root}/instance-{id}/circlems/databases/{main|image}.sqlite
//	{root}/instance-{id}/circlems/images/cover.png
//	{root}/instance-{id}/circlems/images/circles/{id}.png
//
// Paths handed out by Rel and the *File helpers are slash separated and
// relative to the root, suitable for the billy filesystem returned by FS.
// Resolve and DatabasePath return absolute OS paths for code that must talk
// to the OS directly (SQLite, the fetcher).
package cache

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/cominavi/api"
	"github.com/agentic-research/cominavi/internal/state"
	"github.com/agentic-research/cominavi/internal/syncerr"
)

const (
	ScopeCircleMS = "circlems"

	KindDatabases = "databases"
	KindImages    = "images"
)

const (
	coverFile  = "cover.png"
	circlesDir = "circles"
	lockFile   = ".lock"
)

// ErrLocked is returned by Lock when another process holds the instance.
var ErrLocked = errors.New("instance is locked by another process")

// Resolver maps (instance, scope, kind) onto cache directories.
type Resolver struct {
	root    string
	fs      billy.Filesystem
	markers *state.Markers
}

// New returns a Resolver over the OS filesystem rooted at root.
func New(root string, markers *state.Markers) *Resolver {
	return NewWithFS(root, osfs.New(root), markers)
}

// NewWithFS uses fs as the view of root. fs must be rooted at root.
func NewWithFS(root string, fs billy.Filesystem, markers *state.Markers) *Resolver {
	return &Resolver{root: root, fs: fs, markers: markers}
}

// DefaultRoot is $COMINAVI_SHARED_DIR when set, else the per-user cache dir.
func DefaultRoot() (string, error) {
	if dir := os.Getenv("COMINAVI_SHARED_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate user cache dir: %w", err)
	}
	return filepath.Join(base, "cominavi"), nil
}

func (r *Resolver) Root() string { return r.root }

func (r *Resolver) FS() billy.Filesystem { return r.fs }

func (r *Resolver) Markers() *state.Markers { return r.markers }

func instanceDir(instanceID string) string {
	return "instance-" + instanceID
}

// Rel returns instance-{id}/{scope}/{kind}.
func (r *Resolver) Rel(instanceID, scope, kind string) string {
	return path.Join(instanceDir(instanceID), scope, kind)
}

// Resolve returns the absolute directory for (instance, scope, kind),
// creating it when createIfNeeded is set.
func (r *Resolver) Resolve(instanceID, scope, kind string, createIfNeeded bool) (string, error) {
	rel := r.Rel(instanceID, scope, kind)
	if createIfNeeded {
		if err := r.fs.MkdirAll(rel, 0o755); err != nil {
			return "", fmt.Errorf("%w: create %s: %w", syncerr.ErrIO, rel, err)
		}
	}
	return r.abs(rel), nil
}

func (r *Resolver) abs(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

// DatabasePath is the absolute location of the snapshot file for kind.
func (r *Resolver) DatabasePath(instanceID string, kind api.FileKind) string {
	return r.abs(path.Join(r.Rel(instanceID, ScopeCircleMS, KindDatabases), string(kind)+".sqlite"))
}

// CoverFile is the cache-relative path of the catalog cover image.
func (r *Resolver) CoverFile(instanceID string) string {
	return path.Join(r.Rel(instanceID, ScopeCircleMS, KindImages), coverFile)
}

// CircleImagesDir is the cache-relative directory holding circle cuts.
func (r *Resolver) CircleImagesDir(instanceID string) string {
	return path.Join(r.Rel(instanceID, ScopeCircleMS, KindImages), circlesDir)
}

func (r *Resolver) CircleImageFile(instanceID string, circleID int) string {
	return path.Join(r.CircleImagesDir(instanceID), strconv.Itoa(circleID)+".png")
}

// CleanAll removes the instance tree and every marker recorded for it.
func (r *Resolver) CleanAll(instanceID string) error {
	if err := util.RemoveAll(r.fs, instanceDir(instanceID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", syncerr.ErrIO, instanceDir(instanceID), err)
	}
	if r.markers != nil {
		if err := r.markers.ClearInstance(instanceID); err != nil {
			return err
		}
	}
	return nil
}

// Lock takes an exclusive advisory lock on the instance. The returned func
// releases it.
func (r *Resolver) Lock(instanceID string) (func() error, error) {
	dir := r.abs(instanceDir(instanceID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", syncerr.ErrIO, dir, err)
	}
	return lockPath(filepath.Join(dir, lockFile))
}
