// Package nfsmount serves the catalog tree over NFS. It adapts graph.Graph to
// billy.Filesystem for willscott/go-nfs; the filesystem is read-only.
package nfsmount

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"

	"github.com/agentic-research/cominavi/internal/graph"
)

// StatusFile is a virtual file at the root holding the current sync status.
const StatusFile = "_status.json"

var errReadOnly = errors.New("read-only filesystem")

// StatusFunc renders the contents of StatusFile on every access.
type StatusFunc func() []byte

type GraphFS struct {
	graph     graph.Graph
	status    StatusFunc
	mountTime time.Time
}

// NewGraphFS exposes g. status may be nil, which hides StatusFile.
func NewGraphFS(g graph.Graph, status StatusFunc) *GraphFS {
	return &GraphFS{graph: g, status: status, mountTime: time.Now()}
}

func (fs *GraphFS) statusData() []byte {
	if fs.status == nil {
		return nil
	}
	return fs.status()
}

func (fs *GraphFS) isStatus(name string) bool {
	return fs.status != nil && name == "/"+StatusFile
}

func (fs *GraphFS) statusInfo(data []byte) os.FileInfo {
	return &staticFileInfo{name: StatusFile, size: int64(len(data)), mode: 0o444, modTime: time.Now()}
}

// --- billy.Basic ---

func (fs *GraphFS) Create(string) (billy.File, error) { return nil, errReadOnly }

func (fs *GraphFS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *GraphFS) OpenFile(filename string, flag int, _ os.FileMode) (billy.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, errReadOnly
	}
	filename = cleanPath(filename)
	if fs.isStatus(filename) {
		return bytesFile(StatusFile, fs.statusData()), nil
	}

	node, err := fs.graph.GetNode(filename)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: filename, Err: os.ErrNotExist}
	}
	if node.Mode.IsDir() {
		return nil, &os.PathError{Op: "open", Path: filename, Err: fmt.Errorf("is a directory")}
	}
	return graphFile(fs.graph, filename, node.ContentSize()), nil
}

func (fs *GraphFS) Stat(filename string) (os.FileInfo, error) {
	return fs.Lstat(filename)
}

func (fs *GraphFS) Rename(string, string) error { return errReadOnly }

func (fs *GraphFS) Remove(string) error { return errReadOnly }

func (fs *GraphFS) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// --- billy.TempFile ---

func (fs *GraphFS) TempFile(string, string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

// --- billy.Dir ---

func (fs *GraphFS) ReadDir(path string) ([]os.FileInfo, error) {
	path = cleanPath(path)
	if path != "/" {
		node, err := fs.graph.GetNode(path)
		if err != nil {
			return nil, &os.PathError{Op: "readdir", Path: path, Err: os.ErrNotExist}
		}
		if !node.Mode.IsDir() {
			return nil, &os.PathError{Op: "readdir", Path: path, Err: fmt.Errorf("not a directory")}
		}
	}

	children, err := fs.graph.ListChildren(path)
	if err != nil {
		return nil, &os.PathError{Op: "readdir", Path: path, Err: os.ErrNotExist}
	}

	infos := make([]os.FileInfo, 0, len(children)+1)
	if path == "/" && fs.status != nil {
		infos = append(infos, fs.statusInfo(fs.statusData()))
	}
	for _, childID := range children {
		child, err := fs.graph.GetNode(childID)
		if err != nil {
			continue
		}
		infos = append(infos, nodeToFileInfo(child, fs.mountTime))
	}
	return infos, nil
}

func (fs *GraphFS) MkdirAll(string, os.FileMode) error { return errReadOnly }

// --- billy.Symlink ---

func (fs *GraphFS) Lstat(filename string) (os.FileInfo, error) {
	filename = cleanPath(filename)
	if filename == "/" {
		return &staticFileInfo{name: "/", mode: os.ModeDir | 0o555, modTime: fs.mountTime}, nil
	}
	if fs.isStatus(filename) {
		return fs.statusInfo(fs.statusData()), nil
	}

	node, err := fs.graph.GetNode(filename)
	if err != nil {
		return nil, &os.PathError{Op: "lstat", Path: filename, Err: os.ErrNotExist}
	}
	return nodeToFileInfo(node, fs.mountTime), nil
}

func (fs *GraphFS) Symlink(string, string) error { return billy.ErrNotSupported }

func (fs *GraphFS) Readlink(string) (string, error) { return "", billy.ErrNotSupported }

// --- billy.Chroot ---

func (fs *GraphFS) Chroot(path string) (billy.Filesystem, error) {
	return chroot.New(fs, path), nil
}

func (fs *GraphFS) Root() string { return "/" }

// --- billy.Capable ---

func (fs *GraphFS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

// cleanPath normalizes a billy path to a clean absolute path.
func cleanPath(path string) string {
	return filepath.Clean("/" + path)
}

func nodeToFileInfo(n *graph.Node, fallback time.Time) os.FileInfo {
	mode := os.FileMode(0o444)
	if n.Mode.IsDir() {
		mode = os.ModeDir | 0o555
	}
	modTime := n.ModTime
	if modTime.IsZero() {
		modTime = fallback
	}
	return &staticFileInfo{
		name:    filepath.Base(n.ID),
		size:    n.ContentSize(),
		mode:    mode,
		modTime: modTime,
	}
}

type staticFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *staticFileInfo) Name() string       { return fi.name }
func (fi *staticFileInfo) Size() int64        { return fi.size }
func (fi *staticFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *staticFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *staticFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *staticFileInfo) Sys() any           { return nil }

var (
	_ billy.Filesystem = (*GraphFS)(nil)
	_ billy.Capable    = (*GraphFS)(nil)
	_ billy.File       = (*roFile)(nil)
)
