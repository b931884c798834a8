// Package graph is the browsable node tree of a synced catalog: directories
// for days, halls, areas and blocks, with one JSON file and one cut image per
// circle. The NFS mount serves it as a read-only filesystem.
package graph

import (
	"errors"
	"io/fs"
	"strings"
	"sync"
	"time"
)

var ErrNotFound = errors.New("node not found")

// ContentRef points at file content kept outside the tree, such as an
// extracted circle cut in the image cache.
type ContentRef struct {
	Path string // relative to the resolver's filesystem
	Size int64
}

// Node is a file or directory of the tree. IDs are slash-separated paths
// without a leading slash.
type Node struct {
	ID       string
	Mode     fs.FileMode // fs.ModeDir for directories, 0 for regular files
	ModTime  time.Time
	Data     []byte      // inline content
	Ref      *ContentRef // lazy content, nil for inline nodes
	Children []string    // child node IDs (directories only)
}

// ContentSize returns the byte length of the node's content, inline or lazy.
func (n *Node) ContentSize() int64 {
	if n.Data != nil {
		return int64(len(n.Data))
	}
	if n.Ref != nil {
		return n.Ref.Size
	}
	return 0
}

// ContentResolverFunc loads the content behind a ContentRef.
type ContentResolverFunc func(ref *ContentRef) ([]byte, error)

// Graph is the read surface the mount layer consumes.
type Graph interface {
	GetNode(id string) (*Node, error)
	ListChildren(id string) ([]string, error)
	ReadContent(id string, buf []byte, offset int64) (int, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	roots    []string
	resolver ContentResolverFunc
	cache    *contentCache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]*Node),
		roots: []string{},
	}
}

// SetResolver enables lazy content; resolved payloads are cached by node ID.
func (s *MemoryStore) SetResolver(fn ContentResolverFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolver = fn
	s.cache = newContentCache(256)
}

// AddRoot adds n and lists it at the top level.
func (s *MemoryStore) AddRoot(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
	for _, r := range s.roots {
		if r == n.ID {
			return
		}
	}
	s.roots = append(s.roots, n.ID)
}

func (s *MemoryStore) AddNode(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
}

// Len is the number of nodes, directories included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

func (s *MemoryStore) GetNode(id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[strings.TrimPrefix(id, "/")]
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

func (s *MemoryStore) ListChildren(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id == "" || id == "/" {
		return s.roots, nil
	}
	n, ok := s.nodes[strings.TrimPrefix(id, "/")]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Children, nil
}

// ReadContent copies content starting at offset into buf.
func (s *MemoryStore) ReadContent(id string, buf []byte, offset int64) (int, error) {
	node, err := s.GetNode(id)
	if err != nil {
		return 0, err
	}

	var data []byte
	switch {
	case node.Data != nil:
		data = node.Data
	case node.Ref != nil:
		if data, err = s.resolveContent(node.ID, node.Ref); err != nil {
			return 0, err
		}
	default:
		return 0, nil
	}

	if offset >= int64(len(data)) {
		return 0, nil
	}
	return copy(buf, data[offset:]), nil
}

func (s *MemoryStore) resolveContent(id string, ref *ContentRef) ([]byte, error) {
	s.mu.RLock()
	resolver, cache := s.resolver, s.cache
	s.mu.RUnlock()

	if cache != nil {
		if cached, ok := cache.get(id); ok {
			return cached, nil
		}
	}
	if resolver == nil {
		return nil, errors.New("no resolver configured for lazy content")
	}
	data, err := resolver(ref)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache.put(id, data)
	}
	return data, nil
}

// contentCache is a FIFO-evicting bounded cache of resolved content.
type contentCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	keys    []string
	maxSize int
}

func newContentCache(maxSize int) *contentCache {
	return &contentCache{
		entries: make(map[string][]byte, maxSize),
		keys:    make([]string, 0, maxSize),
		maxSize: maxSize,
	}
}

func (c *contentCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *contentCache) put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = value
		return
	}
	if len(c.entries) >= c.maxSize {
		evict := c.keys[0]
		c.keys = c.keys[1:]
		delete(c.entries, evict)
	}
	c.entries[key] = value
	c.keys = append(c.keys, key)
}
