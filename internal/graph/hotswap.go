package graph

import "sync"

// HotSwapGraph lets the mount start serving an empty tree while the sync
// runs, then switch to the catalog tree once it is Ready.
type HotSwapGraph struct {
	mu      sync.RWMutex
	current Graph
}

func NewHotSwapGraph(initial Graph) *HotSwapGraph {
	return &HotSwapGraph{current: initial}
}

// Swap replaces the served graph. In-flight reads finish on the old one.
func (h *HotSwapGraph) Swap(g Graph) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = g
}

func (h *HotSwapGraph) Current() Graph {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

func (h *HotSwapGraph) GetNode(id string) (*Node, error) {
	return h.Current().GetNode(id)
}

func (h *HotSwapGraph) ListChildren(id string) ([]string, error) {
	return h.Current().ListChildren(id)
}

func (h *HotSwapGraph) ReadContent(id string, buf []byte, offset int64) (int, error) {
	return h.Current().ReadContent(id, buf, offset)
}
