package graph

import (
	"fmt"
	"strings"
	"sync"
)

// Layer is one analysis mode. Each layer is an independent overlay graph on
// the same item set.
type Layer string

const (
	LayerStandard Layer = "standard"
	LayerDeeper   Layer = "deeper"
	LayerTensions Layer = "tensions"
)

// Layers lists every layer in display order.
var Layers = []Layer{LayerStandard, LayerDeeper, LayerTensions}

// ParseLayer validates a layer name.
func ParseLayer(s string) (Layer, error) {
	l := Layer(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Layers {
		if l == known {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown layer %q", s)
}

// BuildsOnPrior reports whether the layer is handed every previously found
// connection as negative context.
func (l Layer) BuildsOnPrior() bool {
	return l == LayerDeeper
}

// Connection is one relationship edge. Connections are immutable once
// appended. Category is free-form; the collaborator invents its own.
type Connection struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	Label       string  `json:"label"`
	Explanation string  `json:"explanation"`
	Category    string  `json:"category"`
	Strength    float64 `json:"strength"`
	Surprise    float64 `json:"surprise"`
	Layer       Layer   `json:"layer"`
}

// Canonicalize strips structural decoration from an item id, e.g.
// "shape:item-3" becomes "item-3". Ids must be canonicalized before they
// are compared or grouped.
func Canonicalize(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndexByte(id, ':'); i >= 0 {
		id = id[i+1:]
	}
	return id
}

// Graph is the in-memory connection set of one board, partitioned by layer.
// It is safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	conns []Connection
	epoch uint64
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{}
}

// FromConnections rebuilds a graph from persisted connections, keeping
// their order and layer tags.
func FromConnections(conns []Connection) *Graph {
	g := &Graph{conns: make([]Connection, 0, len(conns))}
	for _, c := range conns {
		c.From = Canonicalize(c.From)
		c.To = Canonicalize(c.To)
		g.conns = append(g.conns, c)
	}
	return g
}

// FromConnectionsAt is FromConnections with the epoch starting at epoch.
// Callers that rebuild graphs for the same board keep epochs from repeating.
func FromConnectionsAt(conns []Connection, epoch uint64) *Graph {
	g := FromConnections(conns)
	g.epoch = epoch
	return g
}

// Append tags each connection with layer and adds it, preserving order.
func (g *Graph) Append(layer Layer, conns []Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.appendLocked(layer, conns)
}

// AppendAt appends only if no ClearAll happened since epoch was read.
// Returns false when the connections were discarded.
func (g *Graph) AppendAt(epoch uint64, layer Layer, conns []Connection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.epoch != epoch {
		return false
	}
	g.appendLocked(layer, conns)
	return true
}

func (g *Graph) appendLocked(layer Layer, conns []Connection) {
	for _, c := range conns {
		c.From = Canonicalize(c.From)
		c.To = Canonicalize(c.To)
		c.Layer = layer
		g.conns = append(g.conns, c)
	}
}

// ClearAll removes every connection in every layer and bumps the epoch so
// in-flight analysis results can be recognized as stale.
func (g *Graph) ClearAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns = nil
	g.epoch++
}

// Epoch returns the clear counter.
func (g *Graph) Epoch() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.epoch
}

// Connections returns a copy of the layer's connections in insertion order.
func (g *Graph) Connections(layer Layer) []Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Connection
	for _, c := range g.conns {
		if c.Layer == layer {
			out = append(out, c)
		}
	}
	return out
}

// All returns a copy of every connection across layers in insertion order.
func (g *Graph) All() []Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Connection, len(g.conns))
	copy(out, g.conns)
	return out
}

// Count returns the number of connections in a layer.
func (g *Graph) Count(layer Layer) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, c := range g.conns {
		if c.Layer == layer {
			n++
		}
	}
	return n
}

// ConnectedNodeSet returns every canonical endpoint in the layer. It is
// recomputed on each call rather than maintained incrementally.
func (g *Graph) ConnectedNodeSet(layer Layer) map[string]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	set := make(map[string]struct{})
	for _, c := range g.conns {
		if c.Layer != layer {
			continue
		}
		set[Canonicalize(c.From)] = struct{}{}
		set[Canonicalize(c.To)] = struct{}{}
	}
	return set
}
