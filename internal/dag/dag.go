package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCycle         = errors.New("graph contains a cycle")
	ErrSelfReference = errors.New("graph contains a self reference")
	ErrUnknownVertex = errors.New("unknown vertex")
)

// Edge is a directed edge Source -> Target.
type Edge[V comparable] struct {
	Source V
	Target V
}

// Graph is a directed graph over opaque vertex ids. Vertices and edges keep
// their insertion order so every traversal is deterministic for a given
// sequence of insertions.
//
// A Graph is not safe for concurrent mutation; it is meant to be rebuilt from
// a snapshot of edges for each validation.
type Graph[V comparable] struct {
	vertices []V
	index    map[V]int
	down     map[V][]V
	up       map[V][]V
	edges    map[Edge[V]]struct{}
}

func New[V comparable]() *Graph[V] {
	return &Graph[V]{
		index: make(map[V]int),
		down:  make(map[V][]V),
		up:    make(map[V][]V),
		edges: make(map[Edge[V]]struct{}),
	}
}

// FromEdges builds a graph holding the given vertices (in order) and edges.
// Edge endpoints that are not listed are added after the listed vertices.
func FromEdges[V comparable](vertices []V, edges []Edge[V]) *Graph[V] {
	g := New[V]()
	for _, v := range vertices {
		g.Add(v)
	}
	for _, e := range edges {
		g.Connect(e)
	}
	return g
}

func (g *Graph[V]) Add(v V) {
	if _, ok := g.index[v]; ok {
		return
	}
	g.index[v] = len(g.vertices)
	g.vertices = append(g.vertices, v)
}

func (g *Graph[V]) HasVertex(v V) bool {
	_, ok := g.index[v]
	return ok
}

func (g *Graph[V]) HasEdge(e Edge[V]) bool {
	_, ok := g.edges[e]
	return ok
}

// Connect adds the edge, adding missing endpoints. Parallel edges collapse.
func (g *Graph[V]) Connect(e Edge[V]) {
	g.Add(e.Source)
	g.Add(e.Target)
	if g.HasEdge(e) {
		return
	}
	g.edges[e] = struct{}{}
	g.down[e.Source] = append(g.down[e.Source], e.Target)
	g.up[e.Target] = append(g.up[e.Target], e.Source)
}

// DownEdges returns the targets of edges leaving v.
func (g *Graph[V]) DownEdges(v V) []V {
	return append([]V(nil), g.down[v]...)
}

// UpEdges returns the sources of edges entering v.
func (g *Graph[V]) UpEdges(v V) []V {
	return append([]V(nil), g.up[v]...)
}

func (g *Graph[V]) Edges() []Edge[V] {
	out := make([]Edge[V], 0, len(g.edges))
	for _, v := range g.vertices {
		for _, t := range g.down[v] {
			out = append(out, Edge[V]{Source: v, Target: t})
		}
	}
	return out
}

// Reachable reports whether to can be reached from from by following edges.
// A vertex reaches itself.
//
// Complexity: O(V+E)
func (g *Graph[V]) Reachable(from, to V) bool {
	if from == to {
		return true
	}
	seen := map[V]struct{}{from: {}}
	stack := []V{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, t := range g.down[n] {
			if t == to {
				return true
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			stack = append(stack, t)
		}
	}
	return false
}

// WouldCreateCycle reports whether adding source -> target to g makes it
// cyclic. The graph itself is left untouched. Assuming g is acyclic, the new
// edge closes a cycle exactly when source is reachable from target; a self
// loop is a cycle of length one.
//
// Complexity: O(V+E)
func (g *Graph[V]) WouldCreateCycle(source, target V) bool {
	if source == target {
		return true
	}
	if !g.HasVertex(source) || !g.HasVertex(target) {
		// one endpoint has no edges at all so no path can come back.
		return g.IsCyclic()
	}
	if g.IsCyclic() {
		return true
	}
	return g.Reachable(target, source)
}

// IsCyclic reports whether the graph contains any cycle, self loops included.
func (g *Graph[V]) IsCyclic() bool {
	for e := range g.edges {
		if e.Source == e.Target {
			return true
		}
	}
	return len(g.Cycles()) > 0
}

// Cycles returns the strongly connected components of two or more vertices.
// A self loop is a one vertex component, so IsCyclic and Validate check those
// on their own.
func (g *Graph[V]) Cycles() [][]V {
	var cycles [][]V
	for _, scc := range StronglyConnected(g) {
		if len(scc) > 1 {
			cycles = append(cycles, scc)
		}
	}
	return cycles
}

// Validate returns nil for a DAG, otherwise an error describing every cycle
// and self reference.
func (g *Graph[V]) Validate() error {
	var errs []error
	for _, cycle := range g.Cycles() {
		names := make([]string, len(cycle))
		for i, v := range cycle {
			names[i] = fmt.Sprint(v)
		}
		errs = append(errs, fmt.Errorf("%w: %s", ErrCycle, strings.Join(names, ", ")))
	}
	for _, e := range g.Edges() {
		if e.Source == e.Target {
			errs = append(errs, fmt.Errorf("%w: %v", ErrSelfReference, e.Source))
		}
	}
	return errors.Join(errs...)
}

// TopologicalOrder returns every vertex such that each edge goes from an
// earlier to a later vertex. Ties are broken by insertion order.
//
// Complexity: O(V log V + E)
func (g *Graph[V]) TopologicalOrder() ([]V, error) {
	inDegree := make(map[V]int, len(g.vertices))
	for _, v := range g.vertices {
		inDegree[v] = len(g.up[v])
	}

	ready := newIndexHeap(len(g.vertices))
	for _, v := range g.vertices {
		if inDegree[v] == 0 {
			ready.push(g.index[v])
		}
	}

	order := make([]V, 0, len(g.vertices))
	for ready.len() > 0 {
		v := g.vertices[ready.pop()]
		order = append(order, v)
		for _, t := range g.down[v] {
			inDegree[t]--
			if inDegree[t] == 0 {
				ready.push(g.index[t])
			}
		}
	}

	if len(order) != len(g.vertices) {
		return nil, ErrCycle
	}
	return order, nil
}
