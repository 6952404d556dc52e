package dag

import "container/heap"

// StronglyConnected returns the list of strongly connected components
// within the Graph g, using Tarjan's algorithm. A vertex that is not part of
// any cycle forms a component of its own.
func StronglyConnected[V comparable](g *Graph[V]) [][]V {
	acct := sccAcct[V]{
		NextIndex:   1,
		VertexIndex: make(map[V]int, len(g.vertices)),
		OnStack:     make(map[V]bool, len(g.vertices)),
	}
	for _, v := range g.vertices {
		// Recurse on any non-visited nodes
		if acct.VertexIndex[v] == 0 {
			stronglyConnected(&acct, g, v)
		}
	}
	return acct.SCC
}

func stronglyConnected[V comparable](acct *sccAcct[V], g *Graph[V], v V) int {
	index := acct.visit(v)
	minIdx := index

	for _, target := range g.down[v] {
		targetIdx := acct.VertexIndex[target]

		if targetIdx == 0 {
			minIdx = min(minIdx, stronglyConnected(acct, g, target))
		} else if acct.OnStack[target] {
			minIdx = min(minIdx, targetIdx)
		}
	}

	// Pop the strongly connected component off the stack if
	// this is a root vertex
	if index == minIdx {
		var scc []V
		for {
			v2 := acct.pop()
			scc = append(scc, v2)
			if v2 == v {
				break
			}
		}
		acct.SCC = append(acct.SCC, scc)
	}

	return minIdx
}

// sccAcct is used to pass around accounting information for
// the StronglyConnectedComponents algorithm
type sccAcct[V comparable] struct {
	NextIndex   int
	VertexIndex map[V]int
	OnStack     map[V]bool
	Stack       []V
	SCC         [][]V
}

func (s *sccAcct[V]) visit(v V) int {
	idx := s.NextIndex
	s.VertexIndex[v] = idx
	s.NextIndex++
	s.Stack = append(s.Stack, v)
	s.OnStack[v] = true
	return idx
}

func (s *sccAcct[V]) pop() V {
	n := len(s.Stack)
	vertex := s.Stack[n-1]
	s.Stack = s.Stack[:n-1]
	s.OnStack[vertex] = false
	return vertex
}

// indexHeap is a min-heap of vertex insertion indexes.
type indexHeap struct {
	items []int
}

func newIndexHeap(capacity int) *indexHeap {
	return &indexHeap{items: make([]int, 0, capacity)}
}

func (h *indexHeap) Len() int           { return len(h.items) }
func (h *indexHeap) Less(i, j int) bool { return h.items[i] < h.items[j] }
func (h *indexHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *indexHeap) Push(x any)         { h.items = append(h.items, x.(int)) }
func (h *indexHeap) Pop() any {
	n := len(h.items)
	x := h.items[n-1]
	h.items = h.items[:n-1]
	return x
}

func (h *indexHeap) push(i int) { heap.Push(h, i) }
func (h *indexHeap) pop() int   { return heap.Pop(h).(int) }
func (h *indexHeap) len() int   { return h.Len() }
