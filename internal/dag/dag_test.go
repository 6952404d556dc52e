package dag

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWouldCreateCycle(t *testing.T) {
	tests := []struct {
		name   string
		edges  []Edge[string]
		source string
		target string
		want   bool
	}{
		{"empty graph", nil, "a", "b", false},
		{"self loop on empty graph", nil, "a", "a", true},
		{"self loop on known vertex", []Edge[string]{{"a", "b"}}, "b", "b", true},
		{"reverse of existing edge", []Edge[string]{{"a", "b"}}, "b", "a", true},
		{"parallel edge", []Edge[string]{{"a", "b"}}, "a", "b", false},
		{"closing a long chain", []Edge[string]{{"a", "b"}, {"b", "c"}, {"c", "d"}}, "d", "a", true},
		{"shortcut of a chain", []Edge[string]{{"a", "b"}, {"b", "c"}, {"c", "d"}}, "a", "d", false},
		{"diamond join", []Edge[string]{{"a", "b"}, {"a", "c"}, {"b", "d"}}, "c", "d", false},
		{"diamond back edge", []Edge[string]{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}}, "d", "a", true},
		{"unrelated component", []Edge[string]{{"a", "b"}, {"x", "y"}}, "b", "x", false},
		{"new vertex", []Edge[string]{{"a", "b"}}, "b", "z", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := FromEdges(nil, tt.edges)
			before := len(g.Edges())
			assert.Equal(t, tt.want, g.WouldCreateCycle(tt.source, tt.target))
			assert.Len(t, g.Edges(), before, "the check must not mutate the graph")
		})
	}
}

func TestCyclesAndValidate(t *testing.T) {
	g := FromEdges(nil, []Edge[string]{{"a", "b"}, {"b", "c"}, {"c", "a"}, {"c", "d"}})

	cycles := g.Cycles()
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycles[0])
	assert.True(t, g.IsCyclic())
	assert.True(t, errors.Is(g.Validate(), ErrCycle))

	self := FromEdges(nil, []Edge[string]{{"a", "a"}})
	assert.Empty(t, self.Cycles())
	assert.True(t, self.IsCyclic())
	assert.True(t, errors.Is(self.Validate(), ErrSelfReference))

	ok := FromEdges(nil, []Edge[string]{{"a", "b"}})
	assert.NoError(t, ok.Validate())
}

func TestTopologicalOrder(t *testing.T) {
	g := FromEdges([]string{"load", "extract", "transform", "report"}, []Edge[string]{
		{"extract", "transform"},
		{"transform", "load"},
		{"extract", "report"},
	})

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"extract", "transform", "load", "report"}, order)

	g.Connect(Edge[string]{"load", "extract"})
	_, err = g.TopologicalOrder()
	assert.ErrorIs(t, err, ErrCycle)
}

func TestNeighbours(t *testing.T) {
	g := FromEdges(nil, []Edge[int]{{1, 3}, {1, 2}, {2, 4}, {3, 4}, {1, 2}})

	assert.Equal(t, []int{3, 2}, g.DownEdges(1))
	assert.Equal(t, []int{2, 3}, g.UpEdges(4))
	assert.Empty(t, g.UpEdges(1))
	assert.Empty(t, g.DownEdges(42))

	down := g.DownEdges(1)
	down[0] = 99
	assert.Equal(t, []int{3, 2}, g.DownEdges(1), "callers get a copy")
}

// Random insertions: an edge is accepted only when the check says it keeps
// the graph acyclic, and the check must agree with a brute force search.
func TestWouldCreateCycleRandomInsertions(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		const vertices = 12
		g := New[int]()
		for v := 0; v < vertices; v++ {
			g.Add(v)
		}

		for attempt := 0; attempt < 80; attempt++ {
			source := rng.Intn(vertices)
			target := rng.Intn(vertices)

			want := source == target || bruteForceReaches(g, target, source)
			got := g.WouldCreateCycle(source, target)
			require.Equal(t, want, got, "round %d edge %d -> %d", round, source, target)

			if !got {
				g.Connect(Edge[int]{source, target})
			}
			require.False(t, g.IsCyclic())
		}

		// every edge going "forward" in vertex order is DAG preserving and
		// therefore never rejected.
		fwd := New[int]()
		for a := 0; a < vertices; a++ {
			for b := a + 1; b < vertices; b++ {
				if rng.Intn(3) == 0 {
					require.False(t, fwd.WouldCreateCycle(a, b))
					fwd.Connect(Edge[int]{a, b})
				}
			}
		}
		require.NoError(t, fwd.Validate())
	}
}

func bruteForceReaches(g *Graph[int], from, to int) bool {
	visited := map[int]bool{}
	var visit func(int) bool
	visit = func(n int) bool {
		if n == to {
			return true
		}
		if visited[n] {
			return false
		}
		visited[n] = true
		for _, e := range g.Edges() {
			if e.Source == n && visit(e.Target) {
				return true
			}
		}
		return false
	}
	return visit(from)
}
