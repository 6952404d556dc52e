package workflows

import (
	"github.com/davidroman0O/pipelite/internal/dag"
	"github.com/davidroman0O/pipelite/internal/persistence/repository"
	"github.com/davidroman0O/pipelite/internal/types"
)

// Graph builds the directed graph of a workflow snapshot. Vertices follow
// node creation order.
func Graph(snap repository.GraphSnapshot) *dag.Graph[types.WorkflowPipelineID] {
	vertices := make([]types.WorkflowPipelineID, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		vertices = append(vertices, n.ID)
	}
	return dag.FromEdges(vertices, edges(snap.Edges))
}

func edges(deps []*types.WorkflowPipelineDependency) []dag.Edge[types.WorkflowPipelineID] {
	out := make([]dag.Edge[types.WorkflowPipelineID], 0, len(deps))
	for _, d := range deps {
		out = append(out, dag.Edge[types.WorkflowPipelineID]{Source: d.From, Target: d.To})
	}
	return out
}

// WouldCreateCycle reports whether adding from -> to to the given edge set
// produces a cycle. A self loop is a cycle.
func WouldCreateCycle(deps []*types.WorkflowPipelineDependency, from, to types.WorkflowPipelineID) bool {
	return dag.FromEdges(nil, edges(deps)).WouldCreateCycle(from, to)
}
