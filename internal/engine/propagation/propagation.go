// Package propagation maps a pipeline run of a workflow run to the runs of
// its neighbours in the workflow graph. It only reads: deciding what to do
// with a neighbour belongs to the executor.
package propagation

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidroman0O/pipelite/internal/engine/workflows"
	"github.com/davidroman0O/pipelite/internal/logs"
	"github.com/davidroman0O/pipelite/internal/persistence/repository"
	"github.com/davidroman0O/pipelite/internal/types"
)

type direction int

const (
	downstream direction = iota
	upstream
)

func (d direction) String() string {
	if d == upstream {
		return "upstream"
	}
	return "downstream"
}

type Resolver struct {
	db repository.Repository
}

func New(db repository.Repository) *Resolver {
	return &Resolver{db: db}
}

// DownstreamRuns returns the pipeline runs of the same workflow run whose
// node depends on the node of member, in edge creation order.
func (r *Resolver) DownstreamRuns(ctx context.Context, member types.WorkflowPipelineRunID) ([]*types.PipelineRun, error) {
	return r.resolve(ctx, member, downstream)
}

// UpstreamRuns returns the pipeline runs of the same workflow run the node
// of member depends on, in edge creation order.
func (r *Resolver) UpstreamRuns(ctx context.Context, member types.WorkflowPipelineRunID) ([]*types.PipelineRun, error) {
	return r.resolve(ctx, member, upstream)
}

// UpstreamSatisfied reports whether every upstream run is COMPLETED. A member
// without upstream runs is satisfied.
func (r *Resolver) UpstreamSatisfied(ctx context.Context, member types.WorkflowPipelineRunID) (bool, error) {
	runs, err := r.UpstreamRuns(ctx, member)
	if err != nil {
		return false, err
	}
	for _, run := range runs {
		if run.CurrentState() != types.RunStateCompleted {
			return false, nil
		}
	}
	return true, nil
}

// MemberOf returns the workflow run link of a pipeline run, NotFound for a
// standalone run.
func (r *Resolver) MemberOf(ctx context.Context, pipelineRunID types.PipelineRunID) (*types.WorkflowPipelineRun, error) {
	if err := types.CheckID("pipeline_run_id", pipelineRunID); err != nil {
		return nil, err
	}
	return r.db.WorkflowRuns().FindMemberByPipelineRun(ctx, pipelineRunID)
}

func (r *Resolver) resolve(ctx context.Context, memberID types.WorkflowPipelineRunID, dir direction) ([]*types.PipelineRun, error) {
	if err := types.CheckID("workflow_pipeline_run_id", memberID); err != nil {
		return nil, err
	}

	member, err := r.db.WorkflowRuns().GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	wr, err := r.db.WorkflowRuns().Get(ctx, member.WorkflowRunID)
	if err != nil {
		return nil, err
	}

	snap, err := r.db.Dependencies().Snapshot(ctx, wr.WorkflowID)
	if err != nil {
		// a deleted workflow has no live edge left
		if errors.Is(err, types.ErrNotFound) {
			logs.Debug(ctx, "Resolver found no live workflow", "workflow.id", wr.WorkflowID, "workflow_pipeline_run.id", memberID)
			return []*types.PipelineRun{}, nil
		}
		return nil, err
	}
	graph := workflows.Graph(snap)
	neighbours := graph.DownEdges(member.WorkflowPipelineID)
	if dir == upstream {
		neighbours = graph.UpEdges(member.WorkflowPipelineID)
	}

	siblings, err := r.db.WorkflowRuns().ListMembers(ctx, member.WorkflowRunID)
	if err != nil {
		return nil, err
	}
	byNode := make(map[types.WorkflowPipelineID]*types.WorkflowPipelineRun, len(siblings))
	for _, s := range siblings {
		byNode[s.WorkflowPipelineID] = s
	}

	out := []*types.PipelineRun{}
	seen := make(map[types.PipelineRunID]struct{})
	for _, neighbour := range neighbours {
		// nodes added after the run started have no run in it
		link, ok := byNode[neighbour]
		if !ok {
			continue
		}
		if _, dup := seen[link.PipelineRunID]; dup {
			continue
		}
		seen[link.PipelineRunID] = struct{}{}

		run, err := r.db.PipelineRuns().Get(ctx, link.PipelineRunID)
		if err != nil {
			return nil, fmt.Errorf("loading %s run %s: %w", dir, link.PipelineRunID, err)
		}
		out = append(out, run)
	}

	logs.Debug(ctx, "Resolved neighbour runs", "direction", dir.String(), "workflow_pipeline_run.id", memberID, "count", len(out))
	return out, nil
}
