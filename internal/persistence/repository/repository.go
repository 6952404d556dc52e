package repository

import (
	"context"
	"errors"

	"github.com/davidroman0O/pipelite/internal/types"
)

// Repository errors
var (
	// ErrNotFound is the error kind of every missing or soft-deleted record.
	ErrNotFound = types.ErrNotFound
	// ErrClosed is returned once Close was called.
	ErrClosed = errors.New("repository closed")
	// ErrConflict is returned when a write lost a race it could not retry.
	ErrConflict = errors.New("conflicting write")
)

// Repository represents the main repository interface. Implementations keep
// every multi-record write atomic and run guard callbacks while holding the
// store-level lock of the records they protect.
type Repository interface {
	Pipelines() PipelineRepository
	Workflows() WorkflowRepository
	WorkflowPipelines() WorkflowPipelineRepository
	Dependencies() DependencyRepository
	PipelineRuns() PipelineRunRepository
	WorkflowRuns() WorkflowRunRepository

	Close() error
}

type PipelineRepository interface {
	Create(ctx context.Context, pipeline *types.Pipeline) (*types.Pipeline, error)
	Get(ctx context.Context, id types.PipelineID) (*types.Pipeline, error)
	// FindByName returns the oldest live pipeline carrying name.
	FindByName(ctx context.Context, name string) (*types.Pipeline, error)
	// List returns the live pipelines with the given ids, all of them when
	// ids is empty, in creation order.
	List(ctx context.Context, ids ...types.PipelineID) ([]*types.Pipeline, error)
	Update(ctx context.Context, id types.PipelineID, spec types.PipelineSpec) (*types.Pipeline, error)
	Delete(ctx context.Context, id types.PipelineID) error
}

type WorkflowRepository interface {
	Create(ctx context.Context, workflow *types.Workflow) (*types.Workflow, error)
	Get(ctx context.Context, id types.WorkflowID) (*types.Workflow, error)
	List(ctx context.Context, ids ...types.WorkflowID) ([]*types.Workflow, error)
	Update(ctx context.Context, id types.WorkflowID, spec types.WorkflowSpec) (*types.Workflow, error)
	// Delete soft deletes the workflow together with its nodes and edges.
	Delete(ctx context.Context, id types.WorkflowID) error
}

type WorkflowPipelineRepository interface {
	// Create fails with ErrNotFound when the workflow or the pipeline is not live.
	Create(ctx context.Context, node *types.WorkflowPipeline) (*types.WorkflowPipeline, error)
	Get(ctx context.Context, id types.WorkflowPipelineID) (*types.WorkflowPipeline, error)
	// ListByWorkflow returns the live nodes of a workflow in creation order.
	ListByWorkflow(ctx context.Context, workflowID types.WorkflowID) ([]*types.WorkflowPipeline, error)
	// Delete soft deletes the node and every edge touching it.
	Delete(ctx context.Context, id types.WorkflowPipelineID) error
}

// GraphSnapshot is the live content of one workflow graph, nodes and edges
// in creation order.
type GraphSnapshot struct {
	Workflow *types.Workflow
	Nodes    []*types.WorkflowPipeline
	Edges    []*types.WorkflowPipelineDependency
}

// DependencyGuard inspects the graph an edge is about to join. A non nil
// error aborts the insert and is returned as is.
type DependencyGuard func(snapshot GraphSnapshot) error

type DependencyRepository interface {
	// Insert adds dep to its workflow when guard accepts the current graph.
	// The read of the graph, the guard and the write form one atomic unit per
	// workflow. When a live edge with the same endpoints already exists it is
	// returned and created is false; guard is not called.
	Insert(ctx context.Context, dep *types.WorkflowPipelineDependency, guard DependencyGuard) (edge *types.WorkflowPipelineDependency, created bool, err error)
	// Snapshot reads the live graph of a workflow.
	Snapshot(ctx context.Context, workflowID types.WorkflowID) (GraphSnapshot, error)
	ListByWorkflow(ctx context.Context, workflowID types.WorkflowID) ([]*types.WorkflowPipelineDependency, error)
	// Delete soft deletes the live edge from -> to.
	Delete(ctx context.Context, workflowID types.WorkflowID, from, to types.WorkflowPipelineID) error
}

// TransitionFunc receives a copy of the run as currently stored and returns
// the state to append. A non nil error aborts without writing.
type TransitionFunc func(run *types.PipelineRun) (types.RunState, error)

type PipelineRunRepository interface {
	// Create allocates the next sequence of the run's pipeline and writes the
	// run, its inputs and its initial state history in one transaction.
	Create(ctx context.Context, run *types.PipelineRun) (*types.PipelineRun, error)
	Get(ctx context.Context, id types.PipelineRunID) (*types.PipelineRun, error)
	ListByPipeline(ctx context.Context, pipelineID types.PipelineID) ([]*types.PipelineRun, error)
	// Transition reads the run, calls fn and appends the returned state,
	// serialized against every other write to the same run.
	Transition(ctx context.Context, id types.PipelineRunID, fn TransitionFunc) (*types.PipelineRun, error)
	UpdateOutput(ctx context.Context, id types.PipelineRunID, stdout, stderr string) (*types.PipelineRun, error)
	// AppendArtifact assigns the next artifact position of the run.
	AppendArtifact(ctx context.Context, artifact *types.PipelineRunArtifact) (*types.PipelineRunArtifact, error)
}

// WorkflowRunMember is one node of a workflow run about to be created.
type WorkflowRunMember struct {
	Link *types.WorkflowPipelineRun
	Run  *types.PipelineRun
}

type WorkflowRunRepository interface {
	// Create writes the workflow run, every member pipeline run (sequence
	// allocated per pipeline) and every link in one transaction.
	Create(ctx context.Context, run *types.WorkflowRun, members []WorkflowRunMember) ([]*types.WorkflowPipelineRun, error)
	Get(ctx context.Context, id types.WorkflowRunID) (*types.WorkflowRun, error)
	ListByWorkflow(ctx context.Context, workflowID types.WorkflowID) ([]*types.WorkflowRun, error)
	GetMember(ctx context.Context, id types.WorkflowPipelineRunID) (*types.WorkflowPipelineRun, error)
	// ListMembers returns the links of a workflow run ordered by position.
	ListMembers(ctx context.Context, workflowRunID types.WorkflowRunID) ([]*types.WorkflowPipelineRun, error)
	FindMemberByPipelineRun(ctx context.Context, pipelineRunID types.PipelineRunID) (*types.WorkflowPipelineRun, error)
}
