package pipelite

import (
	"context"

	"github.com/davidroman0O/pipelite/internal/engine/runs"
)

// CreatePipelineRun starts a run of pipelineID in NOT_STARTED with the
// next sequence number of that pipeline.
func (p *Pipelite) CreatePipelineRun(ctx context.Context, pipelineID PipelineID, req PipelineRunRequest) (*PipelineRun, error) {
	return p.runs.CreatePipelineRun(ctx, pipelineID, req)
}

// Advance moves a run to requested. Once the new state is stored the run's
// callback URL is notified; a failed notification is logged and never undoes
// the transition.
func (p *Pipelite) Advance(ctx context.Context, id PipelineRunID, requested RunState) (*PipelineRunState, error) {
	return p.runs.Advance(ctx, id, requested)
}

func (p *Pipelite) AdvanceString(ctx context.Context, id PipelineRunID, state string) (*PipelineRunState, error) {
	return p.runs.AdvanceString(ctx, id, state)
}

func (p *Pipelite) UpdatePipelineRunOutput(ctx context.Context, id PipelineRunID, stdout, stderr string) (*PipelineRun, error) {
	return p.runs.UpdatePipelineRunOutput(ctx, id, stdout, stderr)
}

func (p *Pipelite) GetPipelineRun(ctx context.Context, id PipelineRunID) (*PipelineRun, error) {
	return p.runs.GetPipelineRun(ctx, id)
}

func (p *Pipelite) ListPipelineRuns(ctx context.Context, pipelineID PipelineID) ([]*PipelineRun, error) {
	return p.runs.ListPipelineRuns(ctx, pipelineID)
}

// AllowedTransitions lists the states a run in current may move to.
func AllowedTransitions(current RunState) []RunState {
	return runs.AllowedTransitions(current)
}

// StartWorkflowRun creates one pipeline run per node of the workflow, in
// topological order, all sharing callbackURL.
func (p *Pipelite) StartWorkflowRun(ctx context.Context, workflowID WorkflowID, callbackURL string) (*WorkflowRun, []*WorkflowPipelineRun, error) {
	return p.runs.StartWorkflowRun(ctx, workflowID, callbackURL)
}

func (p *Pipelite) GetWorkflowRun(ctx context.Context, id WorkflowRunID) (*WorkflowRun, error) {
	return p.runs.GetWorkflowRun(ctx, id)
}

func (p *Pipelite) ListWorkflowRuns(ctx context.Context, workflowID WorkflowID) ([]*WorkflowRun, error) {
	return p.runs.ListWorkflowRuns(ctx, workflowID)
}

func (p *Pipelite) ListWorkflowPipelineRuns(ctx context.Context, workflowRunID WorkflowRunID) ([]*WorkflowPipelineRun, error) {
	return p.runs.ListWorkflowPipelineRuns(ctx, workflowRunID)
}

func (p *Pipelite) PipelineRunsForWorkflowRun(ctx context.Context, workflowRunID WorkflowRunID) ([]*PipelineRun, error) {
	return p.runs.PipelineRunsForWorkflowRun(ctx, workflowRunID)
}

// DownstreamRuns returns the runs of the same workflow run whose nodes
// directly depend on member's node.
func (p *Pipelite) DownstreamRuns(ctx context.Context, member WorkflowPipelineRunID) ([]*PipelineRun, error) {
	return p.resolver.DownstreamRuns(ctx, member)
}

func (p *Pipelite) UpstreamRuns(ctx context.Context, member WorkflowPipelineRunID) ([]*PipelineRun, error) {
	return p.resolver.UpstreamRuns(ctx, member)
}

// UpstreamSatisfied reports whether every upstream run of member completed.
func (p *Pipelite) UpstreamSatisfied(ctx context.Context, member WorkflowPipelineRunID) (bool, error) {
	return p.resolver.UpstreamSatisfied(ctx, member)
}

func (p *Pipelite) MemberOf(ctx context.Context, pipelineRunID PipelineRunID) (*WorkflowPipelineRun, error) {
	return p.resolver.MemberOf(ctx, pipelineRunID)
}

// SendCallback posts payload to url right away and reports the outcome,
// unlike Advance which only logs it.
func (p *Pipelite) SendCallback(ctx context.Context, url string, payload CallbackPayload) error {
	return p.notifier.Send(ctx, url, payload)
}
