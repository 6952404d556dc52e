package pipelite

import (
	"context"
)

func (p *Pipelite) CreatePipeline(ctx context.Context, spec PipelineSpec) (*Pipeline, error) {
	return p.workflows.CreatePipeline(ctx, spec)
}

func (p *Pipelite) UpdatePipeline(ctx context.Context, id PipelineID, spec PipelineSpec) (*Pipeline, error) {
	return p.workflows.UpdatePipeline(ctx, id, spec)
}

func (p *Pipelite) DeletePipeline(ctx context.Context, id PipelineID) error {
	return p.workflows.DeletePipeline(ctx, id)
}

func (p *Pipelite) GetPipeline(ctx context.Context, id PipelineID) (*Pipeline, error) {
	return p.workflows.GetPipeline(ctx, id)
}

// FindPipeline returns the oldest live pipeline named name.
func (p *Pipelite) FindPipeline(ctx context.Context, name string) (*Pipeline, error) {
	return p.workflows.FindPipeline(ctx, name)
}

// ListPipelines returns the live pipelines among ids, or all of them when
// ids is empty. Unknown ids are skipped.
func (p *Pipelite) ListPipelines(ctx context.Context, ids ...PipelineID) ([]*Pipeline, error) {
	return p.workflows.ListPipelines(ctx, ids...)
}

func (p *Pipelite) CreateWorkflow(ctx context.Context, spec WorkflowSpec) (*Workflow, error) {
	return p.workflows.CreateWorkflow(ctx, spec)
}

func (p *Pipelite) UpdateWorkflow(ctx context.Context, id WorkflowID, spec WorkflowSpec) (*Workflow, error) {
	return p.workflows.UpdateWorkflow(ctx, id, spec)
}

// DeleteWorkflow removes the workflow with its nodes and edges. Runs already
// started keep their records.
func (p *Pipelite) DeleteWorkflow(ctx context.Context, id WorkflowID) error {
	return p.workflows.DeleteWorkflow(ctx, id)
}

func (p *Pipelite) GetWorkflow(ctx context.Context, id WorkflowID) (*Workflow, error) {
	return p.workflows.GetWorkflow(ctx, id)
}

func (p *Pipelite) ListWorkflows(ctx context.Context, ids ...WorkflowID) ([]*Workflow, error) {
	return p.workflows.ListWorkflows(ctx, ids...)
}

// AddWorkflowPipeline places pipelineID in the workflow as a new node. The
// same pipeline may appear several times.
func (p *Pipelite) AddWorkflowPipeline(ctx context.Context, workflowID WorkflowID, pipelineID PipelineID) (*WorkflowPipeline, error) {
	return p.workflows.AddWorkflowPipeline(ctx, workflowID, pipelineID)
}

func (p *Pipelite) RemoveWorkflowPipeline(ctx context.Context, id WorkflowPipelineID) error {
	return p.workflows.RemoveWorkflowPipeline(ctx, id)
}

func (p *Pipelite) ListWorkflowPipelines(ctx context.Context, workflowID WorkflowID) ([]*WorkflowPipeline, error) {
	return p.workflows.ListWorkflowPipelines(ctx, workflowID)
}

// AddDependency records that from must run before to. The edge is refused
// with ErrCycleRejected when it would close a cycle, the check and the write
// being atomic against other inserts on the same workflow.
func (p *Pipelite) AddDependency(ctx context.Context, workflowID WorkflowID, from, to WorkflowPipelineID) (*WorkflowPipelineDependency, error) {
	return p.workflows.AddDependency(ctx, workflowID, from, to)
}

func (p *Pipelite) RemoveDependency(ctx context.Context, workflowID WorkflowID, from, to WorkflowPipelineID) error {
	return p.workflows.RemoveDependency(ctx, workflowID, from, to)
}

func (p *Pipelite) ListDependencies(ctx context.Context, workflowID WorkflowID) ([]*WorkflowPipelineDependency, error) {
	return p.workflows.ListDependencies(ctx, workflowID)
}

// WouldCreateCycle answers without writing anything.
func (p *Pipelite) WouldCreateCycle(ctx context.Context, workflowID WorkflowID, from, to WorkflowPipelineID) (bool, error) {
	return p.workflows.WouldCreateCycle(ctx, workflowID, from, to)
}

func (p *Pipelite) TopologicalOrder(ctx context.Context, workflowID WorkflowID) ([]*WorkflowPipeline, error) {
	return p.workflows.TopologicalOrder(ctx, workflowID)
}
