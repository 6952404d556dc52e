// Package workflows manages reusable pipelines and the workflow graphs built
// from them. Every dependency insert goes through a cycle check that runs
// under the store lock of its workflow.
package workflows

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidroman0O/pipelite/internal/logs"
	"github.com/davidroman0O/pipelite/internal/persistence/repository"
	"github.com/davidroman0O/pipelite/internal/types"
)

type Service struct {
	db repository.Repository
}

func New(db repository.Repository) *Service {
	return &Service{db: db}
}

func (s *Service) CreatePipeline(ctx context.Context, spec types.PipelineSpec) (*types.Pipeline, error) {
	spec, err := normalizePipelineSpec(spec)
	if err != nil {
		logs.Debug(ctx, "CreatePipeline invalid input", "error", err)
		return nil, err
	}
	p, err := s.db.Pipelines().Create(ctx, &types.Pipeline{
		Name:             spec.Name,
		Description:      spec.Description,
		DockerImageURL:   spec.DockerImageURL,
		RepositorySSHURL: spec.RepositorySSHURL,
		RepositoryBranch: spec.RepositoryBranch,
	})
	if err != nil {
		logs.Error(ctx, "CreatePipeline error creating pipeline", "error", err)
		return nil, err
	}
	logs.Debug(ctx, "Pipeline created", "pipeline.id", p.ID, "pipeline.name", p.Name)
	return p, nil
}

func (s *Service) UpdatePipeline(ctx context.Context, id types.PipelineID, spec types.PipelineSpec) (*types.Pipeline, error) {
	if err := types.CheckID("pipeline_id", id); err != nil {
		return nil, err
	}
	spec, err := normalizePipelineSpec(spec)
	if err != nil {
		return nil, err
	}
	p, err := s.db.Pipelines().Update(ctx, id, spec)
	if err != nil {
		logs.Debug(ctx, "UpdatePipeline error updating pipeline", "pipeline.id", id, "error", err)
		return nil, err
	}
	return p, nil
}

func (s *Service) DeletePipeline(ctx context.Context, id types.PipelineID) error {
	if err := types.CheckID("pipeline_id", id); err != nil {
		return err
	}
	if err := s.db.Pipelines().Delete(ctx, id); err != nil {
		logs.Debug(ctx, "DeletePipeline error deleting pipeline", "pipeline.id", id, "error", err)
		return err
	}
	logs.Debug(ctx, "Pipeline deleted", "pipeline.id", id)
	return nil
}

func (s *Service) GetPipeline(ctx context.Context, id types.PipelineID) (*types.Pipeline, error) {
	if err := types.CheckID("pipeline_id", id); err != nil {
		return nil, err
	}
	return s.db.Pipelines().Get(ctx, id)
}

// FindPipeline returns the oldest live pipeline named name.
func (s *Service) FindPipeline(ctx context.Context, name string) (*types.Pipeline, error) {
	if name == "" {
		return nil, types.NewValidationError("name", "is required")
	}
	return s.db.Pipelines().FindByName(ctx, name)
}

// ListPipelines returns the live pipelines among ids, or all of them.
func (s *Service) ListPipelines(ctx context.Context, ids ...types.PipelineID) ([]*types.Pipeline, error) {
	for _, id := range ids {
		if err := types.CheckID("pipeline_id", id); err != nil {
			return nil, err
		}
	}
	return s.db.Pipelines().List(ctx, ids...)
}

func (s *Service) CreateWorkflow(ctx context.Context, spec types.WorkflowSpec) (*types.Workflow, error) {
	spec, err := normalizeWorkflowSpec(spec)
	if err != nil {
		logs.Debug(ctx, "CreateWorkflow invalid input", "error", err)
		return nil, err
	}
	w, err := s.db.Workflows().Create(ctx, &types.Workflow{
		Name:        spec.Name,
		Description: spec.Description,
	})
	if err != nil {
		logs.Error(ctx, "CreateWorkflow error creating workflow", "error", err)
		return nil, err
	}
	logs.Debug(ctx, "Workflow created", "workflow.id", w.ID, "workflow.name", w.Name)
	return w, nil
}

func (s *Service) UpdateWorkflow(ctx context.Context, id types.WorkflowID, spec types.WorkflowSpec) (*types.Workflow, error) {
	if err := types.CheckID("workflow_id", id); err != nil {
		return nil, err
	}
	spec, err := normalizeWorkflowSpec(spec)
	if err != nil {
		return nil, err
	}
	return s.db.Workflows().Update(ctx, id, spec)
}

// DeleteWorkflow soft deletes the workflow, its nodes and its edges.
func (s *Service) DeleteWorkflow(ctx context.Context, id types.WorkflowID) error {
	if err := types.CheckID("workflow_id", id); err != nil {
		return err
	}
	if err := s.db.Workflows().Delete(ctx, id); err != nil {
		logs.Debug(ctx, "DeleteWorkflow error deleting workflow", "workflow.id", id, "error", err)
		return err
	}
	logs.Debug(ctx, "Workflow deleted", "workflow.id", id)
	return nil
}

func (s *Service) GetWorkflow(ctx context.Context, id types.WorkflowID) (*types.Workflow, error) {
	if err := types.CheckID("workflow_id", id); err != nil {
		return nil, err
	}
	return s.db.Workflows().Get(ctx, id)
}

func (s *Service) ListWorkflows(ctx context.Context, ids ...types.WorkflowID) ([]*types.Workflow, error) {
	for _, id := range ids {
		if err := types.CheckID("workflow_id", id); err != nil {
			return nil, err
		}
	}
	return s.db.Workflows().List(ctx, ids...)
}

// AddWorkflowPipeline makes pipelineID a node of workflowID.
func (s *Service) AddWorkflowPipeline(ctx context.Context, workflowID types.WorkflowID, pipelineID types.PipelineID) (*types.WorkflowPipeline, error) {
	var errs types.ValidationErrors
	if err := types.CheckID("workflow_id", workflowID); err != nil {
		errs = append(errs, err.(*types.ValidationError))
	}
	if err := types.CheckID("pipeline_id", pipelineID); err != nil {
		errs = append(errs, err.(*types.ValidationError))
	}
	if err := errs.OrNil(); err != nil {
		return nil, err
	}

	n, err := s.db.WorkflowPipelines().Create(ctx, &types.WorkflowPipeline{
		WorkflowID: workflowID,
		PipelineID: pipelineID,
	})
	if err != nil {
		logs.Debug(ctx, "AddWorkflowPipeline error creating node", "workflow.id", workflowID, "pipeline.id", pipelineID, "error", err)
		return nil, err
	}
	logs.Debug(ctx, "Workflow pipeline added", "workflow.id", workflowID, "workflow_pipeline.id", n.ID)
	return n, nil
}

// RemoveWorkflowPipeline soft deletes the node and every edge touching it.
func (s *Service) RemoveWorkflowPipeline(ctx context.Context, id types.WorkflowPipelineID) error {
	if err := types.CheckID("workflow_pipeline_id", id); err != nil {
		return err
	}
	return s.db.WorkflowPipelines().Delete(ctx, id)
}

func (s *Service) ListWorkflowPipelines(ctx context.Context, workflowID types.WorkflowID) ([]*types.WorkflowPipeline, error) {
	if err := types.CheckID("workflow_id", workflowID); err != nil {
		return nil, err
	}
	return s.db.WorkflowPipelines().ListByWorkflow(ctx, workflowID)
}

// AddDependency inserts the edge from -> to, meaning to depends on from.
// Both nodes must be live members of the workflow. The edge is refused with
// a *types.CycleError when it would close a cycle; the membership check, the
// cycle check and the insert happen as one unit against concurrent inserts
// on the same workflow. Adding an edge that already exists returns it.
func (s *Service) AddDependency(ctx context.Context, workflowID types.WorkflowID, from, to types.WorkflowPipelineID) (*types.WorkflowPipelineDependency, error) {
	var errs types.ValidationErrors
	for _, check := range []struct {
		field string
		id    string
	}{
		{"workflow_id", string(workflowID)},
		{"from_workflow_pipeline_id", string(from)},
		{"to_workflow_pipeline_id", string(to)},
	} {
		if err := types.CheckID(check.field, check.id); err != nil {
			errs = append(errs, err.(*types.ValidationError))
		}
	}
	if err := errs.OrNil(); err != nil {
		return nil, err
	}

	guard := func(snap repository.GraphSnapshot) error {
		members := make(map[types.WorkflowPipelineID]struct{}, len(snap.Nodes))
		for _, n := range snap.Nodes {
			members[n.ID] = struct{}{}
		}
		var errs types.ValidationErrors
		if _, ok := members[from]; !ok {
			errs = append(errs, types.NewValidationError("from_workflow_pipeline_id", "%s is not a pipeline of workflow %s", from, workflowID))
		}
		if _, ok := members[to]; !ok {
			errs = append(errs, types.NewValidationError("to_workflow_pipeline_id", "%s is not a pipeline of workflow %s", to, workflowID))
		}
		if err := errs.OrNil(); err != nil {
			return err
		}
		if WouldCreateCycle(snap.Edges, from, to) {
			return &types.CycleError{WorkflowID: workflowID, From: from, To: to}
		}
		return nil
	}

	dep, created, err := s.db.Dependencies().Insert(ctx, &types.WorkflowPipelineDependency{
		WorkflowID: workflowID,
		From:       from,
		To:         to,
	}, guard)
	if err != nil {
		if errors.Is(err, types.ErrCycleRejected) {
			logs.Info(ctx, "Dependency rejected, it would create a cycle", "workflow.id", workflowID, "from", from, "to", to)
		} else {
			logs.Debug(ctx, "AddDependency error inserting edge", "workflow.id", workflowID, "error", err)
		}
		return nil, err
	}
	if created {
		logs.Debug(ctx, "Dependency added", "workflow.id", workflowID, "dependency.id", dep.ID, "from", from, "to", to)
	}
	return dep, nil
}

// WouldCreateCycle reports whether from -> to would close a cycle in the
// current graph of workflowID. It reads a snapshot and takes no lock, so the
// answer may be stale by the time AddDependency runs.
func (s *Service) WouldCreateCycle(ctx context.Context, workflowID types.WorkflowID, from, to types.WorkflowPipelineID) (bool, error) {
	if err := types.CheckID("workflow_id", workflowID); err != nil {
		return false, err
	}
	snap, err := s.db.Dependencies().Snapshot(ctx, workflowID)
	if err != nil {
		return false, err
	}
	return WouldCreateCycle(snap.Edges, from, to), nil
}

func (s *Service) RemoveDependency(ctx context.Context, workflowID types.WorkflowID, from, to types.WorkflowPipelineID) error {
	if err := types.CheckID("workflow_id", workflowID); err != nil {
		return err
	}
	return s.db.Dependencies().Delete(ctx, workflowID, from, to)
}

func (s *Service) ListDependencies(ctx context.Context, workflowID types.WorkflowID) ([]*types.WorkflowPipelineDependency, error) {
	if err := types.CheckID("workflow_id", workflowID); err != nil {
		return nil, err
	}
	return s.db.Dependencies().ListByWorkflow(ctx, workflowID)
}

// TopologicalOrder returns the live nodes of a workflow so that every edge
// goes from an earlier node to a later one. Ties keep node creation order.
func (s *Service) TopologicalOrder(ctx context.Context, workflowID types.WorkflowID) ([]*types.WorkflowPipeline, error) {
	if err := types.CheckID("workflow_id", workflowID); err != nil {
		return nil, err
	}
	snap, err := s.db.Dependencies().Snapshot(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return Order(snap)
}

// Order sorts the nodes of a snapshot topologically.
func Order(snap repository.GraphSnapshot) ([]*types.WorkflowPipeline, error) {
	ids, err := Graph(snap).TopologicalOrder()
	if err != nil {
		// unreachable while every insert goes through AddDependency
		return nil, fmt.Errorf("ordering workflow %s: %w", snap.Workflow.ID, err)
	}
	byID := make(map[types.WorkflowPipelineID]*types.WorkflowPipeline, len(snap.Nodes))
	for _, n := range snap.Nodes {
		byID[n.ID] = n
	}
	out := make([]*types.WorkflowPipeline, 0, len(ids))
	for _, id := range ids {
		if n, ok := byID[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}
