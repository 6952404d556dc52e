package definition

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidroman0O/pipelite/internal/logs"
	"github.com/davidroman0O/pipelite/internal/types"
)

// Catalog is the part of the workflow service Apply needs.
type Catalog interface {
	FindPipeline(ctx context.Context, name string) (*types.Pipeline, error)
	CreatePipeline(ctx context.Context, spec types.PipelineSpec) (*types.Pipeline, error)
	CreateWorkflow(ctx context.Context, spec types.WorkflowSpec) (*types.Workflow, error)
	AddWorkflowPipeline(ctx context.Context, workflowID types.WorkflowID, pipelineID types.PipelineID) (*types.WorkflowPipeline, error)
	AddDependency(ctx context.Context, workflowID types.WorkflowID, from, to types.WorkflowPipelineID) (*types.WorkflowPipelineDependency, error)
}

type AppliedWorkflow struct {
	Workflow     *types.Workflow
	Steps        map[string]*types.WorkflowPipeline
	Dependencies []*types.WorkflowPipelineDependency
}

type Result struct {
	// Pipelines holds every pipeline the file touched, declared or referenced.
	Pipelines map[string]*types.Pipeline
	Created   []string
	Workflows []*AppliedWorkflow
}

// Apply creates what f declares. A declared pipeline whose name matches a
// live pipeline reuses it untouched. Workflows are always created anew and
// every edge goes through AddDependency.
func Apply(ctx context.Context, catalog Catalog, f *File) (*Result, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}

	res := &Result{Pipelines: map[string]*types.Pipeline{}}
	declared := make(map[string]struct{}, len(f.Pipelines))
	for _, p := range f.Pipelines {
		declared[p.Name] = struct{}{}
	}

	// resolve every outside reference before anything is written
	for _, w := range f.Workflows {
		var errs types.ValidationErrors
		for _, s := range w.Steps {
			if _, ok := declared[s.Pipeline]; ok {
				continue
			}
			if _, ok := res.Pipelines[s.Pipeline]; ok {
				continue
			}
			existing, err := catalog.FindPipeline(ctx, s.Pipeline)
			if errors.Is(err, types.ErrNotFound) {
				errs = append(errs, types.NewValidationError("workflow."+w.Name+".step."+s.Key+".pipeline", "unknown pipeline %q", s.Pipeline))
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("looking up pipeline %q: %w", s.Pipeline, err)
			}
			res.Pipelines[s.Pipeline] = existing
		}
		if err := errs.OrNil(); err != nil {
			return nil, err
		}
	}

	for _, p := range f.Pipelines {
		existing, err := catalog.FindPipeline(ctx, p.Name)
		switch {
		case err == nil:
			logs.Debug(ctx, "Definition reuses pipeline", "pipeline.name", p.Name, "pipeline.id", existing.ID)
			res.Pipelines[p.Name] = existing
			continue
		case !errors.Is(err, types.ErrNotFound):
			return nil, fmt.Errorf("looking up pipeline %q: %w", p.Name, err)
		}

		created, err := catalog.CreatePipeline(ctx, p.Spec())
		if err != nil {
			return nil, fmt.Errorf("creating pipeline %q: %w", p.Name, err)
		}
		res.Pipelines[p.Name] = created
		res.Created = append(res.Created, p.Name)
	}

	for _, w := range f.Workflows {
		applied, err := applyWorkflow(ctx, catalog, w, res.Pipelines)
		if err != nil {
			return nil, err
		}
		res.Workflows = append(res.Workflows, applied)
	}
	return res, nil
}

func applyWorkflow(ctx context.Context, catalog Catalog, w *Workflow, pipelines map[string]*types.Pipeline) (*AppliedWorkflow, error) {
	wf, err := catalog.CreateWorkflow(ctx, types.WorkflowSpec{Name: w.Name, Description: w.Description})
	if err != nil {
		return nil, fmt.Errorf("creating workflow %q: %w", w.Name, err)
	}

	applied := &AppliedWorkflow{
		Workflow: wf,
		Steps:    make(map[string]*types.WorkflowPipeline, len(w.Steps)),
	}
	for _, s := range w.Steps {
		node, err := catalog.AddWorkflowPipeline(ctx, wf.ID, pipelines[s.Pipeline].ID)
		if err != nil {
			return nil, fmt.Errorf("adding step %q to workflow %q: %w", s.Key, w.Name, err)
		}
		applied.Steps[s.Key] = node
	}

	for _, s := range w.Steps {
		for _, dep := range s.DependsOn {
			edge, err := catalog.AddDependency(ctx, wf.ID, applied.Steps[dep].ID, applied.Steps[s.Key].ID)
			if err != nil {
				return nil, fmt.Errorf("wiring %q -> %q in workflow %q: %w", dep, s.Key, w.Name, err)
			}
			applied.Dependencies = append(applied.Dependencies, edge)
		}
	}

	logs.Info(ctx, "Workflow applied", "workflow.name", w.Name, "workflow.id", wf.ID, "steps", len(applied.Steps), "dependencies", len(applied.Dependencies))
	return applied, nil
}
