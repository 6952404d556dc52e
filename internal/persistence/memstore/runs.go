package memstore

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/davidroman0O/pipelite/internal/persistence/repository"
	"github.com/davidroman0O/pipelite/internal/types"
)

type pipelineRunRepository struct {
	s *Store
}

type workflowRunRepository struct {
	s *Store
}

func getRun(txn *memdb.Txn, id types.PipelineRunID) (*types.PipelineRun, error) {
	run, err := first[types.PipelineRun](txn, tablePipelineRuns, indexID, string(id))
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, types.NewNotFound("pipeline run", string(id))
	}
	return run, nil
}

// createRun bumps the pipeline run counter and inserts the run with its
// inputs and state history, all inside txn.
func createRun(txn *memdb.Txn, in *types.PipelineRun, now time.Time) (*types.PipelineRun, error) {
	current, err := livePipeline(txn, in.PipelineID)
	if err != nil {
		return nil, err
	}
	p := clone(current)
	p.RunCounter++
	p.UpdatedAt = now
	if err := txn.Insert(tablePipelines, p); err != nil {
		return nil, err
	}

	run := in.Copy()
	if run.ID == types.NoPipelineRunID {
		run.ID = types.PipelineRunID(types.NewID())
	}
	run.Sequence = p.RunCounter
	run.Version = 1
	run.CreatedAt = now
	run.UpdatedAt = now
	run.Artifacts = nil
	for i := range run.States {
		run.States[i].PipelineRunID = run.ID
		run.States[i].Position = i
		run.States[i].CreatedAt = now
	}
	for i := range run.Inputs {
		run.Inputs[i].PipelineRunID = run.ID
		run.Inputs[i].Position = i
	}
	if err := txn.Insert(tablePipelineRuns, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (r *pipelineRunRepository) Create(ctx context.Context, in *types.PipelineRun) (*types.PipelineRun, error) {
	var out *types.PipelineRun
	err := r.s.write(func(txn *memdb.Txn) error {
		run, err := createRun(txn, in, r.s.now())
		if err != nil {
			return err
		}
		out = run.Copy()
		return nil
	})
	return out, err
}

func (r *pipelineRunRepository) Get(ctx context.Context, id types.PipelineRunID) (*types.PipelineRun, error) {
	var out *types.PipelineRun
	err := r.s.read(func(txn *memdb.Txn) error {
		run, err := getRun(txn, id)
		if err != nil {
			return err
		}
		out = run.Copy()
		return nil
	})
	return out, err
}

func (r *pipelineRunRepository) ListByPipeline(ctx context.Context, pipelineID types.PipelineID) ([]*types.PipelineRun, error) {
	var out []*types.PipelineRun
	err := r.s.read(func(txn *memdb.Txn) error {
		if _, err := livePipeline(txn, pipelineID); err != nil {
			return err
		}
		runs, err := all[types.PipelineRun](txn, tablePipelineRuns, "pipeline_id", string(pipelineID))
		if err != nil {
			return err
		}
		for _, run := range runs {
			out = append(out, run.Copy())
		}
		slices.SortFunc(out, func(a, b *types.PipelineRun) int {
			return cmp.Compare(a.Sequence, b.Sequence)
		})
		return nil
	})
	return out, err
}

func (r *pipelineRunRepository) Transition(ctx context.Context, id types.PipelineRunID, fn repository.TransitionFunc) (*types.PipelineRun, error) {
	var out *types.PipelineRun
	err := r.s.write(func(txn *memdb.Txn) error {
		current, err := getRun(txn, id)
		if err != nil {
			return err
		}
		next, err := fn(current.Copy())
		if err != nil {
			return err
		}

		now := r.s.now()
		run := current.Copy()
		run.States = append(run.States, types.PipelineRunState{
			PipelineRunID: run.ID,
			Position:      len(run.States),
			Code:          next,
			CreatedAt:     now,
		})
		run.Version++
		run.UpdatedAt = now
		if err := txn.Insert(tablePipelineRuns, run); err != nil {
			return err
		}
		out = run.Copy()
		return nil
	})
	return out, err
}

func (r *pipelineRunRepository) UpdateOutput(ctx context.Context, id types.PipelineRunID, stdout, stderr string) (*types.PipelineRun, error) {
	var out *types.PipelineRun
	err := r.s.write(func(txn *memdb.Txn) error {
		current, err := getRun(txn, id)
		if err != nil {
			return err
		}
		run := current.Copy()
		run.StdOut = stdout
		run.StdErr = stderr
		run.Version++
		run.UpdatedAt = r.s.now()
		if err := txn.Insert(tablePipelineRuns, run); err != nil {
			return err
		}
		out = run.Copy()
		return nil
	})
	return out, err
}

func (r *pipelineRunRepository) AppendArtifact(ctx context.Context, artifact *types.PipelineRunArtifact) (*types.PipelineRunArtifact, error) {
	var out *types.PipelineRunArtifact
	err := r.s.write(func(txn *memdb.Txn) error {
		current, err := getRun(txn, artifact.PipelineRunID)
		if err != nil {
			return err
		}
		now := r.s.now()

		a := clone(artifact)
		if a.ID == types.NoArtifactID {
			a.ID = types.ArtifactID(types.NewID())
		}
		a.Position = len(current.Artifacts)
		a.CreatedAt = now

		run := current.Copy()
		run.Artifacts = append(run.Artifacts, *a)
		run.Version++
		run.UpdatedAt = now
		if err := txn.Insert(tablePipelineRuns, run); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

func (r *workflowRunRepository) Create(ctx context.Context, in *types.WorkflowRun, members []repository.WorkflowRunMember) ([]*types.WorkflowPipelineRun, error) {
	var out []*types.WorkflowPipelineRun
	err := r.s.write(func(txn *memdb.Txn) error {
		if _, err := liveWorkflow(txn, in.WorkflowID); err != nil {
			return err
		}
		now := r.s.now()

		wr := clone(in)
		if wr.ID == types.NoWorkflowRunID {
			wr.ID = types.WorkflowRunID(types.NewID())
		}
		wr.CreatedAt = now
		if err := txn.Insert(tableWorkflowRuns, wr); err != nil {
			return err
		}
		out = make([]*types.WorkflowPipelineRun, 0, len(members))
		for i, m := range members {
			run, err := createRun(txn, m.Run, now)
			if err != nil {
				return err
			}
			link := clone(m.Link)
			if link.ID == types.NoWorkflowPipelineRunID {
				link.ID = types.WorkflowPipelineRunID(types.NewID())
			}
			link.WorkflowRunID = wr.ID
			link.PipelineRunID = run.ID
			link.Position = i
			link.CreatedAt = now
			if err := txn.Insert(tableWorkflowMemberships, link); err != nil {
				return err
			}
			out = append(out, clone(link))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *workflowRunRepository) Get(ctx context.Context, id types.WorkflowRunID) (*types.WorkflowRun, error) {
	var out *types.WorkflowRun
	err := r.s.read(func(txn *memdb.Txn) error {
		wr, err := first[types.WorkflowRun](txn, tableWorkflowRuns, indexID, string(id))
		if err != nil {
			return err
		}
		if wr == nil {
			return types.NewNotFound("workflow run", string(id))
		}
		out = clone(wr)
		return nil
	})
	return out, err
}

func (r *workflowRunRepository) ListByWorkflow(ctx context.Context, workflowID types.WorkflowID) ([]*types.WorkflowRun, error) {
	var out []*types.WorkflowRun
	err := r.s.read(func(txn *memdb.Txn) error {
		if _, err := liveWorkflow(txn, workflowID); err != nil {
			return err
		}
		found, err := all[types.WorkflowRun](txn, tableWorkflowRuns, "workflow_id", string(workflowID))
		if err != nil {
			return err
		}
		out = cloneAll(found)
		byCreation(out, func(wr *types.WorkflowRun) (time.Time, string) {
			return wr.CreatedAt, string(wr.ID)
		})
		return nil
	})
	return out, err
}

func (r *workflowRunRepository) GetMember(ctx context.Context, id types.WorkflowPipelineRunID) (*types.WorkflowPipelineRun, error) {
	var out *types.WorkflowPipelineRun
	err := r.s.read(func(txn *memdb.Txn) error {
		link, err := first[types.WorkflowPipelineRun](txn, tableWorkflowMemberships, indexID, string(id))
		if err != nil {
			return err
		}
		if link == nil {
			return types.NewNotFound("workflow pipeline run", string(id))
		}
		out = clone(link)
		return nil
	})
	return out, err
}

func (r *workflowRunRepository) ListMembers(ctx context.Context, workflowRunID types.WorkflowRunID) ([]*types.WorkflowPipelineRun, error) {
	var out []*types.WorkflowPipelineRun
	err := r.s.read(func(txn *memdb.Txn) error {
		wr, err := first[types.WorkflowRun](txn, tableWorkflowRuns, indexID, string(workflowRunID))
		if err != nil {
			return err
		}
		if wr == nil {
			return types.NewNotFound("workflow run", string(workflowRunID))
		}
		links, err := all[types.WorkflowPipelineRun](txn, tableWorkflowMemberships, "workflow_run_id", string(workflowRunID))
		if err != nil {
			return err
		}
		out = cloneAll(links)
		slices.SortFunc(out, func(a, b *types.WorkflowPipelineRun) int {
			return cmp.Compare(a.Position, b.Position)
		})
		return nil
	})
	return out, err
}

func (r *workflowRunRepository) FindMemberByPipelineRun(ctx context.Context, pipelineRunID types.PipelineRunID) (*types.WorkflowPipelineRun, error) {
	var out *types.WorkflowPipelineRun
	err := r.s.read(func(txn *memdb.Txn) error {
		link, err := first[types.WorkflowPipelineRun](txn, tableWorkflowMemberships, "pipeline_run_id", string(pipelineRunID))
		if err != nil {
			return err
		}
		if link == nil {
			return types.NewNotFound("workflow pipeline run", "for pipeline run "+string(pipelineRunID))
		}
		out = clone(link)
		return nil
	})
	return out, err
}
