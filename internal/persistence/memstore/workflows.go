package memstore

import (
	"context"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/davidroman0O/pipelite/internal/persistence/repository"
	"github.com/davidroman0O/pipelite/internal/types"
)

type workflowRepository struct {
	s *Store
}

type workflowPipelineRepository struct {
	s *Store
}

type dependencyRepository struct {
	s *Store
}

func liveWorkflow(txn *memdb.Txn, id types.WorkflowID) (*types.Workflow, error) {
	w, err := first[types.Workflow](txn, tableWorkflows, indexID, string(id))
	if err != nil {
		return nil, err
	}
	if w == nil || w.IsDeleted {
		return nil, types.NewNotFound("workflow", string(id))
	}
	return w, nil
}

func liveNode(txn *memdb.Txn, id types.WorkflowPipelineID) (*types.WorkflowPipeline, error) {
	n, err := first[types.WorkflowPipeline](txn, tableWorkflowPipelines, indexID, string(id))
	if err != nil {
		return nil, err
	}
	if n == nil || n.IsDeleted {
		return nil, types.NewNotFound("workflow pipeline", string(id))
	}
	return n, nil
}

func workflowKey(w *types.Workflow) (time.Time, string) {
	return w.CreatedAt, string(w.ID)
}

func nodeKey(n *types.WorkflowPipeline) (time.Time, string) {
	return n.CreatedAt, string(n.ID)
}

func edgeKey(e *types.WorkflowPipelineDependency) (time.Time, string) {
	return e.CreatedAt, string(e.ID)
}

func liveNodes(txn *memdb.Txn, workflowID types.WorkflowID) ([]*types.WorkflowPipeline, error) {
	found, err := all[types.WorkflowPipeline](txn, tableWorkflowPipelines, "workflow_id", string(workflowID))
	if err != nil {
		return nil, err
	}
	out := make([]*types.WorkflowPipeline, 0, len(found))
	for _, n := range found {
		if !n.IsDeleted {
			out = append(out, n)
		}
	}
	byCreation(out, nodeKey)
	return out, nil
}

func liveEdges(txn *memdb.Txn, workflowID types.WorkflowID) ([]*types.WorkflowPipelineDependency, error) {
	found, err := all[types.WorkflowPipelineDependency](txn, tableDependencies, "workflow_id", string(workflowID))
	if err != nil {
		return nil, err
	}
	out := make([]*types.WorkflowPipelineDependency, 0, len(found))
	for _, e := range found {
		if !e.IsDeleted {
			out = append(out, e)
		}
	}
	byCreation(out, edgeKey)
	return out, nil
}

func snapshot(txn *memdb.Txn, workflowID types.WorkflowID) (repository.GraphSnapshot, error) {
	w, err := liveWorkflow(txn, workflowID)
	if err != nil {
		return repository.GraphSnapshot{}, err
	}
	nodes, err := liveNodes(txn, workflowID)
	if err != nil {
		return repository.GraphSnapshot{}, err
	}
	edges, err := liveEdges(txn, workflowID)
	if err != nil {
		return repository.GraphSnapshot{}, err
	}
	return repository.GraphSnapshot{
		Workflow: clone(w),
		Nodes:    cloneAll(nodes),
		Edges:    cloneAll(edges),
	}, nil
}

func (r *workflowRepository) Create(ctx context.Context, workflow *types.Workflow) (*types.Workflow, error) {
	w := clone(workflow)
	if w.ID == types.NoWorkflowID {
		w.ID = types.WorkflowID(types.NewID())
	}
	now := r.s.now()
	w.CreatedAt = now
	w.UpdatedAt = now
	w.IsDeleted = false

	if err := r.s.write(func(txn *memdb.Txn) error {
		return txn.Insert(tableWorkflows, w)
	}); err != nil {
		return nil, err
	}
	return clone(w), nil
}

func (r *workflowRepository) Get(ctx context.Context, id types.WorkflowID) (*types.Workflow, error) {
	var out *types.Workflow
	err := r.s.read(func(txn *memdb.Txn) error {
		w, err := liveWorkflow(txn, id)
		if err != nil {
			return err
		}
		out = clone(w)
		return nil
	})
	return out, err
}

func (r *workflowRepository) List(ctx context.Context, ids ...types.WorkflowID) ([]*types.Workflow, error) {
	var out []*types.Workflow
	err := r.s.read(func(txn *memdb.Txn) error {
		var found []*types.Workflow
		if len(ids) == 0 {
			everything, err := all[types.Workflow](txn, tableWorkflows, indexID)
			if err != nil {
				return err
			}
			found = everything
		} else {
			for _, id := range ids {
				w, err := first[types.Workflow](txn, tableWorkflows, indexID, string(id))
				if err != nil {
					return err
				}
				if w != nil {
					found = append(found, w)
				}
			}
		}
		for _, w := range found {
			if !w.IsDeleted {
				out = append(out, clone(w))
			}
		}
		byCreation(out, workflowKey)
		return nil
	})
	return out, err
}

func (r *workflowRepository) Update(ctx context.Context, id types.WorkflowID, spec types.WorkflowSpec) (*types.Workflow, error) {
	var out *types.Workflow
	err := r.s.write(func(txn *memdb.Txn) error {
		current, err := liveWorkflow(txn, id)
		if err != nil {
			return err
		}
		w := clone(current)
		w.Name = spec.Name
		w.Description = spec.Description
		w.UpdatedAt = r.s.now()
		if err := txn.Insert(tableWorkflows, w); err != nil {
			return err
		}
		out = clone(w)
		return nil
	})
	return out, err
}

func (r *workflowRepository) Delete(ctx context.Context, id types.WorkflowID) error {
	return r.s.write(func(txn *memdb.Txn) error {
		current, err := liveWorkflow(txn, id)
		if err != nil {
			return err
		}
		now := r.s.now()

		w := clone(current)
		w.IsDeleted = true
		w.UpdatedAt = now
		if err := txn.Insert(tableWorkflows, w); err != nil {
			return err
		}

		nodes, err := liveNodes(txn, id)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			deleted := clone(n)
			deleted.IsDeleted = true
			deleted.UpdatedAt = now
			if err := txn.Insert(tableWorkflowPipelines, deleted); err != nil {
				return err
			}
		}

		edges, err := liveEdges(txn, id)
		if err != nil {
			return err
		}
		for _, e := range edges {
			deleted := clone(e)
			deleted.IsDeleted = true
			if err := txn.Insert(tableDependencies, deleted); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *workflowPipelineRepository) Create(ctx context.Context, node *types.WorkflowPipeline) (*types.WorkflowPipeline, error) {
	n := clone(node)
	if n.ID == types.NoWorkflowPipelineID {
		n.ID = types.WorkflowPipelineID(types.NewID())
	}
	err := r.s.write(func(txn *memdb.Txn) error {
		if _, err := liveWorkflow(txn, n.WorkflowID); err != nil {
			return err
		}
		if _, err := livePipeline(txn, n.PipelineID); err != nil {
			return err
		}
		now := r.s.now()
		n.CreatedAt = now
		n.UpdatedAt = now
		n.IsDeleted = false
		return txn.Insert(tableWorkflowPipelines, n)
	})
	if err != nil {
		return nil, err
	}
	return clone(n), nil
}

func (r *workflowPipelineRepository) Get(ctx context.Context, id types.WorkflowPipelineID) (*types.WorkflowPipeline, error) {
	var out *types.WorkflowPipeline
	err := r.s.read(func(txn *memdb.Txn) error {
		n, err := liveNode(txn, id)
		if err != nil {
			return err
		}
		out = clone(n)
		return nil
	})
	return out, err
}

func (r *workflowPipelineRepository) ListByWorkflow(ctx context.Context, workflowID types.WorkflowID) ([]*types.WorkflowPipeline, error) {
	var out []*types.WorkflowPipeline
	err := r.s.read(func(txn *memdb.Txn) error {
		if _, err := liveWorkflow(txn, workflowID); err != nil {
			return err
		}
		nodes, err := liveNodes(txn, workflowID)
		if err != nil {
			return err
		}
		out = cloneAll(nodes)
		return nil
	})
	return out, err
}

func (r *workflowPipelineRepository) Delete(ctx context.Context, id types.WorkflowPipelineID) error {
	return r.s.write(func(txn *memdb.Txn) error {
		current, err := liveNode(txn, id)
		if err != nil {
			return err
		}
		n := clone(current)
		n.IsDeleted = true
		n.UpdatedAt = r.s.now()
		if err := txn.Insert(tableWorkflowPipelines, n); err != nil {
			return err
		}

		edges, err := liveEdges(txn, n.WorkflowID)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if e.From != id && e.To != id {
				continue
			}
			deleted := clone(e)
			deleted.IsDeleted = true
			if err := txn.Insert(tableDependencies, deleted); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *dependencyRepository) Insert(ctx context.Context, dep *types.WorkflowPipelineDependency, guard repository.DependencyGuard) (*types.WorkflowPipelineDependency, bool, error) {
	var (
		out     *types.WorkflowPipelineDependency
		created bool
	)
	err := r.s.write(func(txn *memdb.Txn) error {
		snap, err := snapshot(txn, dep.WorkflowID)
		if err != nil {
			return err
		}
		for _, e := range snap.Edges {
			if e.From == dep.From && e.To == dep.To {
				out = e
				return nil
			}
		}
		if guard != nil {
			if err := guard(snap); err != nil {
				return err
			}
		}

		e := clone(dep)
		if e.ID == types.NoDependencyID {
			e.ID = types.DependencyID(types.NewID())
		}
		e.IsDeleted = false
		e.CreatedAt = r.s.now()
		if err := txn.Insert(tableDependencies, e); err != nil {
			return err
		}
		out = clone(e)
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (r *dependencyRepository) Snapshot(ctx context.Context, workflowID types.WorkflowID) (repository.GraphSnapshot, error) {
	var out repository.GraphSnapshot
	err := r.s.read(func(txn *memdb.Txn) error {
		snap, err := snapshot(txn, workflowID)
		out = snap
		return err
	})
	return out, err
}

func (r *dependencyRepository) ListByWorkflow(ctx context.Context, workflowID types.WorkflowID) ([]*types.WorkflowPipelineDependency, error) {
	snap, err := r.Snapshot(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return snap.Edges, nil
}

func (r *dependencyRepository) Delete(ctx context.Context, workflowID types.WorkflowID, from, to types.WorkflowPipelineID) error {
	return r.s.write(func(txn *memdb.Txn) error {
		if _, err := liveWorkflow(txn, workflowID); err != nil {
			return err
		}
		edges, err := liveEdges(txn, workflowID)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if e.From == from && e.To == to {
				deleted := clone(e)
				deleted.IsDeleted = true
				return txn.Insert(tableDependencies, deleted)
			}
		}
		return types.NewNotFound("dependency", string(from)+" -> "+string(to))
	})
}
