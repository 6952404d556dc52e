package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

const (
	workflowColumns = `id, name, description, is_deleted, created_at, updated_at`
	nodeColumns     = `id, workflow_id, pipeline_id, is_deleted, created_at, updated_at`
	edgeColumns     = `id, workflow_id, from_workflow_pipeline_id, to_workflow_pipeline_id, is_deleted, created_at`
)

func scanWorkflow(row scanner) (*types.Workflow, error) {
	var (
		w                types.Workflow
		created, updated int64
	)
	if err := row.Scan(&w.ID, &w.Name, &w.Description, &w.IsDeleted, &created, &updated); err != nil {
		return nil, err
	}
	w.CreatedAt = fromUnixNano(created)
	w.UpdatedAt = fromUnixNano(updated)
	return &w, nil
}

func scanNode(row scanner) (*types.WorkflowPipeline, error) {
	var (
		n                types.WorkflowPipeline
		created, updated int64
	)
	if err := row.Scan(&n.ID, &n.WorkflowID, &n.PipelineID, &n.IsDeleted, &created, &updated); err != nil {
		return nil, err
	}
	n.CreatedAt = fromUnixNano(created)
	n.UpdatedAt = fromUnixNano(updated)
	return &n, nil
}

func scanEdge(row scanner) (*types.WorkflowPipelineDependency, error) {
	var (
		e       types.WorkflowPipelineDependency
		created int64
	)
	if err := row.Scan(&e.ID, &e.WorkflowID, &e.From, &e.To, &e.IsDeleted, &created); err != nil {
		return nil, err
	}
	e.CreatedAt = fromUnixNano(created)
	return &e, nil
}

func (t *tx) liveWorkflow(ctx context.Context, id types.WorkflowID) (*types.Workflow, error) {
	w, err := scanWorkflow(t.queryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = ? AND is_deleted = FALSE`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFound("workflow", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("getting workflow: %w", err)
	}
	return w, nil
}

// lockWorkflow takes the row lock of a live workflow for the rest of the
// transaction.
func (t *tx) lockWorkflow(ctx context.Context, id types.WorkflowID) error {
	return t.touch(ctx, types.NewNotFound("workflow", string(id)),
		`UPDATE workflows SET updated_at = ? WHERE id = ? AND is_deleted = FALSE`,
		unixNano(t.s.now()), string(id))
}

func (t *tx) liveNodes(ctx context.Context, workflowID types.WorkflowID) ([]*types.WorkflowPipeline, error) {
	rows, err := t.query(ctx,
		`SELECT `+nodeColumns+` FROM workflow_pipelines WHERE workflow_id = ? AND is_deleted = FALSE ORDER BY created_at, id`,
		string(workflowID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.WorkflowPipeline
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (t *tx) liveEdges(ctx context.Context, workflowID types.WorkflowID) ([]*types.WorkflowPipelineDependency, error) {
	rows, err := t.query(ctx,
		`SELECT `+edgeColumns+` FROM workflow_pipeline_dependencies WHERE workflow_id = ? AND is_deleted = FALSE ORDER BY created_at, id`,
		string(workflowID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.WorkflowPipelineDependency
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *tx) snapshot(ctx context.Context, workflowID types.WorkflowID) (repository.GraphSnapshot, error) {
	w, err := t.liveWorkflow(ctx, workflowID)
	if err != nil {
		return repository.GraphSnapshot{}, err
	}
	nodes, err := t.liveNodes(ctx, workflowID)
	if err != nil {
		return repository.GraphSnapshot{}, err
	}
	edges, err := t.liveEdges(ctx, workflowID)
	if err != nil {
		return repository.GraphSnapshot{}, err
	}
	return repository.GraphSnapshot{Workflow: w, Nodes: nodes, Edges: edges}, nil
}

func (r *workflowRepository) Create(ctx context.Context, workflow *types.Workflow) (*types.Workflow, error) {
	w := *workflow
	if w.ID == types.NoWorkflowID {
		w.ID = types.WorkflowID(types.NewID())
	}
	now := r.s.now()
	w.CreatedAt = now
	w.UpdatedAt = now
	w.IsDeleted = false

	err := r.s.write(ctx, func(t *tx) error {
		_, err := t.exec(ctx,
			`INSERT INTO workflows (`+workflowColumns+`) VALUES (?, ?, ?, FALSE, ?, ?)`,
			string(w.ID), w.Name, w.Description, unixNano(now), unixNano(now))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating workflow: %w", err)
	}
	return &w, nil
}

func (r *workflowRepository) Get(ctx context.Context, id types.WorkflowID) (*types.Workflow, error) {
	var out *types.Workflow
	err := r.s.read(ctx, func(t *tx) error {
		w, err := t.liveWorkflow(ctx, id)
		out = w
		return err
	})
	return out, err
}

func (r *workflowRepository) List(ctx context.Context, ids ...types.WorkflowID) ([]*types.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE is_deleted = FALSE`
	args := make([]interface{}, 0, len(ids))
	if len(ids) > 0 {
		query += ` AND id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, string(id))
		}
	}
	query += ` ORDER BY created_at, id`

	var out []*types.Workflow
	err := r.s.read(ctx, func(t *tx) error {
		out = nil
		rows, err := t.query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			w, err := scanWorkflow(rows)
			if err != nil {
				return err
			}
			out = append(out, w)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	return out, nil
}

func (r *workflowRepository) Update(ctx context.Context, id types.WorkflowID, spec types.WorkflowSpec) (*types.Workflow, error) {
	var out *types.Workflow
	err := r.s.write(ctx, func(t *tx) error {
		if err := t.touch(ctx, types.NewNotFound("workflow", string(id)),
			`UPDATE workflows SET name = ?, description = ?, updated_at = ? WHERE id = ? AND is_deleted = FALSE`,
			spec.Name, spec.Description, unixNano(r.s.now()), string(id)); err != nil {
			return err
		}
		w, err := t.liveWorkflow(ctx, id)
		out = w
		return err
	})
	return out, err
}

func (r *workflowRepository) Delete(ctx context.Context, id types.WorkflowID) error {
	return r.s.write(ctx, func(t *tx) error {
		now := unixNano(r.s.now())
		if err := t.touch(ctx, types.NewNotFound("workflow", string(id)),
			`UPDATE workflows SET is_deleted = TRUE, updated_at = ? WHERE id = ? AND is_deleted = FALSE`,
			now, string(id)); err != nil {
			return err
		}
		if _, err := t.exec(ctx,
			`UPDATE workflow_pipelines SET is_deleted = TRUE, updated_at = ? WHERE workflow_id = ? AND is_deleted = FALSE`,
			now, string(id)); err != nil {
			return err
		}
		_, err := t.exec(ctx,
			`UPDATE workflow_pipeline_dependencies SET is_deleted = TRUE WHERE workflow_id = ? AND is_deleted = FALSE`,
			string(id))
		return err
	})
}

func (r *workflowPipelineRepository) Create(ctx context.Context, node *types.WorkflowPipeline) (*types.WorkflowPipeline, error) {
	n := *node
	if n.ID == types.NoWorkflowPipelineID {
		n.ID = types.WorkflowPipelineID(types.NewID())
	}
	n.IsDeleted = false

	err := r.s.write(ctx, func(t *tx) error {
		if err := t.lockWorkflow(ctx, n.WorkflowID); err != nil {
			return err
		}
		if _, err := t.livePipeline(ctx, n.PipelineID); err != nil {
			return err
		}
		now := r.s.now()
		n.CreatedAt = now
		n.UpdatedAt = now
		_, err := t.exec(ctx,
			`INSERT INTO workflow_pipelines (`+nodeColumns+`) VALUES (?, ?, ?, FALSE, ?, ?)`,
			string(n.ID), string(n.WorkflowID), string(n.PipelineID), unixNano(now), unixNano(now))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *workflowPipelineRepository) Get(ctx context.Context, id types.WorkflowPipelineID) (*types.WorkflowPipeline, error) {
	var out *types.WorkflowPipeline
	err := r.s.read(ctx, func(t *tx) error {
		n, err := scanNode(t.queryRow(ctx,
			`SELECT `+nodeColumns+` FROM workflow_pipelines WHERE id = ? AND is_deleted = FALSE`, string(id)))
		if errors.Is(err, sql.ErrNoRows) {
			return types.NewNotFound("workflow pipeline", string(id))
		}
		out = n
		return err
	})
	return out, err
}

func (r *workflowPipelineRepository) ListByWorkflow(ctx context.Context, workflowID types.WorkflowID) ([]*types.WorkflowPipeline, error) {
	var out []*types.WorkflowPipeline
	err := r.s.read(ctx, func(t *tx) error {
		if _, err := t.liveWorkflow(ctx, workflowID); err != nil {
			return err
		}
		nodes, err := t.liveNodes(ctx, workflowID)
		out = nodes
		return err
	})
	return out, err
}

func (r *workflowPipelineRepository) Delete(ctx context.Context, id types.WorkflowPipelineID) error {
	return r.s.write(ctx, func(t *tx) error {
		var workflowID string
		err := t.queryRow(ctx,
			`SELECT workflow_id FROM workflow_pipelines WHERE id = ? AND is_deleted = FALSE`, string(id)).Scan(&workflowID)
		if errors.Is(err, sql.ErrNoRows) {
			return types.NewNotFound("workflow pipeline", string(id))
		}
		if err != nil {
			return err
		}
		if err := t.lockWorkflow(ctx, types.WorkflowID(workflowID)); err != nil {
			return err
		}
		if err := t.touch(ctx, types.NewNotFound("workflow pipeline", string(id)),
			`UPDATE workflow_pipelines SET is_deleted = TRUE, updated_at = ? WHERE id = ? AND is_deleted = FALSE`,
			unixNano(r.s.now()), string(id)); err != nil {
			return err
		}
		_, err = t.exec(ctx,
			`UPDATE workflow_pipeline_dependencies SET is_deleted = TRUE
			WHERE is_deleted = FALSE AND (from_workflow_pipeline_id = ? OR to_workflow_pipeline_id = ?)`,
			string(id), string(id))
		return err
	})
}

func (r *dependencyRepository) Insert(ctx context.Context, dep *types.WorkflowPipelineDependency, guard repository.DependencyGuard) (*types.WorkflowPipelineDependency, bool, error) {
	var (
		out     *types.WorkflowPipelineDependency
		created bool
	)
	err := r.s.write(ctx, func(t *tx) error {
		out, created = nil, false
		if err := t.lockWorkflow(ctx, dep.WorkflowID); err != nil {
			return err
		}
		snap, err := t.snapshot(ctx, dep.WorkflowID)
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

		e := *dep
		if e.ID == types.NoDependencyID {
			e.ID = types.DependencyID(types.NewID())
		}
		e.IsDeleted = false
		e.CreatedAt = r.s.now()
		if _, err := t.exec(ctx,
			`INSERT INTO workflow_pipeline_dependencies (`+edgeColumns+`) VALUES (?, ?, ?, ?, FALSE, ?)`,
			string(e.ID), string(e.WorkflowID), string(e.From), string(e.To), unixNano(e.CreatedAt)); err != nil {
			return err
		}
		out = &e
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
	err := r.s.read(ctx, func(t *tx) error {
		snap, err := t.snapshot(ctx, workflowID)
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
	return r.s.write(ctx, func(t *tx) error {
		if err := t.lockWorkflow(ctx, workflowID); err != nil {
			return err
		}
		return t.touch(ctx, types.NewNotFound("dependency", string(from)+" -> "+string(to)),
			`UPDATE workflow_pipeline_dependencies SET is_deleted = TRUE
			WHERE workflow_id = ? AND from_workflow_pipeline_id = ? AND to_workflow_pipeline_id = ? AND is_deleted = FALSE`,
			string(workflowID), string(from), string(to))
	})
}
