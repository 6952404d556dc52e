package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/davidroman0O/pipelite/internal/persistence/repository"
	"github.com/davidroman0O/pipelite/internal/types"
)

type pipelineRunRepository struct {
	s *Store
}

type workflowRunRepository struct {
	s *Store
}

const (
	runColumns         = `id, pipeline_id, sequence, callback_url, std_out, std_err, version, created_at, updated_at`
	workflowRunColumns = `id, workflow_id, created_at`
	memberColumns      = `id, workflow_run_id, workflow_pipeline_id, pipeline_run_id, position, created_at`
)

func scanRun(row scanner) (*types.PipelineRun, error) {
	var (
		run              types.PipelineRun
		created, updated int64
	)
	if err := row.Scan(
		&run.ID,
		&run.PipelineID,
		&run.Sequence,
		&run.CallbackURL,
		&run.StdOut,
		&run.StdErr,
		&run.Version,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}
	run.CreatedAt = fromUnixNano(created)
	run.UpdatedAt = fromUnixNano(updated)
	return &run, nil
}

func scanMember(row scanner) (*types.WorkflowPipelineRun, error) {
	var (
		m       types.WorkflowPipelineRun
		created int64
	)
	if err := row.Scan(&m.ID, &m.WorkflowRunID, &m.WorkflowPipelineID, &m.PipelineRunID, &m.Position, &created); err != nil {
		return nil, err
	}
	m.CreatedAt = fromUnixNano(created)
	return &m, nil
}

// loadRun reads a run with its states, inputs and artifacts.
func (t *tx) loadRun(ctx context.Context, id types.PipelineRunID) (*types.PipelineRun, error) {
	run, err := scanRun(t.queryRow(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFound("pipeline run", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("getting pipeline run: %w", err)
	}

	err = t.each(ctx, func(rows *sql.Rows) error {
		var (
			s       = types.PipelineRunState{PipelineRunID: id}
			created int64
		)
		if err := rows.Scan(&s.Position, &s.Code, &created); err != nil {
			return err
		}
		s.CreatedAt = fromUnixNano(created)
		run.States = append(run.States, s)
		return nil
	}, `SELECT position, code, created_at FROM pipeline_run_states WHERE pipeline_run_id = ? ORDER BY position`, string(id))
	if err != nil {
		return nil, err
	}

	err = t.each(ctx, func(rows *sql.Rows) error {
		in := types.PipelineRunInput{PipelineRunID: id}
		if err := rows.Scan(&in.Position, &in.Filename, &in.URL); err != nil {
			return err
		}
		run.Inputs = append(run.Inputs, in)
		return nil
	}, `SELECT position, filename, url FROM pipeline_run_inputs WHERE pipeline_run_id = ? ORDER BY position`, string(id))
	if err != nil {
		return nil, err
	}

	err = t.each(ctx, func(rows *sql.Rows) error {
		var (
			a       = types.PipelineRunArtifact{PipelineRunID: id}
			created int64
		)
		if err := rows.Scan(&a.ID, &a.Position, &a.Name, &a.StorageKey, &a.Size, &created); err != nil {
			return err
		}
		a.CreatedAt = fromUnixNano(created)
		run.Artifacts = append(run.Artifacts, a)
		return nil
	}, `SELECT id, position, name, storage_key, size, created_at FROM pipeline_run_artifacts WHERE pipeline_run_id = ? ORDER BY position`, string(id))
	if err != nil {
		return nil, err
	}
	return run, nil
}

// lockRun takes the row lock of a run for the rest of the transaction.
func (t *tx) lockRun(ctx context.Context, id types.PipelineRunID, now time.Time) error {
	return t.touch(ctx, types.NewNotFound("pipeline run", string(id)),
		`UPDATE pipeline_runs SET version = version + 1, updated_at = ? WHERE id = ?`,
		unixNano(now), string(id))
}

// createRun bumps the pipeline run counter and inserts the run with its
// inputs and state history.
func (t *tx) createRun(ctx context.Context, in *types.PipelineRun, now time.Time) (*types.PipelineRun, error) {
	if err := t.touch(ctx, types.NewNotFound("pipeline", string(in.PipelineID)),
		`UPDATE pipelines SET run_counter = run_counter + 1, updated_at = ? WHERE id = ? AND is_deleted = FALSE`,
		unixNano(now), string(in.PipelineID)); err != nil {
		return nil, err
	}
	var sequence int
	if err := t.queryRow(ctx, `SELECT run_counter FROM pipelines WHERE id = ?`, string(in.PipelineID)).Scan(&sequence); err != nil {
		return nil, fmt.Errorf("allocating run sequence: %w", err)
	}

	run := in.Copy()
	if run.ID == types.NoPipelineRunID {
		run.ID = types.PipelineRunID(types.NewID())
	}
	run.Sequence = sequence
	run.Version = 1
	run.CreatedAt = now
	run.UpdatedAt = now
	run.Artifacts = nil

	if _, err := t.exec(ctx,
		`INSERT INTO pipeline_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		string(run.ID), string(run.PipelineID), run.Sequence, run.CallbackURL, run.StdOut, run.StdErr,
		unixNano(now), unixNano(now)); err != nil {
		return nil, fmt.Errorf("creating pipeline run: %w", err)
	}
	for i := range run.Inputs {
		run.Inputs[i].PipelineRunID = run.ID
		run.Inputs[i].Position = i
		if _, err := t.exec(ctx,
			`INSERT INTO pipeline_run_inputs (pipeline_run_id, position, filename, url) VALUES (?, ?, ?, ?)`,
			string(run.ID), i, run.Inputs[i].Filename, run.Inputs[i].URL); err != nil {
			return nil, fmt.Errorf("creating pipeline run input: %w", err)
		}
	}
	for i := range run.States {
		run.States[i].PipelineRunID = run.ID
		run.States[i].Position = i
		run.States[i].CreatedAt = now
		if _, err := t.exec(ctx,
			`INSERT INTO pipeline_run_states (pipeline_run_id, position, code, created_at) VALUES (?, ?, ?, ?)`,
			string(run.ID), i, string(run.States[i].Code), unixNano(now)); err != nil {
			return nil, fmt.Errorf("creating pipeline run state: %w", err)
		}
	}
	return run, nil
}

func (r *pipelineRunRepository) Create(ctx context.Context, in *types.PipelineRun) (*types.PipelineRun, error) {
	var out *types.PipelineRun
	err := r.s.write(ctx, func(t *tx) error {
		run, err := t.createRun(ctx, in, r.s.now())
		out = run
		return err
	})
	return out, err
}

func (r *pipelineRunRepository) Get(ctx context.Context, id types.PipelineRunID) (*types.PipelineRun, error) {
	var out *types.PipelineRun
	err := r.s.read(ctx, func(t *tx) error {
		run, err := t.loadRun(ctx, id)
		out = run
		return err
	})
	return out, err
}

func (r *pipelineRunRepository) ListByPipeline(ctx context.Context, pipelineID types.PipelineID) ([]*types.PipelineRun, error) {
	var out []*types.PipelineRun
	err := r.s.read(ctx, func(t *tx) error {
		out = nil
		if _, err := t.livePipeline(ctx, pipelineID); err != nil {
			return err
		}
		var ids []types.PipelineRunID
		err := t.each(ctx, func(rows *sql.Rows) error {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, types.PipelineRunID(id))
			return nil
		}, `SELECT id FROM pipeline_runs WHERE pipeline_id = ? ORDER BY sequence`, string(pipelineID))
		if err != nil {
			return err
		}
		for _, id := range ids {
			run, err := t.loadRun(ctx, id)
			if err != nil {
				return err
			}
			out = append(out, run)
		}
		return nil
	})
	return out, err
}

func (r *pipelineRunRepository) Transition(ctx context.Context, id types.PipelineRunID, fn repository.TransitionFunc) (*types.PipelineRun, error) {
	var out *types.PipelineRun
	err := r.s.write(ctx, func(t *tx) error {
		now := r.s.now()
		if err := t.lockRun(ctx, id, now); err != nil {
			return err
		}
		run, err := t.loadRun(ctx, id)
		if err != nil {
			return err
		}
		next, err := fn(run.Copy())
		if err != nil {
			return err
		}
		state := types.PipelineRunState{
			PipelineRunID: id,
			Position:      len(run.States),
			Code:          next,
			CreatedAt:     now,
		}
		if _, err := t.exec(ctx,
			`INSERT INTO pipeline_run_states (pipeline_run_id, position, code, created_at) VALUES (?, ?, ?, ?)`,
			string(id), state.Position, string(state.Code), unixNano(now)); err != nil {
			return fmt.Errorf("appending pipeline run state: %w", err)
		}
		run.States = append(run.States, state)
		out = run
		return nil
	})
	return out, err
}

func (r *pipelineRunRepository) UpdateOutput(ctx context.Context, id types.PipelineRunID, stdout, stderr string) (*types.PipelineRun, error) {
	var out *types.PipelineRun
	err := r.s.write(ctx, func(t *tx) error {
		if err := t.touch(ctx, types.NewNotFound("pipeline run", string(id)),
			`UPDATE pipeline_runs SET std_out = ?, std_err = ?, version = version + 1, updated_at = ? WHERE id = ?`,
			stdout, stderr, unixNano(r.s.now()), string(id)); err != nil {
			return err
		}
		run, err := t.loadRun(ctx, id)
		out = run
		return err
	})
	return out, err
}

func (r *pipelineRunRepository) AppendArtifact(ctx context.Context, artifact *types.PipelineRunArtifact) (*types.PipelineRunArtifact, error) {
	var out *types.PipelineRunArtifact
	err := r.s.write(ctx, func(t *tx) error {
		now := r.s.now()
		if err := t.lockRun(ctx, artifact.PipelineRunID, now); err != nil {
			return err
		}
		var count int
		if err := t.queryRow(ctx,
			`SELECT COUNT(*) FROM pipeline_run_artifacts WHERE pipeline_run_id = ?`, string(artifact.PipelineRunID)).Scan(&count); err != nil {
			return err
		}

		a := *artifact
		if a.ID == types.NoArtifactID {
			a.ID = types.ArtifactID(types.NewID())
		}
		a.Position = count
		a.CreatedAt = now
		if _, err := t.exec(ctx,
			`INSERT INTO pipeline_run_artifacts (id, pipeline_run_id, position, name, storage_key, size, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(a.ID), string(a.PipelineRunID), a.Position, a.Name, a.StorageKey, a.Size, unixNano(now)); err != nil {
			return fmt.Errorf("appending pipeline run artifact: %w", err)
		}
		out = &a
		return nil
	})
	return out, err
}

func (r *workflowRunRepository) Create(ctx context.Context, in *types.WorkflowRun, members []repository.WorkflowRunMember) ([]*types.WorkflowPipelineRun, error) {
	var out []*types.WorkflowPipelineRun
	err := r.s.write(ctx, func(t *tx) error {
		out = make([]*types.WorkflowPipelineRun, 0, len(members))
		now := r.s.now()
		if err := t.lockWorkflow(ctx, in.WorkflowID); err != nil {
			return err
		}

		wr := *in
		if wr.ID == types.NoWorkflowRunID {
			wr.ID = types.WorkflowRunID(types.NewID())
		}
		if _, err := t.exec(ctx,
			`INSERT INTO workflow_runs (`+workflowRunColumns+`) VALUES (?, ?, ?)`,
			string(wr.ID), string(wr.WorkflowID), unixNano(now)); err != nil {
			return fmt.Errorf("creating workflow run: %w", err)
		}

		for i, m := range members {
			run, err := t.createRun(ctx, m.Run, now)
			if err != nil {
				return err
			}
			link := *m.Link
			if link.ID == types.NoWorkflowPipelineRunID {
				link.ID = types.WorkflowPipelineRunID(types.NewID())
			}
			link.WorkflowRunID = wr.ID
			link.PipelineRunID = run.ID
			link.Position = i
			link.CreatedAt = now
			if _, err := t.exec(ctx,
				`INSERT INTO workflow_pipeline_runs (`+memberColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
				string(link.ID), string(link.WorkflowRunID), string(link.WorkflowPipelineID), string(link.PipelineRunID),
				link.Position, unixNano(now)); err != nil {
				return fmt.Errorf("creating workflow pipeline run: %w", err)
			}
			out = append(out, &link)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *tx) getWorkflowRun(ctx context.Context, id types.WorkflowRunID) (*types.WorkflowRun, error) {
	var (
		wr      types.WorkflowRun
		created int64
	)
	err := t.queryRow(ctx, `SELECT `+workflowRunColumns+` FROM workflow_runs WHERE id = ?`, string(id)).
		Scan(&wr.ID, &wr.WorkflowID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFound("workflow run", string(id))
	}
	if err != nil {
		return nil, err
	}
	wr.CreatedAt = fromUnixNano(created)
	return &wr, nil
}

func (r *workflowRunRepository) Get(ctx context.Context, id types.WorkflowRunID) (*types.WorkflowRun, error) {
	var out *types.WorkflowRun
	err := r.s.read(ctx, func(t *tx) error {
		wr, err := t.getWorkflowRun(ctx, id)
		out = wr
		return err
	})
	return out, err
}

func (r *workflowRunRepository) ListByWorkflow(ctx context.Context, workflowID types.WorkflowID) ([]*types.WorkflowRun, error) {
	var out []*types.WorkflowRun
	err := r.s.read(ctx, func(t *tx) error {
		out = nil
		if _, err := t.liveWorkflow(ctx, workflowID); err != nil {
			return err
		}
		rows, err := t.query(ctx,
			`SELECT `+workflowRunColumns+` FROM workflow_runs WHERE workflow_id = ? ORDER BY created_at, id`, string(workflowID))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				wr      types.WorkflowRun
				created int64
			)
			if err := rows.Scan(&wr.ID, &wr.WorkflowID, &created); err != nil {
				return err
			}
			wr.CreatedAt = fromUnixNano(created)
			out = append(out, &wr)
		}
		return rows.Err()
	})
	return out, err
}

func (r *workflowRunRepository) GetMember(ctx context.Context, id types.WorkflowPipelineRunID) (*types.WorkflowPipelineRun, error) {
	var out *types.WorkflowPipelineRun
	err := r.s.read(ctx, func(t *tx) error {
		m, err := scanMember(t.queryRow(ctx, `SELECT `+memberColumns+` FROM workflow_pipeline_runs WHERE id = ?`, string(id)))
		if errors.Is(err, sql.ErrNoRows) {
			return types.NewNotFound("workflow pipeline run", string(id))
		}
		out = m
		return err
	})
	return out, err
}

func (r *workflowRunRepository) ListMembers(ctx context.Context, workflowRunID types.WorkflowRunID) ([]*types.WorkflowPipelineRun, error) {
	var out []*types.WorkflowPipelineRun
	err := r.s.read(ctx, func(t *tx) error {
		out = nil
		if _, err := t.getWorkflowRun(ctx, workflowRunID); err != nil {
			return err
		}
		rows, err := t.query(ctx,
			`SELECT `+memberColumns+` FROM workflow_pipeline_runs WHERE workflow_run_id = ? ORDER BY position`, string(workflowRunID))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMember(rows)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

func (r *workflowRunRepository) FindMemberByPipelineRun(ctx context.Context, pipelineRunID types.PipelineRunID) (*types.WorkflowPipelineRun, error) {
	var out *types.WorkflowPipelineRun
	err := r.s.read(ctx, func(t *tx) error {
		m, err := scanMember(t.queryRow(ctx,
			`SELECT `+memberColumns+` FROM workflow_pipeline_runs WHERE pipeline_run_id = ?`, string(pipelineRunID)))
		if errors.Is(err, sql.ErrNoRows) {
			return types.NewNotFound("workflow pipeline run", "for pipeline run "+string(pipelineRunID))
		}
		out = m
		return err
	})
	return out, err
}
