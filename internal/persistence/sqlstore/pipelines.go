package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/davidroman0O/pipelite/internal/types"
)

type pipelineRepository struct {
	s *Store
}

const pipelineColumns = `id, name, description, docker_image_url, repository_ssh_url, repository_branch, run_counter, is_deleted, created_at, updated_at`

func scanPipeline(row scanner) (*types.Pipeline, error) {
	var (
		p                types.Pipeline
		created, updated int64
	)
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.DockerImageURL,
		&p.RepositorySSHURL,
		&p.RepositoryBranch,
		&p.RunCounter,
		&p.IsDeleted,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}
	p.CreatedAt = fromUnixNano(created)
	p.UpdatedAt = fromUnixNano(updated)
	return &p, nil
}

func (t *tx) livePipeline(ctx context.Context, id types.PipelineID) (*types.Pipeline, error) {
	p, err := scanPipeline(t.queryRow(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE id = ? AND is_deleted = FALSE`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFound("pipeline", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("getting pipeline: %w", err)
	}
	return p, nil
}

func (r *pipelineRepository) Create(ctx context.Context, pipeline *types.Pipeline) (*types.Pipeline, error) {
	p := *pipeline
	if p.ID == types.NoPipelineID {
		p.ID = types.PipelineID(types.NewID())
	}
	now := r.s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.IsDeleted = false
	p.RunCounter = 0

	err := r.s.write(ctx, func(t *tx) error {
		_, err := t.exec(ctx,
			`INSERT INTO pipelines (`+pipelineColumns+`) VALUES (?, ?, ?, ?, ?, ?, 0, FALSE, ?, ?)`,
			string(p.ID), p.Name, p.Description, p.DockerImageURL, p.RepositorySSHURL, p.RepositoryBranch,
			unixNano(now), unixNano(now))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}
	return &p, nil
}

func (r *pipelineRepository) Get(ctx context.Context, id types.PipelineID) (*types.Pipeline, error) {
	var out *types.Pipeline
	err := r.s.read(ctx, func(t *tx) error {
		p, err := t.livePipeline(ctx, id)
		out = p
		return err
	})
	return out, err
}

func (r *pipelineRepository) FindByName(ctx context.Context, name string) (*types.Pipeline, error) {
	var out *types.Pipeline
	err := r.s.read(ctx, func(t *tx) error {
		p, err := scanPipeline(t.queryRow(ctx,
			`SELECT `+pipelineColumns+` FROM pipelines WHERE name = ? AND is_deleted = FALSE ORDER BY created_at, id LIMIT 1`, name))
		if errors.Is(err, sql.ErrNoRows) {
			return types.NewNotFound("pipeline", name)
		}
		out = p
		return err
	})
	return out, err
}

func (r *pipelineRepository) List(ctx context.Context, ids ...types.PipelineID) ([]*types.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines WHERE is_deleted = FALSE`
	args := make([]interface{}, 0, len(ids))
	if len(ids) > 0 {
		query += ` AND id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, string(id))
		}
	}
	query += ` ORDER BY created_at, id`

	var out []*types.Pipeline
	err := r.s.read(ctx, func(t *tx) error {
		out = nil
		rows, err := t.query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanPipeline(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing pipelines: %w", err)
	}
	return out, nil
}

func (r *pipelineRepository) Update(ctx context.Context, id types.PipelineID, spec types.PipelineSpec) (*types.Pipeline, error) {
	var out *types.Pipeline
	err := r.s.write(ctx, func(t *tx) error {
		if err := t.touch(ctx, types.NewNotFound("pipeline", string(id)),
			`UPDATE pipelines SET name = ?, description = ?, docker_image_url = ?, repository_ssh_url = ?, repository_branch = ?, updated_at = ?
			WHERE id = ? AND is_deleted = FALSE`,
			spec.Name, spec.Description, spec.DockerImageURL, spec.RepositorySSHURL, spec.RepositoryBranch,
			unixNano(r.s.now()), string(id)); err != nil {
			return err
		}
		p, err := t.livePipeline(ctx, id)
		out = p
		return err
	})
	return out, err
}

func (r *pipelineRepository) Delete(ctx context.Context, id types.PipelineID) error {
	return r.s.write(ctx, func(t *tx) error {
		return t.touch(ctx, types.NewNotFound("pipeline", string(id)),
			`UPDATE pipelines SET is_deleted = TRUE, updated_at = ? WHERE id = ? AND is_deleted = FALSE`,
			unixNano(r.s.now()), string(id))
	})
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
