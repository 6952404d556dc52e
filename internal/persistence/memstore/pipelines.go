package memstore

import (
	"context"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/davidroman0O/pipelite/internal/types"
)

type pipelineRepository struct {
	s *Store
}

func livePipeline(txn *memdb.Txn, id types.PipelineID) (*types.Pipeline, error) {
	p, err := first[types.Pipeline](txn, tablePipelines, indexID, string(id))
	if err != nil {
		return nil, err
	}
	if p == nil || p.IsDeleted {
		return nil, types.NewNotFound("pipeline", string(id))
	}
	return p, nil
}

func pipelineKey(p *types.Pipeline) (time.Time, string) {
	return p.CreatedAt, string(p.ID)
}

func (r *pipelineRepository) Create(ctx context.Context, pipeline *types.Pipeline) (*types.Pipeline, error) {
	p := clone(pipeline)
	if p.ID == types.NoPipelineID {
		p.ID = types.PipelineID(types.NewID())
	}
	now := r.s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.IsDeleted = false
	p.RunCounter = 0

	err := r.s.write(func(txn *memdb.Txn) error {
		return txn.Insert(tablePipelines, p)
	})
	if err != nil {
		return nil, err
	}
	return clone(p), nil
}

func (r *pipelineRepository) Get(ctx context.Context, id types.PipelineID) (*types.Pipeline, error) {
	var out *types.Pipeline
	err := r.s.read(func(txn *memdb.Txn) error {
		p, err := livePipeline(txn, id)
		if err != nil {
			return err
		}
		out = clone(p)
		return nil
	})
	return out, err
}

func (r *pipelineRepository) FindByName(ctx context.Context, name string) (*types.Pipeline, error) {
	var out *types.Pipeline
	err := r.s.read(func(txn *memdb.Txn) error {
		found, err := all[types.Pipeline](txn, tablePipelines, "name", name)
		if err != nil {
			return err
		}
		byCreation(found, pipelineKey)
		for _, p := range found {
			if !p.IsDeleted {
				out = clone(p)
				return nil
			}
		}
		return types.NewNotFound("pipeline", name)
	})
	return out, err
}

func (r *pipelineRepository) List(ctx context.Context, ids ...types.PipelineID) ([]*types.Pipeline, error) {
	var out []*types.Pipeline
	err := r.s.read(func(txn *memdb.Txn) error {
		var found []*types.Pipeline
		if len(ids) == 0 {
			everything, err := all[types.Pipeline](txn, tablePipelines, indexID)
			if err != nil {
				return err
			}
			found = everything
		} else {
			for _, id := range ids {
				p, err := first[types.Pipeline](txn, tablePipelines, indexID, string(id))
				if err != nil {
					return err
				}
				if p != nil {
					found = append(found, p)
				}
			}
		}
		for _, p := range found {
			if !p.IsDeleted {
				out = append(out, clone(p))
			}
		}
		byCreation(out, pipelineKey)
		return nil
	})
	return out, err
}

func (r *pipelineRepository) Update(ctx context.Context, id types.PipelineID, spec types.PipelineSpec) (*types.Pipeline, error) {
	var out *types.Pipeline
	err := r.s.write(func(txn *memdb.Txn) error {
		current, err := livePipeline(txn, id)
		if err != nil {
			return err
		}
		p := clone(current)
		p.Name = spec.Name
		p.Description = spec.Description
		p.DockerImageURL = spec.DockerImageURL
		p.RepositorySSHURL = spec.RepositorySSHURL
		p.RepositoryBranch = spec.RepositoryBranch
		p.UpdatedAt = r.s.now()
		if err := txn.Insert(tablePipelines, p); err != nil {
			return err
		}
		out = clone(p)
		return nil
	})
	return out, err
}

func (r *pipelineRepository) Delete(ctx context.Context, id types.PipelineID) error {
	return r.s.write(func(txn *memdb.Txn) error {
		current, err := livePipeline(txn, id)
		if err != nil {
			return err
		}
		p := clone(current)
		p.IsDeleted = true
		p.UpdatedAt = r.s.now()
		return txn.Insert(tablePipelines, p)
	})
}
