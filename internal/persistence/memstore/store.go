// Package memstore keeps every record in a go-memdb database. Write
// transactions are serialized by memdb itself, which makes every guarded
// read-check-write of the repository contract atomic.
package memstore

import (
	"cmp"
	"slices"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/davidroman0O/pipelite/internal/clock"
	"github.com/davidroman0O/pipelite/internal/persistence/repository"
)

const (
	tablePipelines           = "pipelines"
	tableWorkflows           = "workflows"
	tableWorkflowPipelines   = "workflow_pipelines"
	tableDependencies        = "dependencies"
	tablePipelineRuns        = "pipeline_runs"
	tableWorkflowRuns        = "workflow_runs"
	tableWorkflowMemberships = "workflow_pipeline_runs"

	indexID = "id"
)

func schema() *memdb.DBSchema {
	byID := &memdb.IndexSchema{
		Name:    indexID,
		Unique:  true,
		Indexer: &memdb.StringFieldIndex{Field: "ID"},
	}
	by := func(name, field string, unique bool) *memdb.IndexSchema {
		return &memdb.IndexSchema{
			Name:    name,
			Unique:  unique,
			Indexer: &memdb.StringFieldIndex{Field: field},
		}
	}

	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tablePipelines: {
				Name: tablePipelines,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: byID,
					"name":  by("name", "Name", false),
				},
			},
			tableWorkflows: {
				Name: tableWorkflows,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: byID,
				},
			},
			tableWorkflowPipelines: {
				Name: tableWorkflowPipelines,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:       byID,
					"workflow_id": by("workflow_id", "WorkflowID", false),
				},
			},
			tableDependencies: {
				Name: tableDependencies,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:       byID,
					"workflow_id": by("workflow_id", "WorkflowID", false),
				},
			},
			tablePipelineRuns: {
				Name: tablePipelineRuns,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:       byID,
					"pipeline_id": by("pipeline_id", "PipelineID", false),
				},
			},
			tableWorkflowRuns: {
				Name: tableWorkflowRuns,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:       byID,
					"workflow_id": by("workflow_id", "WorkflowID", false),
				},
			},
			tableWorkflowMemberships: {
				Name: tableWorkflowMemberships,
				Indexes: map[string]*memdb.IndexSchema{
					indexID:           byID,
					"workflow_run_id": by("workflow_run_id", "WorkflowRunID", false),
					"pipeline_run_id": by("pipeline_run_id", "PipelineRunID", true),
				},
			},
		},
	}
}

type Option func(*Store)

// WithClock sets the time source of every timestamp written.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// Store implements repository.Repository in memory.
type Store struct {
	db     *memdb.MemDB
	clock  clock.Clock
	closed atomic.Bool

	pipelines         *pipelineRepository
	workflows         *workflowRepository
	workflowPipelines *workflowPipelineRepository
	dependencies      *dependencyRepository
	pipelineRuns      *pipelineRunRepository
	workflowRuns      *workflowRunRepository
}

var _ repository.Repository = (*Store)(nil)

func New(opts ...Option) (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:    db,
		clock: clock.System(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.pipelines = &pipelineRepository{s}
	s.workflows = &workflowRepository{s}
	s.workflowPipelines = &workflowPipelineRepository{s}
	s.dependencies = &dependencyRepository{s}
	s.pipelineRuns = &pipelineRunRepository{s}
	s.workflowRuns = &workflowRunRepository{s}

	return s, nil
}

func (s *Store) Pipelines() repository.PipelineRepository {
	return s.pipelines
}

func (s *Store) Workflows() repository.WorkflowRepository {
	return s.workflows
}

func (s *Store) WorkflowPipelines() repository.WorkflowPipelineRepository {
	return s.workflowPipelines
}

func (s *Store) Dependencies() repository.DependencyRepository {
	return s.dependencies
}

func (s *Store) PipelineRuns() repository.PipelineRunRepository {
	return s.pipelineRuns
}

func (s *Store) WorkflowRuns() repository.WorkflowRunRepository {
	return s.workflowRuns
}

func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) now() time.Time {
	return s.clock.Now()
}

// write runs fn inside a write transaction, committing only when fn succeeds.
func (s *Store) write(fn func(txn *memdb.Txn) error) error {
	if s.closed.Load() {
		return repository.ErrClosed
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := fn(txn); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) read(fn func(txn *memdb.Txn) error) error {
	if s.closed.Load() {
		return repository.ErrClosed
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return fn(txn)
}

func first[T any](txn *memdb.Txn, table, index string, args ...interface{}) (*T, error) {
	raw, err := txn.First(table, index, args...)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*T), nil
}

func all[T any](txn *memdb.Txn, table, index string, args ...interface{}) ([]*T, error) {
	it, err := txn.Get(table, index, args...)
	if err != nil {
		return nil, err
	}
	var out []*T
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*T))
	}
	return out, nil
}

// clone returns a shallow copy. Records stored in memdb are never mutated in
// place; every update inserts a fresh copy.
func clone[T any](v *T) *T {
	c := *v
	return &c
}

func cloneAll[T any](in []*T) []*T {
	out := make([]*T, 0, len(in))
	for _, v := range in {
		out = append(out, clone(v))
	}
	return out
}

// byCreation orders records by creation instant, then id.
func byCreation[T any](items []*T, key func(*T) (time.Time, string)) {
	slices.SortStableFunc(items, func(a, b *T) int {
		ta, ia := key(a)
		tb, ib := key(b)
		if c := ta.Compare(tb); c != 0 {
			return c
		}
		return cmp.Compare(ia, ib)
	})
}
