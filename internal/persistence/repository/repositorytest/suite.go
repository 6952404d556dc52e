// Package repositorytest holds the behaviour every repository.Repository
// implementation must share. Store packages call Run from their own tests.
package repositorytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/davidroman0O/pipelite/internal/persistence/repository"
	"github.com/davidroman0O/pipelite/internal/types"
)

// Factory returns a fresh, empty repository. It is called once per subtest.
type Factory func(t *testing.T) repository.Repository

func Run(t *testing.T, factory Factory) {
	t.Run("pipelines", func(t *testing.T) { testPipelines(t, factory(t)) })
	t.Run("workflow cascade", func(t *testing.T) { testWorkflowCascade(t, factory(t)) })
	t.Run("dependency insert", func(t *testing.T) { testDependencyInsert(t, factory(t)) })
	t.Run("concurrent dependency insert", func(t *testing.T) { testConcurrentDependencyInsert(t, factory(t)) })
	t.Run("pipeline run lifecycle", func(t *testing.T) { testPipelineRunLifecycle(t, factory(t)) })
	t.Run("concurrent transitions", func(t *testing.T) { testConcurrentTransitions(t, factory(t)) })
	t.Run("concurrent sequences", func(t *testing.T) { testConcurrentSequences(t, factory(t)) })
	t.Run("workflow runs", func(t *testing.T) { testWorkflowRuns(t, factory(t)) })
}

func newPipeline(t *testing.T, repo repository.Repository, name string) *types.Pipeline {
	t.Helper()
	p, err := repo.Pipelines().Create(context.Background(), &types.Pipeline{
		Name:             name,
		Description:      name + " description",
		DockerImageURL:   "docker.io/library/alpine:3",
		RepositorySSHURL: "git@example.com:org/" + name + ".git",
		RepositoryBranch: "master",
	})
	require.NoError(t, err)
	return p
}

func newWorkflow(t *testing.T, repo repository.Repository, name string) *types.Workflow {
	t.Helper()
	w, err := repo.Workflows().Create(context.Background(), &types.Workflow{
		Name:        name,
		Description: name + " description",
	})
	require.NoError(t, err)
	return w
}

func newNode(t *testing.T, repo repository.Repository, w *types.Workflow, p *types.Pipeline) *types.WorkflowPipeline {
	t.Helper()
	n, err := repo.WorkflowPipelines().Create(context.Background(), &types.WorkflowPipeline{
		WorkflowID: w.ID,
		PipelineID: p.ID,
	})
	require.NoError(t, err)
	return n
}

func newRun(p *types.Pipeline) *types.PipelineRun {
	return &types.PipelineRun{
		PipelineID:  p.ID,
		CallbackURL: "http://localhost/callback",
		States:      []types.PipelineRunState{{Code: types.RunStateNotStarted}},
		Inputs: []types.PipelineRunInput{
			{Filename: "a.csv", URL: "https://example.com/a.csv"},
			{Filename: "b.csv", URL: "https://example.com/b.csv"},
		},
	}
}

func testPipelines(t *testing.T, repo repository.Repository) {
	ctx := context.Background()

	p := newPipeline(t, repo, "extract")
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())

	got, err := repo.Pipelines().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "extract", got.Name)
	assert.Equal(t, 0, got.RunCounter)

	byName, err := repo.Pipelines().FindByName(ctx, "extract")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)

	updated, err := repo.Pipelines().Update(ctx, p.ID, types.PipelineSpec{
		Name:             "extract-v2",
		Description:      "second",
		DockerImageURL:   "docker.io/library/busybox:1",
		RepositorySSHURL: "git@example.com:org/extract.git",
		RepositoryBranch: "main",
	})
	require.NoError(t, err)
	assert.Equal(t, "extract-v2", updated.Name)
	assert.Equal(t, "main", updated.RepositoryBranch)

	other := newPipeline(t, repo, "load")
	list, err := repo.Pipelines().List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, p.ID, list[0].ID)
	assert.Equal(t, other.ID, list[1].ID)

	only, err := repo.Pipelines().List(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, only, 1)

	require.NoError(t, repo.Pipelines().Delete(ctx, p.ID))
	_, err = repo.Pipelines().Get(ctx, p.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, repo.Pipelines().Delete(ctx, p.ID), types.ErrNotFound)
	_, err = repo.Pipelines().FindByName(ctx, "extract-v2")
	assert.ErrorIs(t, err, types.ErrNotFound)

	list, err = repo.Pipelines().List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = repo.Pipelines().Get(ctx, types.PipelineID(types.NewID()))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testWorkflowCascade(t *testing.T, repo repository.Repository) {
	ctx := context.Background()

	p := newPipeline(t, repo, "p")
	w := newWorkflow(t, repo, "w")
	a := newNode(t, repo, w, p)
	b := newNode(t, repo, w, p)
	c := newNode(t, repo, w, p)

	for _, e := range [][2]*types.WorkflowPipeline{{a, b}, {b, c}} {
		_, created, err := repo.Dependencies().Insert(ctx, &types.WorkflowPipelineDependency{
			WorkflowID: w.ID, From: e[0].ID, To: e[1].ID,
		}, nil)
		require.NoError(t, err)
		require.True(t, created)
	}

	// removing a node drops the edges touching it
	require.NoError(t, repo.WorkflowPipelines().Delete(ctx, b.ID))
	edges, err := repo.Dependencies().ListByWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Empty(t, edges)

	nodes, err := repo.WorkflowPipelines().ListByWorkflow(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, a.ID, nodes[0].ID)
	assert.Equal(t, c.ID, nodes[1].ID)

	_, _, err = repo.Dependencies().Insert(ctx, &types.WorkflowPipelineDependency{
		WorkflowID: w.ID, From: a.ID, To: c.ID,
	}, nil)
	require.NoError(t, err)

	updated, err := repo.Workflows().Update(ctx, w.ID, types.WorkflowSpec{Name: "w2", Description: "d2"})
	require.NoError(t, err)
	assert.Equal(t, "w2", updated.Name)

	require.NoError(t, repo.Workflows().Delete(ctx, w.ID))
	_, err = repo.Workflows().Get(ctx, w.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = repo.WorkflowPipelines().Get(ctx, a.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = repo.Dependencies().ListByWorkflow(ctx, w.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = repo.WorkflowPipelines().Create(ctx, &types.WorkflowPipeline{WorkflowID: w.ID, PipelineID: p.ID})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testDependencyInsert(t *testing.T, repo repository.Repository) {
	ctx := context.Background()

	p := newPipeline(t, repo, "p")
	w := newWorkflow(t, repo, "w")
	a := newNode(t, repo, w, p)
	b := newNode(t, repo, w, p)

	var seen repository.GraphSnapshot
	first, created, err := repo.Dependencies().Insert(ctx, &types.WorkflowPipelineDependency{
		WorkflowID: w.ID, From: a.ID, To: b.ID,
	}, func(s repository.GraphSnapshot) error {
		seen = s
		return nil
	})
	require.NoError(t, err)
	require.True(t, created)
	assert.Len(t, seen.Nodes, 2)
	assert.Empty(t, seen.Edges)

	again, created, err := repo.Dependencies().Insert(ctx, &types.WorkflowPipelineDependency{
		WorkflowID: w.ID, From: a.ID, To: b.ID,
	}, func(repository.GraphSnapshot) error {
		t.Fatal("guard must not run for an existing edge")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	refused := errors.New("refused")
	_, _, err = repo.Dependencies().Insert(ctx, &types.WorkflowPipelineDependency{
		WorkflowID: w.ID, From: b.ID, To: a.ID,
	}, func(repository.GraphSnapshot) error { return refused })
	assert.ErrorIs(t, err, refused)

	edges, err := repo.Dependencies().ListByWorkflow(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)

	require.NoError(t, repo.Dependencies().Delete(ctx, w.ID, a.ID, b.ID))
	assert.ErrorIs(t, repo.Dependencies().Delete(ctx, w.ID, a.ID, b.ID), types.ErrNotFound)
}

// Two writers racing opposite edges: the guard of the second must see the
// edge of the first, so exactly one wins.
func testConcurrentDependencyInsert(t *testing.T, repo repository.Repository) {
	ctx := context.Background()

	p := newPipeline(t, repo, "p")
	for round := 0; round < 20; round++ {
		w := newWorkflow(t, repo, fmt.Sprintf("w-%d", round))
		a := newNode(t, repo, w, p)
		b := newNode(t, repo, w, p)

		rejectReverse := func(from, to types.WorkflowPipelineID) repository.DependencyGuard {
			return func(s repository.GraphSnapshot) error {
				for _, e := range s.Edges {
					if e.From == to && e.To == from {
						return types.ErrCycleRejected
					}
				}
				return nil
			}
		}

		var accepted, rejected atomic.Int32
		var g errgroup.Group
		for _, pair := range [][2]types.WorkflowPipelineID{{a.ID, b.ID}, {b.ID, a.ID}} {
			from, to := pair[0], pair[1]
			g.Go(func() error {
				_, _, err := repo.Dependencies().Insert(ctx, &types.WorkflowPipelineDependency{
					WorkflowID: w.ID, From: from, To: to,
				}, rejectReverse(from, to))
				switch {
				case err == nil:
					accepted.Add(1)
				case errors.Is(err, types.ErrCycleRejected):
					rejected.Add(1)
				default:
					return err
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), accepted.Load())
		assert.Equal(t, int32(1), rejected.Load())

		edges, err := repo.Dependencies().ListByWorkflow(ctx, w.ID)
		require.NoError(t, err)
		assert.Len(t, edges, 1)
	}
}

func testPipelineRunLifecycle(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	p := newPipeline(t, repo, "p")

	run, err := repo.PipelineRuns().Create(ctx, newRun(p))
	require.NoError(t, err)
	assert.Equal(t, 1, run.Sequence)
	require.Len(t, run.States, 1)
	assert.Equal(t, types.RunStateNotStarted, run.CurrentState())
	require.Len(t, run.Inputs, 2)
	assert.Equal(t, "a.csv", run.Inputs[0].Filename)
	assert.Equal(t, 1, run.Inputs[1].Position)

	second, err := repo.PipelineRuns().Create(ctx, newRun(p))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Sequence)

	pipeline, err := repo.Pipelines().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, pipeline.RunCounter)

	advanced, err := repo.PipelineRuns().Transition(ctx, run.ID, func(current *types.PipelineRun) (types.RunState, error) {
		assert.Equal(t, types.RunStateNotStarted, current.CurrentState())
		return types.RunStateRunning, nil
	})
	require.NoError(t, err)
	require.Len(t, advanced.States, 2)
	assert.Equal(t, types.RunStateRunning, advanced.CurrentState())
	assert.Equal(t, 1, advanced.States[1].Position)

	stop := errors.New("stop")
	_, err = repo.PipelineRuns().Transition(ctx, run.ID, func(*types.PipelineRun) (types.RunState, error) {
		return "", stop
	})
	assert.ErrorIs(t, err, stop)

	out, err := repo.PipelineRuns().UpdateOutput(ctx, run.ID, "hello", "oops")
	require.NoError(t, err)
	assert.Equal(t, "hello", out.StdOut)
	assert.Equal(t, "oops", out.StdErr)

	for i, name := range []string{"report.txt", "report.txt"} {
		a, err := repo.PipelineRuns().AppendArtifact(ctx, &types.PipelineRunArtifact{
			ID:            types.ArtifactID(types.NewID()),
			PipelineRunID: run.ID,
			Name:          name,
			StorageKey:    "k" + fmt.Sprint(i),
			Size:          int64(i),
		})
		require.NoError(t, err)
		assert.Equal(t, i, a.Position)
	}

	got, err := repo.PipelineRuns().Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, got.States, 2)
	assert.Len(t, got.Artifacts, 2)
	assert.Equal(t, "k1", got.Artifacts[1].StorageKey)
	assert.Equal(t, "hello", got.StdOut)

	runs, err := repo.PipelineRuns().ListByPipeline(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 1, runs[0].Sequence)

	missing := types.PipelineRunID(types.NewID())
	_, err = repo.PipelineRuns().Get(ctx, missing)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = repo.PipelineRuns().Transition(ctx, missing, func(*types.PipelineRun) (types.RunState, error) {
		return types.RunStateRunning, nil
	})
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = repo.PipelineRuns().AppendArtifact(ctx, &types.PipelineRunArtifact{PipelineRunID: missing, Name: "x"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, repo.Pipelines().Delete(ctx, p.ID))
	_, err = repo.PipelineRuns().Create(ctx, newRun(p))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

// Many writers advancing one run from the same state: the transition callback
// runs serialized, so only the first one sees NOT_STARTED.
func testConcurrentTransitions(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	p := newPipeline(t, repo, "p")
	run, err := repo.PipelineRuns().Create(ctx, newRun(p))
	require.NoError(t, err)

	const writers = 16
	var (
		wg      sync.WaitGroup
		success atomic.Int32
		refused = errors.New("not from NOT_STARTED")
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.PipelineRuns().Transition(ctx, run.ID, func(current *types.PipelineRun) (types.RunState, error) {
				if current.CurrentState() != types.RunStateNotStarted {
					return "", refused
				}
				return types.RunStateRunning, nil
			})
			if err == nil {
				success.Add(1)
				return
			}
			assert.ErrorIs(t, err, refused)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	got, err := repo.PipelineRuns().Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, got.States, 2)
}

func testConcurrentSequences(t *testing.T, repo repository.Repository) {
	ctx := context.Background()
	p := newPipeline(t, repo, "p")

	const runs = 20
	sequences := make(chan int, runs)
	var g errgroup.Group
	for i := 0; i < runs; i++ {
		g.Go(func() error {
			run, err := repo.PipelineRuns().Create(ctx, newRun(p))
			if err != nil {
				return err
			}
			sequences <- run.Sequence
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(sequences)

	seen := map[int]bool{}
	for s := range sequences {
		assert.False(t, seen[s], "sequence %d handed out twice", s)
		seen[s] = true
	}
	for i := 1; i <= runs; i++ {
		assert.True(t, seen[i], "sequence %d missing", i)
	}
}

func testWorkflowRuns(t *testing.T, repo repository.Repository) {
	ctx := context.Background()

	p := newPipeline(t, repo, "p")
	q := newPipeline(t, repo, "q")
	w := newWorkflow(t, repo, "w")
	a := newNode(t, repo, w, p)
	b := newNode(t, repo, w, q)

	wr := &types.WorkflowRun{ID: types.WorkflowRunID(types.NewID()), WorkflowID: w.ID}
	links, err := repo.WorkflowRuns().Create(ctx, wr, []repository.WorkflowRunMember{
		{Link: &types.WorkflowPipelineRun{WorkflowPipelineID: a.ID}, Run: newRun(p)},
		{Link: &types.WorkflowPipelineRun{WorkflowPipelineID: b.ID}, Run: newRun(q)},
	})
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, wr.ID, links[0].WorkflowRunID)
	assert.Equal(t, 0, links[0].Position)
	assert.Equal(t, 1, links[1].Position)

	got, err := repo.WorkflowRuns().Get(ctx, wr.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.WorkflowID)

	members, err := repo.WorkflowRuns().ListMembers(ctx, wr.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, a.ID, members[0].WorkflowPipelineID)

	member, err := repo.WorkflowRuns().GetMember(ctx, links[1].ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, member.WorkflowPipelineID)

	byRun, err := repo.WorkflowRuns().FindMemberByPipelineRun(ctx, links[0].PipelineRunID)
	require.NoError(t, err)
	assert.Equal(t, links[0].ID, byRun.ID)

	run, err := repo.PipelineRuns().Get(ctx, links[1].PipelineRunID)
	require.NoError(t, err)
	assert.Equal(t, q.ID, run.PipelineID)
	assert.Equal(t, 1, run.Sequence)
	assert.Equal(t, types.RunStateNotStarted, run.CurrentState())

	list, err := repo.WorkflowRuns().ListByWorkflow(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = repo.WorkflowRuns().Get(ctx, types.WorkflowRunID(types.NewID()))
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = repo.WorkflowRuns().FindMemberByPipelineRun(ctx, types.PipelineRunID(types.NewID()))
	assert.ErrorIs(t, err, types.ErrNotFound)

	// a failing member rolls back the whole run
	require.NoError(t, repo.Pipelines().Delete(ctx, q.ID))
	failed := &types.WorkflowRun{ID: types.WorkflowRunID(types.NewID()), WorkflowID: w.ID}
	_, err = repo.WorkflowRuns().Create(ctx, failed, []repository.WorkflowRunMember{
		{Link: &types.WorkflowPipelineRun{WorkflowPipelineID: a.ID}, Run: newRun(p)},
		{Link: &types.WorkflowPipelineRun{WorkflowPipelineID: b.ID}, Run: newRun(q)},
	})
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = repo.WorkflowRuns().Get(ctx, failed.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	pipeline, err := repo.Pipelines().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pipeline.RunCounter)
}
