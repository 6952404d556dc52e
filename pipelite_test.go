package pipelite

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/pipelite/internal/clock"
	"github.com/davidroman0O/pipelite/internal/dag"
)

func newPipelite(t *testing.T, opts ...Option) *Pipelite {
	t.Helper()
	base := []Option{
		WithLogger(NewNopLogger()),
		WithClock(clock.NewStepClock(time.Unix(1700000000, 0), time.Millisecond)),
		WithCallbackTimeout(500 * time.Millisecond),
	}
	p, err := New(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func createPipeline(t *testing.T, p *Pipelite, name string) *Pipeline {
	t.Helper()
	pl, err := p.CreatePipeline(context.Background(), PipelineSpec{
		Name:             name,
		DockerImageURL:   "registry.local/" + name + ":1",
		RepositorySSHURL: "git@example.com:org/" + name + ".git",
	})
	require.NoError(t, err)
	return pl
}

func createWorkflow(t *testing.T, p *Pipelite, name string) *Workflow {
	t.Helper()
	wf, err := p.CreateWorkflow(context.Background(), WorkflowSpec{Name: name, Description: name})
	require.NoError(t, err)
	return wf
}

type callbackRecorder struct {
	mu       sync.Mutex
	payloads []CallbackPayload
}

func (c *callbackRecorder) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload CallbackPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.payloads = append(c.payloads, payload)
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *callbackRecorder) states() []RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RunState, 0, len(c.payloads))
	for _, p := range c.payloads {
		out = append(out, p.State)
	}
	return out
}

func stateCodes(run *PipelineRun) []RunState {
	out := make([]RunState, 0, len(run.States))
	for _, s := range run.States {
		out = append(out, s.Code)
	}
	return out
}

func TestReverseEdgeIsRejected(t *testing.T) {
	ctx := context.Background()
	p := newPipelite(t)

	wf := createWorkflow(t, p, "w")
	pl := createPipeline(t, p, "build")
	p1, err := p.AddWorkflowPipeline(ctx, wf.ID, pl.ID)
	require.NoError(t, err)
	p2, err := p.AddWorkflowPipeline(ctx, wf.ID, pl.ID)
	require.NoError(t, err)

	_, err = p.AddDependency(ctx, wf.ID, p1.ID, p2.ID)
	require.NoError(t, err)

	cyclic, err := p.WouldCreateCycle(ctx, wf.ID, p2.ID, p1.ID)
	require.NoError(t, err)
	assert.True(t, cyclic)

	_, err = p.AddDependency(ctx, wf.ID, p2.ID, p1.ID)
	require.ErrorIs(t, err, ErrCycleRejected)

	edges, err := p.ListDependencies(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, p1.ID, edges[0].From)
	assert.Equal(t, p2.ID, edges[0].To)
}

// Accepted insertions always leave the graph acyclic and every insertion
// closing a cycle is refused.
func TestRandomDependencyInsertions(t *testing.T) {
	ctx := context.Background()
	p := newPipelite(t)
	pl := createPipeline(t, p, "step")
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 5; round++ {
		wf := createWorkflow(t, p, "random")
		const size = 7
		nodes := make([]WorkflowPipelineID, size)
		oracle := dag.New[WorkflowPipelineID]()
		for i := range nodes {
			node, err := p.AddWorkflowPipeline(ctx, wf.ID, pl.ID)
			require.NoError(t, err)
			nodes[i] = node.ID
			oracle.Add(node.ID)
		}

		for attempt := 0; attempt < 30; attempt++ {
			from := nodes[rng.Intn(size)]
			to := nodes[rng.Intn(size)]
			closes := oracle.WouldCreateCycle(from, to)

			_, err := p.AddDependency(ctx, wf.ID, from, to)
			if closes {
				require.ErrorIs(t, err, ErrCycleRejected, "round %d attempt %d", round, attempt)
				continue
			}
			require.NoError(t, err, "round %d attempt %d", round, attempt)
			oracle.Connect(dag.Edge[WorkflowPipelineID]{Source: from, Target: to})
		}

		edges, err := p.ListDependencies(ctx, wf.ID)
		require.NoError(t, err)
		stored := dag.New[WorkflowPipelineID]()
		for _, n := range nodes {
			stored.Add(n)
		}
		for _, e := range edges {
			stored.Connect(dag.Edge[WorkflowPipelineID]{Source: e.From, Target: e.To})
		}
		assert.NoError(t, stored.Validate())
		assert.Len(t, edges, len(oracle.Edges()))

		order, err := p.TopologicalOrder(ctx, wf.ID)
		require.NoError(t, err)
		assert.Len(t, order, size)
	}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	var rec callbackRecorder
	srv := rec.server(t)
	p := newPipelite(t)

	pl := createPipeline(t, p, "report")
	run, err := p.CreatePipelineRun(ctx, pl.ID, PipelineRunRequest{CallbackURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, []RunState{RunStateNotStarted}, stateCodes(run))
	assert.Equal(t, 1, run.Sequence)

	_, err = p.Advance(ctx, run.ID, RunStateRunning)
	require.NoError(t, err)
	run, err = p.GetPipelineRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []RunState{RunStateNotStarted, RunStateRunning}, stateCodes(run))

	_, err = p.Advance(ctx, run.ID, RunStateNotStarted)
	require.ErrorIs(t, err, ErrInvalidTransition)

	// refusing the current state never appends anything
	for i := 0; i < 2; i++ {
		_, err = p.Advance(ctx, run.ID, RunStateRunning)
		require.ErrorIs(t, err, ErrInvalidTransition)
	}

	entry, err := p.AdvanceString(ctx, run.ID, "completed")
	require.NoError(t, err)
	assert.Equal(t, RunStateCompleted, entry.Code)

	run, err = p.GetPipelineRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, run.States, 3)
	for i, s := range run.States {
		assert.Equal(t, i, s.Position)
	}

	assert.Equal(t, []RunState{RunStateRunning, RunStateCompleted}, rec.states())
	assert.Empty(t, AllowedTransitions(RunStateCompleted))
}

func TestAdvanceWithUnreachableCallback(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.NotFoundHandler())
	unreachable := srv.URL
	srv.Close()

	p := newPipelite(t)
	pl := createPipeline(t, p, "report")
	run, err := p.CreatePipelineRun(ctx, pl.ID, PipelineRunRequest{CallbackURL: unreachable})
	require.NoError(t, err)

	entry, err := p.Advance(ctx, run.ID, RunStateRunning)
	require.NoError(t, err)
	assert.Equal(t, RunStateRunning, entry.Code)

	run, err = p.GetPipelineRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStateRunning, run.CurrentState())

	err = p.SendCallback(ctx, unreachable, CallbackPayload{PipelineRunUUID: run.ID, State: RunStateRunning})
	assert.ErrorIs(t, err, ErrNotificationFailure)
}

func TestDownstreamAndUpstreamAreInverse(t *testing.T) {
	ctx := context.Background()
	p := newPipelite(t)

	wf := createWorkflow(t, p, "diamond")
	pl := createPipeline(t, p, "stage")
	nodes := make([]*WorkflowPipeline, 4)
	for i := range nodes {
		n, err := p.AddWorkflowPipeline(ctx, wf.ID, pl.ID)
		require.NoError(t, err)
		nodes[i] = n
	}
	for _, e := range [][2]int{{0, 1}, {0, 2}, {1, 3}, {2, 3}} {
		_, err := p.AddDependency(ctx, wf.ID, nodes[e[0]].ID, nodes[e[1]].ID)
		require.NoError(t, err)
	}

	wr, members, err := p.StartWorkflowRun(ctx, wf.ID, "")
	require.NoError(t, err)
	require.Len(t, members, 4)

	runOf := map[PipelineRunID]WorkflowPipelineRunID{}
	for _, m := range members {
		runOf[m.PipelineRunID] = m.ID
	}

	for _, a := range members {
		down, err := p.DownstreamRuns(ctx, a.ID)
		require.NoError(t, err)
		for _, b := range down {
			up, err := p.UpstreamRuns(ctx, runOf[b.ID])
			require.NoError(t, err)
			ids := make([]PipelineRunID, 0, len(up))
			for _, r := range up {
				ids = append(ids, r.ID)
			}
			assert.Contains(t, ids, a.PipelineRunID)
		}
	}

	member, err := p.MemberOf(ctx, members[0].PipelineRunID)
	require.NoError(t, err)
	assert.Equal(t, wr.ID, member.WorkflowRunID)

	ready, err := p.UpstreamSatisfied(ctx, members[0].ID)
	require.NoError(t, err)
	assert.True(t, ready)
	ready, err = p.UpstreamSatisfied(ctx, members[3].ID)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestAttachSameNameTwice(t *testing.T) {
	ctx := context.Background()
	p := newPipelite(t)

	pl := createPipeline(t, p, "render")
	run, err := p.CreatePipelineRun(ctx, pl.ID, PipelineRunRequest{CallbackURL: "http://localhost:1/cb"})
	require.NoError(t, err)

	first, err := p.AttachArtifact(ctx, run.ID, "out.pdf", bytes.NewBufferString("first"))
	require.NoError(t, err)
	second, err := p.AttachArtifact(ctx, run.ID, "out.pdf", bytes.NewBufferString("second version"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.StorageKey, second.StorageKey)

	list, err := p.ListArtifacts(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "out.pdf", list[0].Name)
	assert.Equal(t, "out.pdf", list[1].Name)

	rc, err := p.OpenArtifact(ctx, list[1])
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "second version", string(content))
}

func TestSQLiteBackedPipelite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "pipelite.db")
	objects := filepath.Join(dir, "objects")
	open := func(opts ...Option) *Pipelite {
		p, err := New(ctx, append([]Option{WithLogger(NewNopLogger())}, opts...)...)
		require.NoError(t, err)
		return p
	}

	p := open(WithPath(path), WithStorageRoot(objects))
	pl := createPipeline(t, p, "persisted")
	run, err := p.CreatePipelineRun(ctx, pl.ID, PipelineRunRequest{CallbackURL: "http://localhost:1/cb"})
	require.NoError(t, err)
	_, err = p.AttachArtifact(ctx, run.ID, "log.txt", bytes.NewBufferString("hello"))
	require.NoError(t, err)
	require.NoError(t, p.Close())

	reopened := open(WithPath(path), WithStorageRoot(objects))
	got, err := reopened.GetPipelineRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got.Artifacts, 1)
	assert.Equal(t, int64(5), got.Artifacts[0].Size)
	require.NoError(t, reopened.Close())

	wiped := open(WithPath(path), WithDestructive())
	defer wiped.Close()
	_, err = wiped.GetPipelineRun(ctx, run.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyDefinition(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	file := filepath.Join(dir, "etl.hcl")
	require.NoError(t, os.WriteFile(file, []byte(`
pipeline "extract" {
  docker_image_url   = "registry.local/extract:1"
  repository_ssh_url = "git@example.com:org/extract.git"
}

workflow "etl" {
  description = "nightly"
  step "a" { pipeline = "extract" }
  step "b" {
    pipeline   = "extract"
    depends_on = ["a"]
  }
}
`), 0o644))

	def, err := ParseDefinition(file)
	require.NoError(t, err)

	p := newPipelite(t)
	res, err := p.ApplyDefinition(ctx, def)
	require.NoError(t, err)
	require.Len(t, res.Workflows, 1)

	order, err := p.TopologicalOrder(ctx, res.Workflows[0].Workflow.ID)
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, res.Workflows[0].Steps["a"].ID, order[0].ID)
}
