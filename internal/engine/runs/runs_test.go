package runs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/davidroman0O/pipelite/internal/callback"
	"github.com/davidroman0O/pipelite/internal/clock"
	"github.com/davidroman0O/pipelite/internal/engine/workflows"
	"github.com/davidroman0O/pipelite/internal/logs"
	"github.com/davidroman0O/pipelite/internal/persistence/memstore"
	"github.com/davidroman0O/pipelite/internal/persistence/repository"
	"github.com/davidroman0O/pipelite/internal/types"
)

const callbackURL = "http://example.com/hook"

type notification struct {
	url   string
	runID types.PipelineRunID
	state types.RunState
}

type recorder struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recorder) Notify(_ context.Context, url string, runID types.PipelineRunID, state types.RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{url, runID, state})
}

func (r *recorder) all() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.sent...)
}

type harness struct {
	db        repository.Repository
	workflows *workflows.Service
	runs      *Service
	notified  *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := memstore.New(memstore.WithClock(clock.NewStepClock(time.Unix(1700000000, 0), time.Millisecond)))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rec := &recorder{}
	return &harness{
		db:        db,
		workflows: workflows.New(db),
		runs:      New(db, WithNotifier(rec)),
		notified:  rec,
	}
}

func (h *harness) pipeline(t *testing.T, name string) *types.Pipeline {
	t.Helper()
	p, err := h.workflows.CreatePipeline(context.Background(), types.PipelineSpec{
		Name:             name,
		DockerImageURL:   "docker.io/library/busybox",
		RepositorySSHURL: "git@example.com:org/" + name + ".git",
	})
	require.NoError(t, err)
	return p
}

func (h *harness) run(t *testing.T, p *types.Pipeline) *types.PipelineRun {
	t.Helper()
	run, err := h.runs.CreatePipelineRun(context.Background(), p.ID, types.PipelineRunRequest{CallbackURL: callbackURL})
	require.NoError(t, err)
	return run
}

func TestCreatePipelineRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.pipeline(t, "ocr")

	run, err := h.runs.CreatePipelineRun(ctx, p.ID, types.PipelineRunRequest{
		CallbackURL: callbackURL,
		Inputs: []types.PipelineRunInputRequest{
			{Name: "name1.pdf", URL: "https://example.com/name1.pdf"},
			{Name: "name2.pdf", URL: "https://example.com/name2.pdf"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, p.ID, run.PipelineID)
	assert.Equal(t, 1, run.Sequence)
	require.Len(t, run.Inputs, 2)
	assert.Equal(t, "name1.pdf", run.Inputs[0].Filename)
	assert.Equal(t, "name2.pdf", run.Inputs[1].Filename)
	require.Len(t, run.States, 1)
	assert.Equal(t, types.RunStateNotStarted, run.CurrentState())
	assert.Empty(t, h.notified.all())

	second := h.run(t, p)
	assert.Equal(t, 2, second.Sequence)
}

func TestCreatePipelineRunValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.pipeline(t, "ocr")

	tests := []struct {
		name   string
		id     types.PipelineID
		req    types.PipelineRunRequest
		fields []string
	}{
		{
			name:   "not an url",
			id:     "no-id",
			req:    types.PipelineRunRequest{CallbackURL: "notaurl"},
			fields: []string{"callback_url"},
		},
		{
			name:   "relative url",
			id:     p.ID,
			req:    types.PipelineRunRequest{CallbackURL: "/hook"},
			fields: []string{"callback_url"},
		},
		{
			name:   "unsupported scheme",
			id:     p.ID,
			req:    types.PipelineRunRequest{CallbackURL: "ftp://example.com"},
			fields: []string{"callback_url"},
		},
		{
			name: "incomplete input",
			id:   p.ID,
			req: types.PipelineRunRequest{
				CallbackURL: callbackURL,
				Inputs:      []types.PipelineRunInputRequest{{Name: "a.pdf"}, {URL: "https://example.com/b.pdf"}},
			},
			fields: []string{"inputs[0].url", "inputs[1].name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.runs.CreatePipelineRun(ctx, tt.id, tt.req)
			require.ErrorIs(t, err, types.ErrValidation)
			var errs types.ValidationErrors
			require.True(t, errors.As(err, &errs))
			assert.Equal(t, tt.fields, errs.Fields())
		})
	}

	_, err := h.runs.CreatePipelineRun(ctx, types.PipelineID(types.NewID()), types.PipelineRunRequest{CallbackURL: callbackURL})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAdvanceLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.run(t, h.pipeline(t, "ocr"))

	entry, err := h.runs.Advance(ctx, run.ID, types.RunStateRunning)
	require.NoError(t, err)
	assert.Equal(t, types.RunStateRunning, entry.Code)
	assert.Equal(t, 1, entry.Position)

	_, err = h.runs.Advance(ctx, run.ID, types.RunStateCompleted)
	require.NoError(t, err)

	got, err := h.runs.GetPipelineRun(ctx, run.ID)
	require.NoError(t, err)
	codes := make([]types.RunState, 0, len(got.States))
	for _, s := range got.States {
		codes = append(codes, s.Code)
	}
	assert.Equal(t, []types.RunState{types.RunStateNotStarted, types.RunStateRunning, types.RunStateCompleted}, codes)

	assert.Equal(t, []notification{
		{callbackURL, run.ID, types.RunStateRunning},
		{callbackURL, run.ID, types.RunStateCompleted},
	}, h.notified.all())
}

func TestAdvanceRefusals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.run(t, h.pipeline(t, "ocr"))

	_, err := h.runs.Advance(ctx, run.ID, types.RunStateNotStarted)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	_, err = h.runs.Advance(ctx, run.ID, types.RunStateCompleted)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	_, err = h.runs.Advance(ctx, run.ID, types.RunState("PAUSED"))
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = h.runs.AdvanceString(ctx, run.ID, "not_a_state")
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = h.runs.Advance(ctx, types.PipelineRunID(types.NewID()), types.RunStateRunning)
	assert.ErrorIs(t, err, types.ErrNotFound)

	// an id that is not a uuid cannot name a run either
	_, err = h.runs.Advance(ctx, "nosuchid", types.RunStateRunning)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = h.runs.GetPipelineRun(ctx, "nosuchid")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = h.runs.Advance(ctx, "", types.RunStateRunning)
	assert.ErrorIs(t, err, types.ErrValidation)

	got, err := h.runs.GetPipelineRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, got.States, 1)
	assert.Empty(t, h.notified.all())
}

func TestAdvanceRetryAfterFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.run(t, h.pipeline(t, "ocr"))

	for _, state := range []string{"running", "FAILED", "Running", "COMPLETED"} {
		_, err := h.runs.AdvanceString(ctx, run.ID, state)
		require.NoError(t, err, state)
	}

	_, err := h.runs.Advance(ctx, run.ID, types.RunStateRunning)
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestConcurrentAdvance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.run(t, h.pipeline(t, "ocr"))

	var (
		mu       sync.Mutex
		accepted int
		refused  int
	)
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, err := h.runs.Advance(ctx, run.ID, types.RunStateRunning)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, types.ErrInvalidTransition):
				refused++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 15, refused)
	got, err := h.runs.GetPipelineRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, got.States, 2)
	assert.Len(t, h.notified.all(), 1)
}

func TestAdvanceSurvivesCallbackFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	db, err := memstore.New()
	require.NoError(t, err)
	wf := workflows.New(db)
	svc := New(db, WithNotifier(callback.New(callback.WithLogger(logs.NewNopLogger()))))
	ctx := context.Background()

	p, err := wf.CreatePipeline(ctx, types.PipelineSpec{Name: "ocr", DockerImageURL: "img", RepositorySSHURL: "git@x:y.git"})
	require.NoError(t, err)
	run, err := svc.CreatePipelineRun(ctx, p.ID, types.PipelineRunRequest{CallbackURL: srv.URL})
	require.NoError(t, err)

	entry, err := svc.Advance(ctx, run.ID, types.RunStateRunning)
	require.NoError(t, err)
	assert.Equal(t, types.RunStateRunning, entry.Code)
}

func TestUpdatePipelineRunOutput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	run := h.run(t, h.pipeline(t, "ocr"))

	updated, err := h.runs.UpdatePipelineRunOutput(ctx, run.ID, "stdout", "stderr")
	require.NoError(t, err)
	assert.Equal(t, "stdout", updated.StdOut)
	assert.Equal(t, "stderr", updated.StdErr)

	_, err = h.runs.UpdatePipelineRunOutput(ctx, "", "a", "b")
	assert.ErrorIs(t, err, types.ErrValidation)
	_, err = h.runs.UpdatePipelineRunOutput(ctx, types.PipelineRunID(types.NewID()), "a", "b")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestStartWorkflowRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	w, err := h.workflows.CreateWorkflow(ctx, types.WorkflowSpec{Name: "etl", Description: "nightly"})
	require.NoError(t, err)

	extract := h.pipeline(t, "extract")
	load := h.pipeline(t, "load")
	transform := h.pipeline(t, "transform")

	// an earlier standalone run shifts the sequence of extract
	h.run(t, extract)

	nLoad, err := h.workflows.AddWorkflowPipeline(ctx, w.ID, load.ID)
	require.NoError(t, err)
	nExtract, err := h.workflows.AddWorkflowPipeline(ctx, w.ID, extract.ID)
	require.NoError(t, err)
	nTransform, err := h.workflows.AddWorkflowPipeline(ctx, w.ID, transform.ID)
	require.NoError(t, err)

	_, err = h.workflows.AddDependency(ctx, w.ID, nExtract.ID, nTransform.ID)
	require.NoError(t, err)
	_, err = h.workflows.AddDependency(ctx, w.ID, nTransform.ID, nLoad.ID)
	require.NoError(t, err)

	wr, links, err := h.runs.StartWorkflowRun(ctx, w.ID, "")
	require.NoError(t, err)
	assert.Equal(t, w.ID, wr.WorkflowID)
	require.Len(t, links, 3)

	order := []types.WorkflowPipelineID{links[0].WorkflowPipelineID, links[1].WorkflowPipelineID, links[2].WorkflowPipelineID}
	assert.Equal(t, []types.WorkflowPipelineID{nExtract.ID, nTransform.ID, nLoad.ID}, order)

	members, err := h.runs.ListWorkflowPipelineRuns(ctx, wr.ID)
	require.NoError(t, err)
	assert.Equal(t, links, members)

	runs, err := h.runs.PipelineRunsForWorkflowRun(ctx, wr.ID)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, extract.ID, runs[0].PipelineID)
	assert.Equal(t, 2, runs[0].Sequence)
	assert.Equal(t, 1, runs[1].Sequence)
	for _, r := range runs {
		assert.Equal(t, types.RunStateNotStarted, r.CurrentState())
		assert.Empty(t, r.CallbackURL)
	}

	got, err := h.runs.GetWorkflowRun(ctx, wr.ID)
	require.NoError(t, err)
	assert.Equal(t, wr.ID, got.ID)

	list, err := h.runs.ListWorkflowRuns(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, _, err = h.runs.StartWorkflowRun(ctx, w.ID, "notaurl")
	assert.ErrorIs(t, err, types.ErrValidation)
	_, _, err = h.runs.StartWorkflowRun(ctx, types.WorkflowID(types.NewID()), "")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
