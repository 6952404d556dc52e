// Package runs owns the lifecycle of pipeline runs and workflow runs.
//
// A state change is checked and appended inside one store transaction, so
// two concurrent Advance calls on the same run never both succeed from the
// same state. The callback of the run is delivered after the commit.
package runs

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/davidroman0O/pipelite/internal/engine/workflows"
	"github.com/davidroman0O/pipelite/internal/logs"
	"github.com/davidroman0O/pipelite/internal/persistence/repository"
	"github.com/davidroman0O/pipelite/internal/types"
)

// Notifier is told about every accepted state change.
type Notifier interface {
	Notify(ctx context.Context, url string, runID types.PipelineRunID, state types.RunState)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, types.PipelineRunID, types.RunState) {}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

type Service struct {
	db       repository.Repository
	notifier Notifier

	transitions metric.Int64Counter
}

func New(db repository.Repository, opts ...Option) *Service {
	s := &Service{
		db:       db,
		notifier: nopNotifier{},
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter("github.com/davidroman0O/pipelite/internal/engine/runs")
	counter, err := meter.Int64Counter(
		"pipelite.pipeline_run.transitions",
		metric.WithDescription("Pipeline run state changes by outcome"),
	)
	if err != nil {
		logs.Warn(context.Background(), "Transition counter unavailable", "error", err)
	}
	s.transitions = counter

	return s
}

// CreatePipelineRun validates the request, then writes the run with its
// inputs and a single NOT_STARTED entry.
func (s *Service) CreatePipelineRun(ctx context.Context, pipelineID types.PipelineID, req types.PipelineRunRequest) (*types.PipelineRun, error) {
	inputs, callbackURL, err := normalizeRunRequest(req)
	if err != nil {
		logs.Debug(ctx, "CreatePipelineRun invalid input", "pipeline.id", pipelineID, "error", err)
		return nil, err
	}
	if err := types.CheckID("pipeline_id", pipelineID); err != nil {
		return nil, err
	}

	run, err := s.db.PipelineRuns().Create(ctx, newRun(pipelineID, callbackURL, inputs))
	if err != nil {
		logs.Debug(ctx, "CreatePipelineRun error creating run", "pipeline.id", pipelineID, "error", err)
		return nil, err
	}
	logs.Debug(ctx, "Pipeline run created", "pipeline.id", pipelineID, "pipeline_run.id", run.ID, "sequence", run.Sequence)
	return run, nil
}

func newRun(pipelineID types.PipelineID, callbackURL string, inputs []types.PipelineRunInput) *types.PipelineRun {
	return &types.PipelineRun{
		PipelineID:  pipelineID,
		CallbackURL: callbackURL,
		Inputs:      inputs,
		States:      []types.PipelineRunState{{Code: types.RunStateNotStarted}},
	}
}

// Advance appends requested to the state history of the run when the
// transition table allows it, then notifies the callback URL of the run.
// A callback failure never fails Advance.
func (s *Service) Advance(ctx context.Context, id types.PipelineRunID, requested types.RunState) (*types.PipelineRunState, error) {
	if err := types.LookupID("pipeline run", "pipeline_run_id", id); err != nil {
		return nil, err
	}
	if !requested.Valid() {
		return nil, types.NewValidationError("state", "unknown state %q", string(requested))
	}

	var from types.RunState
	run, err := s.db.PipelineRuns().Transition(ctx, id, func(current *types.PipelineRun) (types.RunState, error) {
		from = current.CurrentState()
		if err := CheckTransition(current.ID, from, requested); err != nil {
			return "", err
		}
		return requested, nil
	})
	if err != nil {
		if errors.Is(err, types.ErrInvalidTransition) {
			logs.Debug(ctx, "Advance refused", "pipeline_run.id", id, "from", from, "to", requested)
			s.record(ctx, from, requested, "refused")
		} else {
			logs.Debug(ctx, "Advance error transitioning run", "pipeline_run.id", id, "error", err)
		}
		return nil, err
	}

	entry := run.States[len(run.States)-1]
	logs.Info(ctx, "Pipeline run state changed", "pipeline_run.id", id, "from", from, "to", entry.Code)
	s.record(ctx, from, entry.Code, "accepted")

	s.notifier.Notify(ctx, run.CallbackURL, run.ID, entry.Code)
	return &entry, nil
}

// AdvanceString parses raw in any letter case before calling Advance.
func (s *Service) AdvanceString(ctx context.Context, id types.PipelineRunID, raw string) (*types.PipelineRunState, error) {
	requested, err := types.ParseRunState(raw)
	if err != nil {
		return nil, err
	}
	return s.Advance(ctx, id, requested)
}

func (s *Service) record(ctx context.Context, from, to types.RunState, outcome string) {
	if s.transitions == nil {
		return
	}
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
		attribute.String("outcome", outcome),
	))
}

func (s *Service) UpdatePipelineRunOutput(ctx context.Context, id types.PipelineRunID, stdout, stderr string) (*types.PipelineRun, error) {
	if err := types.LookupID("pipeline run", "pipeline_run_id", id); err != nil {
		return nil, err
	}
	run, err := s.db.PipelineRuns().UpdateOutput(ctx, id, stdout, stderr)
	if err != nil {
		logs.Debug(ctx, "UpdatePipelineRunOutput error updating run", "pipeline_run.id", id, "error", err)
		return nil, err
	}
	return run, nil
}

func (s *Service) GetPipelineRun(ctx context.Context, id types.PipelineRunID) (*types.PipelineRun, error) {
	if err := types.LookupID("pipeline run", "pipeline_run_id", id); err != nil {
		return nil, err
	}
	return s.db.PipelineRuns().Get(ctx, id)
}

func (s *Service) ListPipelineRuns(ctx context.Context, pipelineID types.PipelineID) ([]*types.PipelineRun, error) {
	if err := types.CheckID("pipeline_id", pipelineID); err != nil {
		return nil, err
	}
	return s.db.PipelineRuns().ListByPipeline(ctx, pipelineID)
}

// StartWorkflowRun creates a workflow run with one NOT_STARTED pipeline run
// per live node, in topological order. An empty callbackURL disables the
// callbacks of the member runs.
func (s *Service) StartWorkflowRun(ctx context.Context, workflowID types.WorkflowID, callbackURL string) (*types.WorkflowRun, []*types.WorkflowPipelineRun, error) {
	if err := types.CheckID("workflow_id", workflowID); err != nil {
		return nil, nil, err
	}
	if callbackURL != "" {
		if err := checkCallbackURL(callbackURL); err != nil {
			return nil, nil, err
		}
	}

	snap, err := s.db.Dependencies().Snapshot(ctx, workflowID)
	if err != nil {
		logs.Debug(ctx, "StartWorkflowRun error reading graph", "workflow.id", workflowID, "error", err)
		return nil, nil, err
	}
	nodes, err := workflows.Order(snap)
	if err != nil {
		return nil, nil, err
	}

	members := make([]repository.WorkflowRunMember, 0, len(nodes))
	for _, n := range nodes {
		members = append(members, repository.WorkflowRunMember{
			Link: &types.WorkflowPipelineRun{WorkflowPipelineID: n.ID},
			Run:  newRun(n.PipelineID, callbackURL, nil),
		})
	}

	wr := &types.WorkflowRun{
		ID:         types.WorkflowRunID(types.NewID()),
		WorkflowID: workflowID,
	}
	links, err := s.db.WorkflowRuns().Create(ctx, wr, members)
	if err != nil {
		logs.Debug(ctx, "StartWorkflowRun error creating run", "workflow.id", workflowID, "error", err)
		return nil, nil, fmt.Errorf("starting workflow %s: %w", workflowID, err)
	}

	created, err := s.db.WorkflowRuns().Get(ctx, wr.ID)
	if err != nil {
		return nil, nil, err
	}
	logs.Info(ctx, "Workflow run started", "workflow.id", workflowID, "workflow_run.id", created.ID, "members", len(links))
	return created, links, nil
}

func (s *Service) GetWorkflowRun(ctx context.Context, id types.WorkflowRunID) (*types.WorkflowRun, error) {
	if err := types.CheckID("workflow_run_id", id); err != nil {
		return nil, err
	}
	return s.db.WorkflowRuns().Get(ctx, id)
}

func (s *Service) ListWorkflowRuns(ctx context.Context, workflowID types.WorkflowID) ([]*types.WorkflowRun, error) {
	if err := types.CheckID("workflow_id", workflowID); err != nil {
		return nil, err
	}
	return s.db.WorkflowRuns().ListByWorkflow(ctx, workflowID)
}

func (s *Service) ListWorkflowPipelineRuns(ctx context.Context, workflowRunID types.WorkflowRunID) ([]*types.WorkflowPipelineRun, error) {
	if err := types.CheckID("workflow_run_id", workflowRunID); err != nil {
		return nil, err
	}
	return s.db.WorkflowRuns().ListMembers(ctx, workflowRunID)
}

// PipelineRunsForWorkflowRun returns the pipeline runs of a workflow run in
// member order.
func (s *Service) PipelineRunsForWorkflowRun(ctx context.Context, workflowRunID types.WorkflowRunID) ([]*types.PipelineRun, error) {
	links, err := s.ListWorkflowPipelineRuns(ctx, workflowRunID)
	if err != nil {
		return nil, err
	}
	out := make([]*types.PipelineRun, 0, len(links))
	for _, l := range links {
		run, err := s.db.PipelineRuns().Get(ctx, l.PipelineRunID)
		if err != nil {
			return nil, fmt.Errorf("loading pipeline run %s: %w", l.PipelineRunID, err)
		}
		out = append(out, run)
	}
	return out, nil
}
