package pipelite

import (
	"github.com/davidroman0O/pipelite/internal/callback"
	"github.com/davidroman0O/pipelite/internal/definition"
	"github.com/davidroman0O/pipelite/internal/types"
)

type (
	PipelineID            = types.PipelineID
	WorkflowID            = types.WorkflowID
	WorkflowPipelineID    = types.WorkflowPipelineID
	DependencyID          = types.DependencyID
	PipelineRunID         = types.PipelineRunID
	WorkflowRunID         = types.WorkflowRunID
	WorkflowPipelineRunID = types.WorkflowPipelineRunID
	ArtifactID            = types.ArtifactID

	Pipeline                   = types.Pipeline
	Workflow                   = types.Workflow
	WorkflowPipeline           = types.WorkflowPipeline
	WorkflowPipelineDependency = types.WorkflowPipelineDependency
	PipelineRun                = types.PipelineRun
	PipelineRunState           = types.PipelineRunState
	PipelineRunInput           = types.PipelineRunInput
	PipelineRunArtifact        = types.PipelineRunArtifact
	WorkflowRun                = types.WorkflowRun
	WorkflowPipelineRun        = types.WorkflowPipelineRun

	PipelineSpec            = types.PipelineSpec
	WorkflowSpec            = types.WorkflowSpec
	PipelineRunRequest      = types.PipelineRunRequest
	PipelineRunInputRequest = types.PipelineRunInputRequest

	RunState = types.RunState

	// CallbackPayload is the JSON body posted to a run's callback URL.
	CallbackPayload = callback.Payload

	Definition        = definition.File
	DefinitionResult  = definition.Result
	AppliedDefinition = definition.AppliedWorkflow
)

const (
	RunStateNotStarted = types.RunStateNotStarted
	RunStateRunning    = types.RunStateRunning
	RunStateCompleted  = types.RunStateCompleted
	RunStateFailed     = types.RunStateFailed
	RunStateCancelled  = types.RunStateCancelled
)

// ParseRunState accepts a state name in any case.
func ParseRunState(raw string) (RunState, error) {
	return types.ParseRunState(raw)
}
