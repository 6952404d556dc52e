package types

import "github.com/google/uuid"

type PipelineID string

var NoPipelineID = PipelineID("")

type WorkflowID string

var NoWorkflowID = WorkflowID("")

type WorkflowPipelineID string

var NoWorkflowPipelineID = WorkflowPipelineID("")

type DependencyID string

var NoDependencyID = DependencyID("")

type WorkflowRunID string

var NoWorkflowRunID = WorkflowRunID("")

type WorkflowPipelineRunID string

var NoWorkflowPipelineRunID = WorkflowPipelineRunID("")

type PipelineRunID string

var NoPipelineRunID = PipelineRunID("")

type ArtifactID string

var NoArtifactID = ArtifactID("")

// NewID returns a fresh opaque identifier. Every entity id is a random UUID
// rendered in its canonical string form.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether s parses as a UUID.
func ValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// CheckID returns a ValidationError on field when raw is empty or not a UUID.
func CheckID[T ~string](field string, raw T) error {
	if raw == "" {
		return NewValidationError(field, "is required")
	}
	if !ValidID(string(raw)) {
		return NewValidationError(field, "%q is not a valid id", string(raw))
	}
	return nil
}

// LookupID checks an id used to find an existing entity. An empty id is a
// ValidationError; any other id that is not a UUID cannot match a record and
// is reported as a NotFoundError for entity.
func LookupID[T ~string](entity, field string, raw T) error {
	if raw == "" {
		return NewValidationError(field, "is required")
	}
	if !ValidID(string(raw)) {
		return NewNotFound(entity, string(raw))
	}
	return nil
}
