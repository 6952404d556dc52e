package types

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine matches exactly one of
// these through errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation error")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrCycleRejected       = errors.New("cycle rejected")
	ErrNotificationFailure = errors.New("notification failure")
	ErrStorageFailure      = errors.New("storage failure")
)

// ValidationError reports a malformed input on a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field string, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ValidationErrors groups the failures of one input so a caller can report
// every offending field at once.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, v := range e {
		msg += " " + v.Field + ": " + v.Reason + ";"
	}
	return msg
}

func (e ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// Fields returns the offending field names in the order they were detected.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, v := range e {
		fields = append(fields, v.Field)
	}
	return fields
}

// OrNil returns nil for an empty set so it can be returned as an error.
func (e ValidationErrors) OrNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// TransitionError carries the states involved in a refused transition.
type TransitionError struct {
	RunID     PipelineRunID
	Current   RunState
	Requested RunState
}

func (e *TransitionError) Error() string {
	if e.Current == e.Requested {
		return fmt.Sprintf("pipeline run %s is already %s", e.RunID, e.Current)
	}
	return fmt.Sprintf("pipeline run %s cannot go from %s to %s", e.RunID, e.Current, e.Requested)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// CycleError names the edge that would have closed a cycle.
type CycleError struct {
	WorkflowID WorkflowID
	From       WorkflowPipelineID
	To         WorkflowPipelineID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency %s -> %s would create a cycle in workflow %s", e.From, e.To, e.WorkflowID)
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycleRejected
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func NewNotFound(entity string, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
