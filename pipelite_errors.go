package pipelite

import (
	"github.com/davidroman0O/pipelite/internal/types"
)

// Every error returned by Pipelite matches one of these through errors.Is.
var (
	ErrNotFound            = types.ErrNotFound
	ErrValidation          = types.ErrValidation
	ErrInvalidTransition   = types.ErrInvalidTransition
	ErrCycleRejected       = types.ErrCycleRejected
	ErrNotificationFailure = types.ErrNotificationFailure
	ErrStorageFailure      = types.ErrStorageFailure
)

type (
	ValidationError  = types.ValidationError
	ValidationErrors = types.ValidationErrors
	TransitionError  = types.TransitionError
	CycleError       = types.CycleError
	NotFoundError    = types.NotFoundError
)

func NewValidationError(field string, format string, args ...interface{}) *ValidationError {
	return types.NewValidationError(field, format, args...)
}

func NewNotFound(entity string, id string) *NotFoundError {
	return types.NewNotFound(entity, id)
}
