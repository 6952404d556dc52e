package types

import "strings"

// RunState is the state code of one PipelineRunState entry.
type RunState string

const (
	RunStateNotStarted RunState = "NOT_STARTED"
	RunStateRunning    RunState = "RUNNING"
	RunStateCompleted  RunState = "COMPLETED"
	RunStateFailed     RunState = "FAILED"
	RunStateCancelled  RunState = "CANCELLED"
)

func RunStateValues() []RunState {
	return []RunState{
		RunStateNotStarted,
		RunStateRunning,
		RunStateCompleted,
		RunStateFailed,
		RunStateCancelled,
	}
}

func (s RunState) String() string {
	return string(s)
}

// Valid reports whether s is a member of the closed enumeration.
func (s RunState) Valid() bool {
	switch s {
	case RunStateNotStarted, RunStateRunning, RunStateCompleted, RunStateFailed, RunStateCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition leaves s, except the
// retry edge out of FAILED.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateCompleted, RunStateFailed, RunStateCancelled:
		return true
	default:
		return false
	}
}

// ParseRunState accepts the state name in any letter case.
func ParseRunState(raw string) (RunState, error) {
	s := RunState(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", NewValidationError("state", "unknown state %q", raw)
	}
	return s, nil
}
