package runs

import (
	"github.com/qmuntal/stateless"

	"github.com/davidroman0O/pipelite/internal/types"
)

// The trigger of every transition is the requested state itself, so the
// machine only has to know which destinations each state permits.
func newMachine(current types.RunState) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(current)

	fsm.Configure(types.RunStateNotStarted).
		Permit(types.RunStateRunning, types.RunStateRunning).
		Permit(types.RunStateCancelled, types.RunStateCancelled)

	fsm.Configure(types.RunStateRunning).
		Permit(types.RunStateCompleted, types.RunStateCompleted).
		Permit(types.RunStateFailed, types.RunStateFailed).
		Permit(types.RunStateCancelled, types.RunStateCancelled)

	// retry of a failed run
	fsm.Configure(types.RunStateFailed).
		Permit(types.RunStateRunning, types.RunStateRunning)

	fsm.Configure(types.RunStateCompleted)
	fsm.Configure(types.RunStateCancelled)

	return fsm
}

// CheckTransition returns a *types.TransitionError when requested cannot
// follow current, including when both are equal.
func CheckTransition(runID types.PipelineRunID, current, requested types.RunState) error {
	refuse := &types.TransitionError{RunID: runID, Current: current, Requested: requested}
	if current == requested {
		return refuse
	}
	fsm := newMachine(current)
	ok, err := fsm.CanFire(requested)
	if err != nil || !ok {
		return refuse
	}
	if err := fsm.Fire(requested); err != nil {
		return refuse
	}
	if fsm.MustState() != requested {
		return refuse
	}
	return nil
}

// AllowedTransitions lists the states reachable from current in one step,
// in enumeration order.
func AllowedTransitions(current types.RunState) []types.RunState {
	triggers, err := newMachine(current).PermittedTriggers()
	if err != nil {
		return nil
	}
	permitted := make(map[types.RunState]struct{}, len(triggers))
	for _, t := range triggers {
		if s, ok := t.(types.RunState); ok {
			permitted[s] = struct{}{}
		}
	}
	out := make([]types.RunState, 0, len(permitted))
	for _, s := range types.RunStateValues() {
		if _, ok := permitted[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
