package orchestrator

import (
	"errors"

	"orchestrix/internal/ports"
)

// ErrMaxFailoversExceeded is returned when an agent has already swapped
// models maxFailoversPerAgent times.
var ErrMaxFailoversExceeded = errors.New("max failovers exceeded for agent")

// ErrNoFailback is returned when an agent has no configured failback model.
var ErrNoFailback = errors.New("no failback model configured for agent")

// FailoverPolicy bounds how many times a single agent may swap models
// before the caller must fail the attempt outright.
type FailoverPolicy struct {
	MaxFailoversPerAgent int
}

// CurrentModelFor returns the model an agent should run with: its active
// failback if one is recorded, otherwise the default.
func CurrentModelFor(state ports.FailoverState, def ports.ModelRef) ports.ModelRef {
	if state.Current != nil {
		return *state.Current
	}
	return def
}

// RecordFailover swaps state.Current to failback and appends a history
// entry, subject to policy.MaxFailoversPerAgent. A zero failback (no
// configured failback for the agent) returns ErrNoFailback and leaves state
// unchanged.
func RecordFailover(state ports.FailoverState, failback ports.ModelRef, from ports.ModelRef, reason string, session string, attempt int, at string, policy FailoverPolicy) (ports.FailoverState, error) {
	if failback == (ports.ModelRef{}) {
		return state, ErrNoFailback
	}
	if state.Count >= policy.MaxFailoversPerAgent {
		return state, ErrMaxFailoversExceeded
	}

	next := state
	next.Current = &failback
	next.Count++
	next.History = append(append([]ports.FailoverEvent{}, state.History...), ports.FailoverEvent{
		From:    from,
		To:      failback,
		Reason:  reason,
		Session: session,
		Attempt: attempt,
		At:      at,
	})
	return next, nil
}

// ResetAgent clears an agent's active failback and count, called on a
// successful execution.
func ResetAgent(state ports.FailoverState) ports.FailoverState {
	next := state
	next.Current = nil
	next.Count = 0
	return next
}
