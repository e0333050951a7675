package models

import (
	"fmt"
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusRunning:   true, // Pending → Running (worker process started the search)
		JobStatusFailed:    true, // Pending → Failed (worker died before starting)
		JobStatusCancelled: true, // Pending → Cancelled (user cancels)
	},
	JobStatusRunning: {
		JobStatusCompleted: true, // Running → Completed (at least one trial succeeded)
		JobStatusFailed:    true, // Running → Failed (fatal error or no successful trial)
		JobStatusCancelled: true, // Running → Cancelled (worker terminated)
	},
	// Terminal states (no transitions allowed)
	JobStatusCompleted: {},
	JobStatusFailed:    {},
	JobStatusCancelled: {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobStatus) error {
	allowedStates, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}

	if !allowedStates[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}

	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state JobStatus) bool {
	return state == JobStatusCompleted || state == JobStatusFailed || state == JobStatusCancelled
}

// IsActiveState returns true if a worker may currently own the job
func IsActiveState(state JobStatus) bool {
	return state == JobStatusPending || state == JobStatusRunning
}

// CanCancel reports whether a cancel request is valid from this state
func CanCancel(state JobStatus) bool {
	return IsActiveState(state)
}
