package models

import (
	"testing"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		wantErr bool
	}{
		// Valid transitions
		{"Pending to Running", JobStatusPending, JobStatusRunning, false},
		{"Pending to Cancelled", JobStatusPending, JobStatusCancelled, false},
		{"Pending to Failed", JobStatusPending, JobStatusFailed, false},
		{"Running to Completed", JobStatusRunning, JobStatusCompleted, false},
		{"Running to Failed", JobStatusRunning, JobStatusFailed, false},
		{"Running to Cancelled", JobStatusRunning, JobStatusCancelled, false},

		// Invalid transitions
		{"Pending to Completed", JobStatusPending, JobStatusCompleted, true},
		{"Running to Pending", JobStatusRunning, JobStatusPending, true},
		{"Completed to Running", JobStatusCompleted, JobStatusRunning, true},
		{"Completed to Cancelled", JobStatusCompleted, JobStatusCancelled, true},
		{"Failed to Running", JobStatusFailed, JobStatusRunning, true},
		{"Cancelled to Completed", JobStatusCancelled, JobStatusCompleted, true},
		{"Unknown source", JobStatus("paused"), JobStatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%v, %v) error = %v, wantErr %v",
					tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminalState(t *testing.T) {
	tests := []struct {
		name     string
		state    JobStatus
		expected bool
	}{
		{"Completed is terminal", JobStatusCompleted, true},
		{"Failed is terminal", JobStatusFailed, true},
		{"Cancelled is terminal", JobStatusCancelled, true},
		{"Pending is not terminal", JobStatusPending, false},
		{"Running is not terminal", JobStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsTerminalState(tt.state)
			if result != tt.expected {
				t.Errorf("IsTerminalState(%v) = %v, want %v", tt.state, result, tt.expected)
			}
		})
	}
}

func TestCanCancel(t *testing.T) {
	tests := []struct {
		state    JobStatus
		expected bool
	}{
		{JobStatusPending, true},
		{JobStatusRunning, true},
		{JobStatusCompleted, false},
		{JobStatusFailed, false},
		{JobStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := CanCancel(tt.state); got != tt.expected {
				t.Errorf("CanCancel(%v) = %v, want %v", tt.state, got, tt.expected)
			}
		})
	}
}

func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	for _, s := range []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		for to := range validTransitions {
			if err := ValidateTransition(s, to); err == nil {
				t.Errorf("terminal state %s allowed transition to %s", s, to)
			}
		}
	}
}
