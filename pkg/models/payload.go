package models

import (
	"encoding/json"
	"fmt"
	"io"
)

// JobPayload is everything a worker process needs to run one job. It is the
// only input that crosses the process boundary.
type JobPayload struct {
	JobID         string                  `json:"job_id"`
	Dataset       DatasetDescriptor       `json:"dataset"`
	Overrides     HyperparameterOverrides `json:"hyperparameters"`
	ModelID       string                  `json:"model_id"`
	ModelName     string                  `json:"model_name"`
	Task          string                  `json:"task"`
	StrategyHint  string                  `json:"strategy,omitempty"`
	MaxIterations int                     `json:"max_iterations,omitempty"`
	TargetMetric  float64                 `json:"target_metric,omitempty"`
}

// DefaultMaxIterations and DefaultTargetMetric apply when the payload omits them
const (
	DefaultMaxIterations = 10
	DefaultTargetMetric  = 1.0
)

// Validate checks the fields a worker cannot run without
func (p JobPayload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("payload: job id is required")
	}
	if p.ModelID == "" {
		return fmt.Errorf("payload: model id is required")
	}
	if p.Dataset.Path == "" {
		return fmt.Errorf("payload: dataset path is required")
	}
	if p.MaxIterations < 0 {
		return fmt.Errorf("payload: max iterations must not be negative")
	}
	return nil
}

// Encode writes the payload as JSON
func (p JobPayload) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(p)
}

// DecodePayload reads a JSON payload and fills defaults
func DecodePayload(r io.Reader) (JobPayload, error) {
	var p JobPayload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return p, fmt.Errorf("failed to decode payload: %w", err)
	}
	if p.MaxIterations == 0 {
		p.MaxIterations = DefaultMaxIterations
	}
	if p.TargetMetric == 0 {
		p.TargetMetric = DefaultTargetMetric
	}
	if p.Task == "" {
		p.Task = "classification"
	}
	return p, p.Validate()
}
