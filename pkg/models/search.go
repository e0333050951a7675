package models

import (
	"fmt"
	"time"
)

// DatasetDescriptor identifies the dataset a job searches over
type DatasetDescriptor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	Domain     string `json:"domain"`
	NumClasses int    `json:"num_classes,omitempty"`
	NumSamples int    `json:"num_samples,omitempty"`
	// InputShape is channels, height, width
	InputShape [3]int `json:"input_shape,omitempty"`
}

// DefaultInputShape is used when the dataset does not declare one
var DefaultInputShape = [3]int{3, 224, 224}

// Shape returns the declared input shape or DefaultInputShape
func (d DatasetDescriptor) Shape() [3]int {
	if d.InputShape[0] == 0 || d.InputShape[1] == 0 || d.InputShape[2] == 0 {
		return DefaultInputShape
	}
	return d.InputShape
}

// JobConfig is the validated, immutable configuration of one search run
type JobConfig struct {
	JobID         string                  `json:"job_id"`
	Dataset       DatasetDescriptor       `json:"dataset"`
	ModelID       string                  `json:"model_id"`
	ModelName     string                  `json:"model_name"`
	Task          string                  `json:"task"`
	MaxIterations int                     `json:"max_iterations"`
	TargetMetric  float64                 `json:"target_metric"`
	Device        string                  `json:"device"`
	StrategyHint  string                  `json:"strategy_hint,omitempty"`
	Overrides     HyperparameterOverrides `json:"overrides,omitempty"`
}

// Validate checks the config invariants
func (c JobConfig) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be >= 1, got %d", c.MaxIterations)
	}
	if c.TargetMetric < 0 || c.TargetMetric > 1 {
		return fmt.Errorf("target metric must be in [0, 1], got %g", c.TargetMetric)
	}
	if c.Task == "" {
		return fmt.Errorf("task is required")
	}
	return nil
}

// Metrics are what a trainer reports for one evaluated candidate
type Metrics struct {
	Accuracy  float64  `json:"accuracy"`
	Loss      float64  `json:"loss"`
	Precision *float64 `json:"precision,omitempty"`
	Recall    *float64 `json:"recall,omitempty"`
	F1Score   *float64 `json:"f1_score,omitempty"`
}

// TrialRecord is one entry of the experiment history
type TrialRecord struct {
	Iteration       int               `json:"iteration"`
	Hyperparameters HyperparameterSet `json:"config"`
	Metrics         *Metrics          `json:"metrics,omitempty"`
	Succeeded       bool              `json:"success"`
	Error           string            `json:"error,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	Duration        time.Duration     `json:"duration"`
}

// ProgressStatus is the status carried by a progress update
type ProgressStatus string

const (
	ProgressRunning   ProgressStatus = "running"
	ProgressCompleted ProgressStatus = "completed"
	ProgressFailed    ProgressStatus = "failed"
)

// ProgressUpdate is emitted by a strategy while it runs; the consumer persists it
type ProgressUpdate struct {
	Iteration       int            `json:"iteration"`
	TotalIterations int            `json:"total_iterations"`
	CurrentMetric   *float64       `json:"current_metric,omitempty"`
	BestMetric      *float64       `json:"best_metric,omitempty"`
	CurrentLoss     *float64       `json:"current_loss,omitempty"`
	BestLoss        *float64       `json:"best_loss,omitempty"`
	Precision       *float64       `json:"precision,omitempty"`
	Recall          *float64       `json:"recall,omitempty"`
	F1Score         *float64       `json:"f1_score,omitempty"`
	Status          ProgressStatus `json:"status"`
	Message         string         `json:"message"`
	Timestamp       time.Time      `json:"timestamp"`
	// Trial is set on the update that closes an iteration
	Trial *TrialRecord `json:"trial,omitempty"`
}

// ArtifactRef points at the candidate that produced the best score
type ArtifactRef struct {
	Source string `json:"-"`
	Path   string `json:"path,omitempty"`
}

// SearchResult is the terminal outcome of a strategy run
type SearchResult struct {
	Success             bool               `json:"success"`
	BestMetric          *float64           `json:"best_metric,omitempty"`
	BestLoss            *float64           `json:"best_loss,omitempty"`
	BestMetrics         *Metrics           `json:"best_metrics,omitempty"`
	BestHyperparameters *HyperparameterSet `json:"best_hyperparameters,omitempty"`
	BestArtifact        *ArtifactRef       `json:"best_artifact,omitempty"`
	Trials              []TrialRecord      `json:"trials"`
	Stability           float64            `json:"stability"` // percent of succeeded trials
	Strategy            string             `json:"strategy,omitempty"`
	Error               string             `json:"error,omitempty"`
}

// Stability returns the percentage of succeeded trials; 100 when there are none
func Stability(trials []TrialRecord) float64 {
	if len(trials) == 0 {
		return 100.0
	}
	ok := 0
	for _, t := range trials {
		if t.Succeeded {
			ok++
		}
	}
	return float64(ok) / float64(len(trials)) * 100
}

// Feedback is the context handed to the generator to steer the next candidate
type Feedback struct {
	BestMetric *float64           `json:"best_metric,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
	BestParams *HyperparameterSet `json:"best_params,omitempty"`
}

// Float64 returns a pointer to v
func Float64(v float64) *float64 {
	return &v
}
