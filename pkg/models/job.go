package models

import (
	"time"
)

// JobStatus represents the status of a search job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job is the persisted view of one search job. It is written by the worker
// process that owns the job and read by the supervisor and the CLI.
type Job struct {
	ID               string                 `json:"id"`
	ModelID          string                 `json:"model_id"`
	DatasetID        string                 `json:"dataset_id,omitempty"`
	Strategy         string                 `json:"strategy,omitempty"`
	Status           JobStatus              `json:"status"`
	Progress         float64                `json:"progress"` // 0-100%
	CurrentIteration int                    `json:"current_iteration"`
	TotalIterations  int                    `json:"total_iterations"`
	CurrentAccuracy  *float64               `json:"current_accuracy,omitempty"`
	BestAccuracy     *float64               `json:"best_accuracy,omitempty"`
	CurrentLoss      *float64               `json:"current_loss,omitempty"`
	BestLoss         *float64               `json:"best_loss,omitempty"`
	Precision        *float64               `json:"precision,omitempty"`
	Recall           *float64               `json:"recall,omitempty"`
	F1Score          *float64               `json:"f1_score,omitempty"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	Config           map[string]interface{} `json:"config,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
}

// JobRequest is the body accepted by the control API when a job is submitted
type JobRequest struct {
	Dataset       DatasetDescriptor       `json:"dataset"`
	ModelName     string                  `json:"model_name,omitempty"`
	Task          string                  `json:"task,omitempty"`
	Strategy      string                  `json:"strategy,omitempty"`
	MaxIterations int                     `json:"max_iterations,omitempty"`
	TargetMetric  float64                 `json:"target_metric,omitempty"`
	Overrides     HyperparameterOverrides `json:"hyperparameters,omitempty"`
}

// ModelStatus is the lifecycle of the model produced by a job
type ModelStatus string

const (
	ModelStatusPending  ModelStatus = "pending"
	ModelStatusTraining ModelStatus = "training"
	ModelStatusReady    ModelStatus = "ready"
	ModelStatusFailed   ModelStatus = "failed"
)

// Model is the persisted record of the model a job searches for
type Model struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	DatasetID       string                 `json:"dataset_id,omitempty"`
	Task            string                 `json:"task"`
	Status          ModelStatus            `json:"status"`
	Accuracy        *float64               `json:"accuracy,omitempty"` // percent
	Loss            *float64               `json:"loss,omitempty"`
	ArtifactPath    string                 `json:"artifact_path,omitempty"`
	Hyperparameters *HyperparameterSet     `json:"hyperparameters,omitempty"`
	Metrics         map[string]interface{} `json:"metrics,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	LastTrained     *time.Time             `json:"last_trained,omitempty"`
}

// StateTransition tracks job state changes with timestamps
type StateTransition struct {
	From      JobStatus `json:"from"`
	To        JobStatus `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}
