// Package strategy defines search strategies and the generate, train and
// evaluate refinement loop they are built on.
package strategy

import (
	"context"
	"time"

	"github.com/psantana5/modelsearch/pkg/models"
)

// Strategy is a pluggable search algorithm.
type Strategy interface {
	Name() string
	Validate(cfg models.JobConfig) bool
	DefaultHyperparameters(cfg models.JobConfig) models.HyperparameterSet
	Run(ctx context.Context, cfg models.JobConfig, sink ProgressSink) models.SearchResult
}

// ProgressSink receives progress updates while a strategy runs.
type ProgressSink interface {
	Emit(models.ProgressUpdate)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(models.ProgressUpdate)

// Emit calls f(u).
func (f SinkFunc) Emit(u models.ProgressUpdate) { f(u) }

// DiscardSink drops every update.
var DiscardSink ProgressSink = SinkFunc(func(models.ProgressUpdate) {})

// Suggester picks the hyperparameters for an iteration.
type Suggester interface {
	Suggest(iteration int, best float64) models.HyperparameterSet
}

// ArtifactSaver persists the best candidate and the experiment history.
type ArtifactSaver interface {
	SaveBest(modelID, source string) (string, error)
	SaveHistory(modelID string, trials []models.TrialRecord) (string, error)
}

// TrialObserver is told about every finished trial.
type TrialObserver interface {
	TrialFinished(outcome string, d time.Duration)
}

// Trial outcomes reported to a TrialObserver
const (
	OutcomeSucceeded   = "succeeded"
	OutcomeRecoverable = "recoverable"
	OutcomeFatal       = "fatal"
	OutcomeInterrupted = "interrupted"
)

// TrialTimeouts bound the generate call and the instantiate plus train step of
// a single trial. Zero means unbounded.
type TrialTimeouts struct {
	Generate time.Duration `mapstructure:"generate" yaml:"generate"`
	Train    time.Duration `mapstructure:"train" yaml:"train"`
}

// Info describes a registered strategy.
type Info struct {
	Name     string                   `json:"name" yaml:"name"`
	Defaults models.HyperparameterSet `json:"defaults" yaml:"defaults"`
}
