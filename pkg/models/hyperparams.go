package models

import (
	"fmt"
	"strings"
)

// OptimizerKind names the optimizer the trainer builds for a trial
type OptimizerKind string

const (
	OptimizerAdam    OptimizerKind = "Adam"
	OptimizerSGD     OptimizerKind = "SGD"
	OptimizerRMSprop OptimizerKind = "RMSprop"
)

// ParseOptimizer converts a user supplied optimizer name, case-insensitively
func ParseOptimizer(s string) (OptimizerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "adam":
		return OptimizerAdam, nil
	case "sgd":
		return OptimizerSGD, nil
	case "rmsprop":
		return OptimizerRMSprop, nil
	}
	return "", fmt.Errorf("unknown optimizer: %q", s)
}

// HyperparameterSet is the configuration of a single trial.
// It is produced per iteration and passed by value.
type HyperparameterSet struct {
	LearningRate float64       `json:"learning_rate" yaml:"learning_rate"`
	BatchSize    int           `json:"batch_size" yaml:"batch_size"`
	Optimizer    OptimizerKind `json:"optimizer" yaml:"optimizer"`
	DropoutRate  float64       `json:"dropout_rate" yaml:"dropout_rate"`
	Epochs       int           `json:"epochs" yaml:"epochs"`
}

// Validate checks the ranges every trainer relies on
func (h HyperparameterSet) Validate() error {
	if h.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be > 0, got %g", h.LearningRate)
	}
	if h.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1, got %d", h.BatchSize)
	}
	if _, err := ParseOptimizer(string(h.Optimizer)); err != nil {
		return err
	}
	if h.DropoutRate < 0 || h.DropoutRate >= 1 {
		return fmt.Errorf("dropout rate must be in [0, 1), got %g", h.DropoutRate)
	}
	if h.Epochs < 1 {
		return fmt.Errorf("epochs must be >= 1, got %d", h.Epochs)
	}
	return nil
}

func (h HyperparameterSet) String() string {
	return fmt.Sprintf("lr=%g batch=%d optimizer=%s dropout=%g epochs=%d",
		h.LearningRate, h.BatchSize, h.Optimizer, h.DropoutRate, h.Epochs)
}

// HyperparameterOverrides carries caller supplied values. A nil field keeps
// the strategy default.
type HyperparameterOverrides struct {
	LearningRate *float64       `json:"learning_rate,omitempty"`
	BatchSize    *int           `json:"batch_size,omitempty"`
	Optimizer    *OptimizerKind `json:"optimizer,omitempty"`
	DropoutRate  *float64       `json:"dropout_rate,omitempty"`
	Epochs       *int           `json:"epochs,omitempty"`
}

// IsEmpty reports whether no field is overridden
func (o HyperparameterOverrides) IsEmpty() bool {
	return o.LearningRate == nil && o.BatchSize == nil && o.Optimizer == nil &&
		o.DropoutRate == nil && o.Epochs == nil
}

// Apply merges the overrides onto base field by field
func (o HyperparameterOverrides) Apply(base HyperparameterSet) HyperparameterSet {
	merged := base
	if o.LearningRate != nil {
		merged.LearningRate = *o.LearningRate
	}
	if o.BatchSize != nil {
		merged.BatchSize = *o.BatchSize
	}
	if o.Optimizer != nil {
		merged.Optimizer = *o.Optimizer
	}
	if o.DropoutRate != nil {
		merged.DropoutRate = *o.DropoutRate
	}
	if o.Epochs != nil {
		merged.Epochs = *o.Epochs
	}
	return merged
}
