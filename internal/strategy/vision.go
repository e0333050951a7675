package strategy

import (
	"context"
	"strings"

	"github.com/psantana5/modelsearch/internal/policy"
	"github.com/psantana5/modelsearch/pkg/models"
)

// VisionName is the registered name of the image classification strategy.
const VisionName = "llm-cnn"

// VisionStrategy searches CNN architectures for image classification.
type VisionStrategy struct {
	refiner        *Refiner
	hasCredentials bool
}

// NewVision creates the image classification strategy. hasCredentials
// reports whether the generator can authenticate.
func NewVision(cfg RefinerConfig, hasCredentials bool) *VisionStrategy {
	cfg.Name = VisionName
	return &VisionStrategy{refiner: NewRefiner(cfg), hasCredentials: hasCredentials}
}

// Name returns "llm-cnn".
func (v *VisionStrategy) Name() string { return VisionName }

// Validate accepts vision classification jobs when the generator is usable.
func (v *VisionStrategy) Validate(cfg models.JobConfig) bool {
	if !v.hasCredentials {
		return false
	}
	if !strings.EqualFold(cfg.Dataset.Domain, "vision") {
		return false
	}
	if !strings.EqualFold(cfg.Task, "classification") {
		return false
	}
	return v.refiner.Validate(cfg)
}

// DefaultHyperparameters returns the conservative baseline.
func (v *VisionStrategy) DefaultHyperparameters(models.JobConfig) models.HyperparameterSet {
	return policy.Baseline
}

// Run delegates to the refinement loop.
func (v *VisionStrategy) Run(ctx context.Context, cfg models.JobConfig, sink ProgressSink) models.SearchResult {
	return v.refiner.Run(ctx, cfg, sink)
}
