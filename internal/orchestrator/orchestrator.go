// Package orchestrator resolves a search strategy for a job and runs it
// behind a boundary that turns every failure into a terminal result.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/psantana5/modelsearch/internal/strategy"
	"github.com/psantana5/modelsearch/pkg/logging"
	"github.com/psantana5/modelsearch/pkg/models"
)

// Orchestrator holds the registered strategies in priority order.
type Orchestrator struct {
	strategies []strategy.Strategy
	logger     *logging.Logger
	now        func() time.Time
}

// New creates an Orchestrator. Registration order is selection priority.
func New(strategies ...strategy.Strategy) *Orchestrator {
	return &Orchestrator{
		strategies: strategies,
		logger:     logging.Discard(),
		now:        time.Now,
	}
}

// WithLogger sets the logger used for selection and failure messages.
func (o *Orchestrator) WithLogger(logger *logging.Logger) *Orchestrator {
	if logger != nil {
		o.logger = logger
	}
	return o
}

// Strategies describes the registered strategies.
func (o *Orchestrator) Strategies() []strategy.Info {
	infos := make([]strategy.Info, 0, len(o.strategies))
	for _, s := range o.strategies {
		infos = append(infos, strategy.Info{
			Name:     s.Name(),
			Defaults: s.DefaultHyperparameters(models.JobConfig{}),
		})
	}
	return infos
}

// Select returns the strategy for cfg. A hint is honoured only when it
// prefix-matches a strategy name and that strategy validates; otherwise the
// first registered strategy that validates wins.
func (o *Orchestrator) Select(cfg models.JobConfig) (strategy.Strategy, error) {
	hint := strings.ToLower(strings.TrimSpace(cfg.StrategyHint))
	if hint != "" && hint != "auto" {
		matched := false
		for _, s := range o.strategies {
			if !strings.HasPrefix(strings.ToLower(s.Name()), hint) {
				continue
			}
			matched = true
			if s.Validate(cfg) {
				return s, nil
			}
		}
		reason := "unknown strategy"
		if matched {
			reason = "strategy cannot handle this job"
		}
		o.logger.Warn("Ignoring strategy hint", map[string]interface{}{
			"hint":   cfg.StrategyHint,
			"reason": reason,
			"job_id": cfg.JobID,
		})
	}

	for _, s := range o.strategies {
		if s.Validate(cfg) {
			return s, nil
		}
	}

	return nil, models.Fatal("no strategy can handle domain %q task %q (registered: %s)",
		cfg.Dataset.Domain, cfg.Task, strings.Join(o.names(), ", "))
}

// MergeHyperparameters applies overrides onto defaults field by field.
func MergeHyperparameters(defaults models.HyperparameterSet, overrides models.HyperparameterOverrides) models.HyperparameterSet {
	return overrides.Apply(defaults)
}

// Run selects a strategy and runs it. It never panics: selection errors,
// invalid hyperparameters and panics inside the strategy all become a failed
// SearchResult and a failed progress update.
func (o *Orchestrator) Run(ctx context.Context, cfg models.JobConfig, sink strategy.ProgressSink) (res models.SearchResult) {
	if sink == nil {
		sink = strategy.DiscardSink
	}

	name := ""
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("Strategy panicked", map[string]interface{}{
				"job_id":   cfg.JobID,
				"strategy": name,
				"panic":    fmt.Sprint(rec),
				"stack":    string(debug.Stack()),
			})
			res = o.fail(cfg, sink, name, fmt.Sprintf("strategy %s panicked: %v", name, rec))
		}
	}()

	s, err := o.Select(cfg)
	if err != nil {
		return o.fail(cfg, sink, "", err.Error())
	}
	name = s.Name()

	merged := MergeHyperparameters(s.DefaultHyperparameters(cfg), cfg.Overrides)
	if err := merged.Validate(); err != nil {
		return o.fail(cfg, sink, name, fmt.Sprintf("invalid hyperparameters: %v", err))
	}

	o.logger.Info("Running strategy", map[string]interface{}{
		"job_id":          cfg.JobID,
		"strategy":        name,
		"hyperparameters": merged.String(),
	})

	res = s.Run(ctx, cfg, sink)
	if res.Strategy == "" {
		res.Strategy = name
	}
	if res.Success && res.BestHyperparameters == nil {
		res.BestHyperparameters = &merged
	}
	return res
}

func (o *Orchestrator) fail(cfg models.JobConfig, sink strategy.ProgressSink, name, msg string) models.SearchResult {
	o.safeEmit(sink, models.ProgressUpdate{
		TotalIterations: cfg.MaxIterations,
		Status:          models.ProgressFailed,
		Message:         msg,
		Timestamp:       o.now(),
	})
	return models.SearchResult{
		Success:  false,
		Strategy: name,
		Trials:   []models.TrialRecord{},
		Error:    msg,
	}
}

func (o *Orchestrator) safeEmit(sink strategy.ProgressSink, u models.ProgressUpdate) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("Progress sink panicked", map[string]interface{}{"panic": fmt.Sprint(rec)})
		}
	}()
	sink.Emit(u)
}

func (o *Orchestrator) names() []string {
	names := make([]string, 0, len(o.strategies))
	for _, s := range o.strategies {
		names = append(names, s.Name())
	}
	return names
}
