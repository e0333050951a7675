package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/modelsearch/internal/executor"
	"github.com/psantana5/modelsearch/internal/generator"
	"github.com/psantana5/modelsearch/internal/policy"
	"github.com/psantana5/modelsearch/pkg/logging"
	"github.com/psantana5/modelsearch/pkg/models"
	"github.com/psantana5/modelsearch/pkg/tracing"
)

// RefinerConfig wires the collaborators of a Refiner. Generator, Executor and
// Policy are required; the rest may be left zero.
type RefinerConfig struct {
	Name      string
	Generator generator.Generator
	Executor  executor.Executor
	Policy    Suggester
	Saver     ArtifactSaver
	Timeouts  TrialTimeouts
	Observer  TrialObserver
	Logger    *logging.Logger
	Tracer    *tracing.Provider
	Now       func() time.Time
}

// Refiner runs the refinement loop: suggest hyperparameters, generate a
// candidate, check its shape, train it and feed the outcome back.
type Refiner struct {
	cfg RefinerConfig
}

// NewRefiner creates a Refiner.
func NewRefiner(cfg RefinerConfig) *Refiner {
	if cfg.Name == "" {
		cfg.Name = "refine"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Refiner{cfg: cfg}
}

// Name returns the registered name.
func (r *Refiner) Name() string { return r.cfg.Name }

// Validate accepts any well-formed config.
func (r *Refiner) Validate(cfg models.JobConfig) bool {
	return cfg.Validate() == nil
}

// DefaultHyperparameters returns the policy baseline.
func (r *Refiner) DefaultHyperparameters(models.JobConfig) models.HyperparameterSet {
	return policy.Baseline
}

type best struct {
	metric   float64
	metrics  *models.Metrics
	loss     *float64
	params   *models.HyperparameterSet
	artifact *executor.Artifact
}

// Run executes up to cfg.MaxIterations trials and returns the best one.
func (r *Refiner) Run(ctx context.Context, cfg models.JobConfig, sink ProgressSink) models.SearchResult {
	if sink == nil {
		sink = DiscardSink
	}
	log := r.cfg.Logger.WithFields(map[string]interface{}{
		"job_id":   cfg.JobID,
		"strategy": r.cfg.Name,
	})

	ctx, span := r.cfg.Tracer.StartSpan(ctx, "search.run",
		attribute.String("job_id", cfg.JobID),
		attribute.String("strategy", r.cfg.Name),
		attribute.Int("max_iterations", cfg.MaxIterations),
		attribute.Float64("target_metric", cfg.TargetMetric),
	)
	defer span.End()

	result := models.SearchResult{Strategy: r.cfg.Name, Trials: []models.TrialRecord{}}
	if err := cfg.Validate(); err != nil {
		result.Error = err.Error()
		return result
	}

	var b best
	lastError := ""

	for i := 1; i <= cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return r.interrupted(result, err, log)
		}

		r.emit(sink, cfg, i, b, models.ProgressRunning, fmt.Sprintf("Iteration %d/%d", i, cfg.MaxIterations), nil)

		params := cfg.Overrides.Apply(r.cfg.Policy.Suggest(i-1, b.metricOrZero()))
		fb := models.Feedback{LastError: lastError, BestParams: b.params}
		if i > 1 {
			fb.BestMetric = models.Float64(b.metricOrZero())
		}

		log.Info("Starting iteration", map[string]interface{}{
			"iteration": i,
			"params":    params.String(),
		})

		started := r.cfg.Now()
		iterCtx, iterSpan := r.cfg.Tracer.StartSpan(ctx, "search.iteration",
			attribute.Int("iteration", i),
			attribute.Float64("learning_rate", params.LearningRate),
			attribute.Int("batch_size", params.BatchSize),
		)
		art, metrics, err := r.trial(iterCtx, cfg, params, fb)
		elapsed := r.cfg.Now().Sub(started)

		if err != nil {
			tracing.SetError(iterCtx, err)
			iterSpan.End()

			if ctxErr := ctx.Err(); ctxErr != nil {
				r.observe(OutcomeInterrupted, elapsed)
				return r.interrupted(result, ctxErr, log)
			}
			if models.IsFatal(err) {
				r.observe(OutcomeFatal, elapsed)
				log.Error("Search aborted", map[string]interface{}{"iteration": i, "error": err.Error()})
				result.Error = err.Error()
				result.Stability = models.Stability(result.Trials)
				r.saveHistory(cfg, result.Trials, log)
				r.emit(sink, cfg, i, b, models.ProgressFailed, err.Error(), nil)
				return result
			}

			// Recoverable, or unclassified and treated as recoverable.
			r.observe(OutcomeRecoverable, elapsed)
			lastError = err.Error()
			rec := models.TrialRecord{
				Iteration:       i,
				Hyperparameters: params,
				Succeeded:       false,
				Error:           lastError,
				StartedAt:       started,
				Duration:        elapsed,
			}
			result.Trials = append(result.Trials, rec)
			log.Warn("Iteration failed", map[string]interface{}{"iteration": i, "error": lastError})
			u := r.update(cfg, i, b, models.ProgressRunning,
				fmt.Sprintf("Iteration %d/%d failed: %s", i, cfg.MaxIterations, lastError), nil)
			u.Trial = &rec
			sink.Emit(u)
			continue
		}

		iterSpan.SetAttributes(attribute.Float64("accuracy", metrics.Accuracy))
		iterSpan.End()
		r.observe(OutcomeSucceeded, elapsed)

		m := metrics
		rec := models.TrialRecord{
			Iteration:       i,
			Hyperparameters: params,
			Metrics:         &m,
			Succeeded:       true,
			StartedAt:       started,
			Duration:        elapsed,
		}
		result.Trials = append(result.Trials, rec)

		if b.loss == nil || metrics.Loss < *b.loss {
			b.loss = models.Float64(metrics.Loss)
		}
		if b.artifact == nil || metrics.Accuracy > b.metric {
			p := params
			a := art
			b.metric = metrics.Accuracy
			b.metrics = &m
			b.params = &p
			b.artifact = &a
			log.Info("New best accuracy", map[string]interface{}{"iteration": i, "accuracy": metrics.Accuracy})
		}
		lastError = ""

		u := r.update(cfg, i, b, models.ProgressRunning,
			fmt.Sprintf("Iteration %d/%d - Acc: %.4f", i, cfg.MaxIterations, metrics.Accuracy), &m)
		u.Trial = &rec
		sink.Emit(u)

		if b.metric >= cfg.TargetMetric {
			log.Info("Target metric reached", map[string]interface{}{"iteration": i, "target": cfg.TargetMetric})
			break
		}
	}

	return r.finish(cfg, result, b, sink, log)
}

// trial runs generate, instantiate and train under the configured timeouts.
func (r *Refiner) trial(ctx context.Context, cfg models.JobConfig, params models.HyperparameterSet, fb models.Feedback) (executor.Artifact, models.Metrics, error) {
	genCtx, cancel := withTimeout(ctx, r.cfg.Timeouts.Generate)
	source, err := r.cfg.Generator.Generate(genCtx, cfg.Dataset, params, fb)
	cancel()
	if err != nil {
		return executor.Artifact{}, models.Metrics{}, timeoutAware(ctx, err, "generate", r.cfg.Timeouts.Generate)
	}

	trainCtx, cancel := withTimeout(ctx, r.cfg.Timeouts.Train)
	defer cancel()

	art, err := r.cfg.Executor.Instantiate(trainCtx, source, cfg.Dataset.NumClasses)
	if err != nil {
		return executor.Artifact{}, models.Metrics{}, timeoutAware(ctx, err, "shape check", r.cfg.Timeouts.Train)
	}
	metrics, err := r.cfg.Executor.TrainAndEvaluate(trainCtx, art, params)
	if err != nil {
		return executor.Artifact{}, models.Metrics{}, timeoutAware(ctx, err, "training", r.cfg.Timeouts.Train)
	}
	return art, metrics, nil
}

func (r *Refiner) finish(cfg models.JobConfig, result models.SearchResult, b best, sink ProgressSink, log *logging.Logger) models.SearchResult {
	result.Stability = models.Stability(result.Trials)
	if b.artifact == nil {
		result.Error = fmt.Sprintf("no successful trial in %d iterations", len(result.Trials))
		if n := len(result.Trials); n > 0 && result.Trials[n-1].Error != "" {
			result.Error += ": " + result.Trials[n-1].Error
		}
		r.saveHistory(cfg, result.Trials, log)
		r.emit(sink, cfg, len(result.Trials), b, models.ProgressFailed, result.Error, nil)
		return result
	}

	result.Success = true
	result.BestMetric = models.Float64(b.metric)
	result.BestLoss = b.loss
	result.BestMetrics = b.metrics
	result.BestHyperparameters = b.params
	result.BestArtifact = &models.ArtifactRef{Source: b.artifact.Source, Path: b.artifact.Path}

	if r.cfg.Saver != nil {
		if path, err := r.cfg.Saver.SaveBest(cfg.ModelID, b.artifact.Source); err != nil {
			log.Warn("Failed to save best model", map[string]interface{}{"error": err.Error()})
		} else {
			result.BestArtifact.Path = path
		}
	}
	r.saveHistory(cfg, result.Trials, log)

	log.Info("Search complete", map[string]interface{}{
		"best_accuracy": b.metric,
		"trials":        len(result.Trials),
		"stability":     result.Stability,
	})
	r.emit(sink, cfg, len(result.Trials), b, models.ProgressCompleted,
		fmt.Sprintf("Best accuracy %.4f after %d iterations", b.metric, len(result.Trials)), b.metrics)
	return result
}

// saveHistory writes the experiment history whenever at least one trial ran.
func (r *Refiner) saveHistory(cfg models.JobConfig, trials []models.TrialRecord, log *logging.Logger) {
	if r.cfg.Saver == nil || len(trials) == 0 {
		return
	}
	path, err := r.cfg.Saver.SaveHistory(cfg.ModelID, trials)
	if err != nil {
		log.Warn("Failed to save experiment history", map[string]interface{}{"error": err.Error()})
		return
	}
	log.Info("Experiment history saved", map[string]interface{}{"path": path})
}

func (r *Refiner) interrupted(result models.SearchResult, err error, log *logging.Logger) models.SearchResult {
	log.Warn("Search interrupted", map[string]interface{}{"error": err.Error()})
	result.Error = fmt.Sprintf("search cancelled: %v", err)
	result.Stability = models.Stability(result.Trials)
	return result
}

func (r *Refiner) emit(sink ProgressSink, cfg models.JobConfig, i int, b best, status models.ProgressStatus, msg string, current *models.Metrics) {
	sink.Emit(r.update(cfg, i, b, status, msg, current))
}

func (r *Refiner) update(cfg models.JobConfig, i int, b best, status models.ProgressStatus, msg string, current *models.Metrics) models.ProgressUpdate {
	u := models.ProgressUpdate{
		Iteration:       i,
		TotalIterations: cfg.MaxIterations,
		BestLoss:        b.loss,
		Status:          status,
		Message:         msg,
		Timestamp:       r.cfg.Now(),
	}
	if b.artifact != nil {
		u.BestMetric = models.Float64(b.metric)
	}
	if current != nil {
		u.CurrentMetric = models.Float64(current.Accuracy)
		u.CurrentLoss = models.Float64(current.Loss)
		u.Precision = current.Precision
		u.Recall = current.Recall
		u.F1Score = current.F1Score
	}
	return u
}

func (r *Refiner) observe(outcome string, d time.Duration) {
	if r.cfg.Observer != nil {
		r.cfg.Observer.TrialFinished(outcome, d)
	}
}

func (b best) metricOrZero() float64 {
	if b.artifact == nil {
		return 0
	}
	return b.metric
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// timeoutAware turns a step deadline into a recoverable error while leaving
// cancellation of the whole search untouched.
func timeoutAware(parent context.Context, err error, step string, limit time.Duration) error {
	if parent.Err() == nil && limit > 0 && errors.Is(err, context.DeadlineExceeded) {
		return models.Recoverable("%s timed out after %s", step, limit)
	}
	return err
}
