// Package runner is the body of a worker child process: it owns one job,
// runs the search and writes the job's terminal state.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/psantana5/modelsearch/internal/strategy"
	"github.com/psantana5/modelsearch/pkg/device"
	"github.com/psantana5/modelsearch/pkg/logging"
	"github.com/psantana5/modelsearch/pkg/metrics"
	"github.com/psantana5/modelsearch/pkg/models"
	"github.com/psantana5/modelsearch/pkg/store"
)

// Worker exit codes
const (
	ExitCompleted = 0
	ExitFailed    = 1
	ExitInvalid   = 2
)

// Store is the part of the store a worker writes to.
type Store interface {
	store.JobStore
	store.ModelStore
}

// Searcher runs a search for one job; *orchestrator.Orchestrator is one.
type Searcher interface {
	Run(ctx context.Context, cfg models.JobConfig, sink strategy.ProgressSink) models.SearchResult
}

// SearcherFactory builds the searcher for a job once its device is known.
type SearcherFactory func(cfg models.JobConfig, log *logging.JobLogger) (Searcher, error)

// DeviceDetector picks the compute device.
type DeviceDetector interface {
	Detect(ctx context.Context) device.Info
}

// Deps are the collaborators of Run.
type Deps struct {
	Store       Store
	Detector    DeviceDetector
	NewSearcher SearcherFactory
	Logger      *logging.Logger
	JobLogDir   string
	// Metrics, when set, are written next to the job log in the text
	// exposition format once the job ends.
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Main decodes the payload from r and runs the job.
func Main(ctx context.Context, r io.Reader, deps Deps) int {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	payload, err := models.DecodePayload(r)
	if err != nil {
		logger.Error("Invalid job payload", map[string]interface{}{"error": err.Error()})
		return ExitInvalid
	}
	return Run(ctx, payload, deps)
}

// Run executes the job described by payload and returns the process exit
// code. When ctx is cancelled the job row is left for the supervisor.
func Run(ctx context.Context, payload models.JobPayload, deps Deps) int {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Detector == nil {
		deps.Detector = &device.Detector{}
	}
	if deps.Store == nil || deps.NewSearcher == nil {
		deps.Logger.Error("Worker is missing its store or searcher factory")
		return ExitInvalid
	}
	if err := payload.Validate(); err != nil {
		deps.Logger.Error("Invalid job payload", map[string]interface{}{"error": err.Error()})
		return ExitInvalid
	}

	jobLog, err := logging.NewJobLogger(deps.JobLogDir, payload.JobID, deps.Logger)
	if err != nil {
		deps.Logger.Error("Failed to open job log", map[string]interface{}{"job_id": payload.JobID, "error": err.Error()})
		return ExitInvalid
	}
	defer jobLog.Close()

	w := &worker{payload: payload, deps: deps, log: jobLog}
	return w.run(ctx)
}

type worker struct {
	payload models.JobPayload
	deps    Deps
	log     *logging.JobLogger
}

func (w *worker) run(ctx context.Context) int {
	p := w.payload
	start := w.deps.Now()
	w.log.Infof("Starting search job %s", p.JobID)

	if err := w.deps.Store.UpdateModel(p.ModelID, store.Fields{
		store.FieldModelStatus: models.ModelStatusTraining,
	}); err != nil {
		w.log.Errorf("Failed to mark model %s as training: %v", p.ModelID, err)
		return ExitInvalid
	}
	w.log.Infof("Model %s status updated to 'training'", p.ModelID)

	if err := w.deps.Store.TransitionJob(p.JobID, models.JobStatusRunning, store.Fields{
		store.FieldStartedAt:       start,
		store.FieldProgress:        0.0,
		store.FieldTotalIterations: p.MaxIterations,
	}); err != nil {
		w.log.Errorf("Failed to mark job as running: %v", err)
		return ExitInvalid
	}
	w.log.Info("Job status updated to 'running'")

	ds := p.Dataset
	if ds.NumClasses == 0 {
		ds.NumClasses = InferNumClasses(ds.Path, ds.Domain)
	}
	w.log.Infof("Dataset: %s", ds.Name)
	w.log.Infof("  - Samples: %d", ds.NumSamples)
	w.log.Infof("  - Classes: %d", ds.NumClasses)
	w.log.Infof("  - Domain: %s", ds.Domain)

	info := w.deps.Detector.Detect(ctx)
	w.logDevice(info)

	cfg := models.JobConfig{
		JobID:         p.JobID,
		Dataset:       ds,
		ModelID:       p.ModelID,
		ModelName:     p.ModelName,
		Task:          p.Task,
		MaxIterations: p.MaxIterations,
		TargetMetric:  p.TargetMetric,
		Device:        string(info.Device),
		StrategyHint:  p.StrategyHint,
		Overrides:     p.Overrides,
	}
	if cfg.ModelName == "" {
		cfg.ModelName = ds.Name + "_model"
	}
	if err := cfg.Validate(); err != nil {
		w.fail(fmt.Sprintf("invalid job configuration: %v", err))
		return ExitInvalid
	}

	searcher, err := w.deps.NewSearcher(cfg, w.log)
	if err != nil {
		w.fail(err.Error())
		return ExitInvalid
	}

	hint := cfg.StrategyHint
	if hint == "" {
		hint = "auto"
	}
	w.log.Infof("Starting search with strategy: %s", hint)
	w.log.Infof("Hyperparameters: max_iterations=%d, target_accuracy=%g", cfg.MaxIterations, cfg.TargetMetric)

	sink := NewStoreSink(w.deps.Store, p.JobID, start, w.deps.Now, w.log)
	result := searcher.Run(ctx, cfg, sink)
	w.writeMetrics()

	if ctx.Err() != nil {
		w.log.Info("Search interrupted, leaving job state to the supervisor")
		return ExitFailed
	}
	if !result.Success {
		w.log.Errorf("Search failed: %s", result.Error)
		w.fail(result.Error, store.Fields{store.FieldStrategy: result.Strategy}, w.historyFields(result.Trials))
		return ExitFailed
	}
	if err := w.complete(cfg, result); err != nil {
		w.log.Errorf("Failed to record results: %v", err)
		return ExitFailed
	}
	return ExitCompleted
}

func (w *worker) logDevice(info device.Info) {
	w.log.Info("Hardware information:")
	w.log.Infof("  Platform: %s/%s", info.Platform, info.Arch)
	w.log.Infof("  CPU: %s (%d cores)", info.CPUModel, info.CPUCores)
	w.log.Infof("  Memory: %.2f GB", info.MemoryGB)
	if info.GPUCount > 0 {
		w.log.Infof("  GPUs: %s", strings.Join(info.GPUNames, ", "))
	}
	w.log.Infof("Using device: %s - %s", info.Device, info.Description)
}

func (w *worker) complete(cfg models.JobConfig, result models.SearchResult) error {
	p := w.payload
	now := w.deps.Now()

	w.log.Info(strings.Repeat("=", 50))
	w.log.Info("Search completed successfully!")
	if result.BestMetric != nil {
		w.log.Infof("Best accuracy: %.4f", *result.BestMetric)
	}
	if result.BestHyperparameters != nil {
		w.log.Infof("Best hyperparameters: %s", result.BestHyperparameters)
	}
	if result.BestArtifact != nil && result.BestArtifact.Path != "" {
		w.log.Infof("Model saved to: %s", result.BestArtifact.Path)
	}
	w.log.Infof("Stability: %.1f%%", result.Stability)
	w.log.Info(strings.Repeat("=", 50))

	modelFields := store.Fields{
		store.FieldModelStatus:     models.ModelStatusReady,
		store.FieldLastTrained:     now,
		store.FieldMetrics:         resultMetrics(result),
		store.FieldHyperparameters: result.BestHyperparameters,
	}
	if result.BestMetric != nil {
		modelFields[store.FieldAccuracy] = *result.BestMetric * 100
	}
	if result.BestLoss != nil {
		modelFields[store.FieldLoss] = *result.BestLoss
	}
	if result.BestArtifact != nil {
		modelFields[store.FieldArtifactPath] = result.BestArtifact.Path
	}
	if err := w.deps.Store.UpdateModel(p.ModelID, modelFields); err != nil {
		return fmt.Errorf("failed to update model %s: %w", p.ModelID, err)
	}
	w.log.Infof("Model %s updated with final results", p.ModelID)

	jobFields := store.Fields{
		store.FieldProgress:         100.0,
		store.FieldCurrentIteration: len(result.Trials),
		store.FieldTotalIterations:  cfg.MaxIterations,
		store.FieldStrategy:         result.Strategy,
		store.FieldCompletedAt:      now,
	}
	if result.BestMetric != nil {
		jobFields[store.FieldBestAccuracy] = *result.BestMetric
	}
	if result.BestLoss != nil {
		jobFields[store.FieldBestLoss] = *result.BestLoss
	}
	for k, v := range w.historyFields(result.Trials) {
		jobFields[k] = v
	}
	if err := w.deps.Store.TransitionJob(p.JobID, models.JobStatusCompleted, jobFields); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", p.JobID, err)
	}
	w.log.Infof("Job %s completed successfully!", p.JobID)
	return nil
}

// fail marks the model failed and moves the job to failed.
func (w *worker) fail(msg string, extra ...store.Fields) {
	p := w.payload
	now := w.deps.Now()

	if err := w.deps.Store.UpdateModel(p.ModelID, store.Fields{store.FieldModelStatus: models.ModelStatusFailed}); err != nil {
		w.log.Errorf("Failed to mark model %s as failed: %v", p.ModelID, err)
	} else {
		w.log.Infof("Model %s marked as failed", p.ModelID)
	}

	fields := store.Fields{
		store.FieldErrorMessage: msg,
		store.FieldCompletedAt:  now,
	}
	for _, e := range extra {
		for k, v := range e {
			fields[k] = v
		}
	}
	if err := w.deps.Store.TransitionJob(p.JobID, models.JobStatusFailed, fields); err != nil {
		w.log.Errorf("Failed to mark job as failed: %v", err)
		return
	}
	w.log.Infof("Job %s marked as failed", p.JobID)
}

// historyFields stores the full trial history in the job config.
func (w *worker) historyFields(trials []models.TrialRecord) store.Fields {
	if len(trials) == 0 {
		return nil
	}
	cfg := map[string]interface{}{}
	if job, err := w.deps.Store.GetJob(w.payload.JobID); err == nil {
		for k, v := range job.Config {
			cfg[k] = v
		}
	}
	cfg[TrialsKey] = trials
	return store.Fields{store.FieldConfig: cfg}
}

func (w *worker) writeMetrics() {
	if w.deps.Metrics == nil {
		return
	}
	path := strings.TrimSuffix(w.log.Path(), filepath.Ext(w.log.Path())) + ".prom"
	f, err := os.Create(path)
	if err != nil {
		w.log.Errorf("Failed to write metrics: %v", err)
		return
	}
	defer f.Close()
	if err := w.deps.Metrics.WriteText(f); err != nil {
		w.log.Errorf("Failed to write metrics: %v", err)
	}
}

func resultMetrics(result models.SearchResult) map[string]interface{} {
	m := map[string]interface{}{
		"stability": result.Stability,
		"trials":    len(result.Trials),
	}
	if bm := result.BestMetrics; bm != nil {
		m["accuracy"] = bm.Accuracy
		m["loss"] = bm.Loss
		if bm.Precision != nil {
			m["precision"] = *bm.Precision
		}
		if bm.Recall != nil {
			m["recall"] = *bm.Recall
		}
		if bm.F1Score != nil {
			m["f1_score"] = *bm.F1Score
		}
	}
	return m
}
