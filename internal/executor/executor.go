// Package executor runs candidate models through an external trainer command.
//
// The trainer is invoked in two modes:
//
//	<command...> shape --source FILE --classes N --input-shape C,H,W
//	<command...> train --source FILE --classes N --input-shape C,H,W --dataset DIR --device DEV --params JSON
//
// and reports a JSON object on the last line of stdout. Exit code 2 marks a
// per-trial failure, exit code 3 an unrecoverable one. trainer/msearch_trainer.py
// is the reference implementation.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/modelsearch/pkg/logging"
	"github.com/psantana5/modelsearch/pkg/models"
	"github.com/psantana5/modelsearch/pkg/tracing"
)

// Trainer exit codes
const (
	ExitRecoverable = 2
	ExitFatal       = 3
)

// Artifact is an instantiated candidate that passed the shape check.
type Artifact struct {
	Source          string
	Path            string
	ExpectedClasses int
}

// Executor instantiates and trains candidates.
type Executor interface {
	Instantiate(ctx context.Context, source string, expectedClasses int) (Artifact, error)
	TrainAndEvaluate(ctx context.Context, art Artifact, params models.HyperparameterSet) (models.Metrics, error)
}

// SourceWriter persists a candidate so the trainer can load it.
type SourceWriter interface {
	WriteTrialSource(modelID, source string) (string, error)
}

// Config describes the trainer command.
type Config struct {
	Command  []string      `mapstructure:"command" yaml:"command"`
	WorkDir  string        `mapstructure:"work_dir" yaml:"work_dir"`
	Env      []string      `mapstructure:"env" yaml:"env"`
	KillWait time.Duration `mapstructure:"kill_wait" yaml:"kill_wait"`
}

// DefaultTrainerScript is the reference trainer shipped in trainer/. The
// path resolves against WorkDir, or the working directory when unset.
const DefaultTrainerScript = "trainer/msearch_trainer.py"

// DefaultConfig runs the bundled reference trainer.
func DefaultConfig() Config {
	return Config{
		Command:  []string{"python3", DefaultTrainerScript},
		KillWait: 5 * time.Second,
	}
}

// Validate checks that a command is configured.
func (c Config) Validate() error {
	if len(c.Command) == 0 || c.Command[0] == "" {
		return fmt.Errorf("executor command is required")
	}
	return nil
}

// Job carries the per-job inputs the trainer needs.
type Job struct {
	ModelID string
	Dataset models.DatasetDescriptor
	Device  string
}

// TrainerExecutor shells out to the trainer command for every trial.
type TrainerExecutor struct {
	cfg     Config
	job     Job
	sources SourceWriter
	logger  *logging.Logger
	tracer  *tracing.Provider
}

// New creates a TrainerExecutor for one job. sources, logger and tracer may be nil.
func New(cfg Config, job Job, sources SourceWriter, logger *logging.Logger, tracer *tracing.Provider) *TrainerExecutor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &TrainerExecutor{cfg: cfg, job: job, sources: sources, logger: logger, tracer: tracer}
}

type shapeReport struct {
	OutputClasses *int   `json:"output_classes"`
	Error         string `json:"error,omitempty"`
}

// Instantiate writes the candidate and runs a forward pass on a dummy batch,
// rejecting candidates whose output width differs from expectedClasses.
func (e *TrainerExecutor) Instantiate(ctx context.Context, source string, expectedClasses int) (Artifact, error) {
	source = EnsureImports(source)
	if !strings.Contains(source, "class GeneratedCNN") {
		return Artifact{}, models.Recoverable("Generated code must contain a class named 'GeneratedCNN'")
	}

	path, err := e.writeSource(source)
	if err != nil {
		return Artifact{}, models.WrapFatal(err)
	}
	art := Artifact{Source: source, Path: path, ExpectedClasses: expectedClasses}

	out, err := e.run(ctx, "shape", art.args()...)
	if err != nil {
		return Artifact{}, err
	}

	var report shapeReport
	if err := decodeLastJSON(out, &report); err != nil {
		return Artifact{}, models.Recoverable("shape check produced no report: %v", err)
	}
	if report.Error != "" {
		return Artifact{}, models.Recoverable("%s", report.Error)
	}
	if report.OutputClasses == nil {
		return Artifact{}, models.Recoverable("shape check report is missing output_classes")
	}
	if *report.OutputClasses != expectedClasses {
		return Artifact{}, models.Recoverable("model output has %d classes, expected %d", *report.OutputClasses, expectedClasses)
	}
	return art, nil
}

// TrainAndEvaluate trains the artifact with params and returns its validation metrics.
func (e *TrainerExecutor) TrainAndEvaluate(ctx context.Context, art Artifact, params models.HyperparameterSet) (models.Metrics, error) {
	ctx, span := e.tracer.StartSpan(ctx, "executor.train",
		attribute.Float64("learning_rate", params.LearningRate),
		attribute.Int("batch_size", params.BatchSize),
		attribute.Int("epochs", params.Epochs),
	)
	defer span.End()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return models.Metrics{}, models.WrapFatal(err)
	}

	args := append(art.args(),
		"--dataset", e.job.Dataset.Path,
		"--device", e.job.Device,
		"--params", string(paramsJSON),
	)
	out, err := e.run(ctx, "train", args...)
	if err != nil {
		tracing.SetError(ctx, err)
		return models.Metrics{}, err
	}

	var m models.Metrics
	if err := decodeLastJSON(out, &m); err != nil {
		return models.Metrics{}, models.Recoverable("trainer produced no metrics: %v", err)
	}
	if m.Accuracy < 0 || m.Accuracy > 1 {
		return models.Metrics{}, models.Recoverable("trainer reported accuracy %g outside [0, 1]", m.Accuracy)
	}
	span.SetAttributes(attribute.Float64("accuracy", m.Accuracy), attribute.Float64("loss", m.Loss))
	return m, nil
}

func (a Artifact) args() []string {
	return []string{"--source", a.Path, "--classes", strconv.Itoa(a.ExpectedClasses)}
}

func (e *TrainerExecutor) writeSource(source string) (string, error) {
	if e.sources != nil {
		return e.sources.WriteTrialSource(e.job.ModelID, source)
	}
	f, err := os.CreateTemp("", "generated_model_*.py")
	if err != nil {
		return "", fmt.Errorf("failed to create source file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(source); err != nil {
		return "", fmt.Errorf("failed to write source file: %w", err)
	}
	return f.Name(), nil
}

// run executes the trainer in the given mode and classifies its failure.
func (e *TrainerExecutor) run(ctx context.Context, mode string, args ...string) ([]byte, error) {
	shape := e.job.Dataset.Shape()
	full := append([]string{}, e.cfg.Command[1:]...)
	full = append(full, mode)
	full = append(full, args...)
	full = append(full, "--input-shape", fmt.Sprintf("%d,%d,%d", shape[0], shape[1], shape[2]))

	cmd := exec.CommandContext(ctx, e.cfg.Command[0], full...)
	cmd.Dir = e.cfg.WorkDir
	cmd.Env = append(os.Environ(), e.cfg.Env...)
	if e.cfg.KillWait > 0 {
		cmd.WaitDelay = e.cfg.KillWait
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	e.logger.Debug("Trainer finished", map[string]interface{}{
		"mode":     mode,
		"duration": time.Since(start).String(),
		"error":    errString(err),
	})
	if err == nil {
		return stdout.Bytes(), nil
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("trainer %s interrupted: %w", mode, ctx.Err())
	}

	detail := tail(stderr.String(), 2000)
	if detail == "" {
		detail = tail(stdout.String(), 2000)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case ExitFatal:
			return nil, models.Fatal("trainer %s failed: %s", mode, detail)
		default:
			if detail == "" {
				detail = exitErr.Error()
			}
			return nil, models.Recoverable("%s", detail)
		}
	}
	// Could not start the trainer at all.
	return nil, models.Fatal("failed to run trainer %q: %v", e.cfg.Command[0], err)
}

// EnsureImports prepends the torch imports a bare class definition relies on.
func EnsureImports(source string) string {
	if !hasLine(source, "import torch") {
		source = "import torch\n" + source
	}
	if !hasLine(source, "import torch.nn as nn") {
		source = "import torch.nn as nn\n" + source
	}
	if !hasLine(source, "import torch.nn.functional as F") && strings.Contains(source, "F.") {
		source = "import torch.nn.functional as F\n" + source
	}
	return source
}

func hasLine(source, line string) bool {
	for _, l := range strings.Split(source, "\n") {
		if strings.TrimSpace(l) == line {
			return true
		}
	}
	return false
}

// decodeLastJSON decodes the last stdout line that holds a JSON object.
func decodeLastJSON(out []byte, v interface{}) error {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		if err := json.Unmarshal([]byte(line), v); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no JSON object in trainer output")
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
