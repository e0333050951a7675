// Package artifacts lays out candidate sources and experiment histories on disk.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/psantana5/modelsearch/pkg/models"
)

// HistoryTimeFormat names history files, e.g. experiment_history_03-14-2026-09-30.json
const HistoryTimeFormat = "01-02-2006-15-04"

// Config holds the artifact directories.
type Config struct {
	ModelsDir  string `mapstructure:"models_dir" yaml:"models_dir"`
	ResultsDir string `mapstructure:"results_dir" yaml:"results_dir"`
}

// DefaultConfig uses ./models and ./results.
func DefaultConfig() Config {
	return Config{ModelsDir: "models", ResultsDir: "results"}
}

// Store writes artifacts under the configured directories.
type Store struct {
	cfg Config
	now func() time.Time
}

// New creates a Store. Directories are created lazily.
func New(cfg Config) *Store {
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = "models"
	}
	if cfg.ResultsDir == "" {
		cfg.ResultsDir = "results"
	}
	return &Store{cfg: cfg, now: time.Now}
}

// WithClock overrides the time source used for history file names.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// TrialSourcePath is where the candidate of the current trial is written.
func (s *Store) TrialSourcePath(modelID string) string {
	return filepath.Join(s.cfg.ModelsDir, fmt.Sprintf("generated_model_%s.py", modelID))
}

// BestSourcePath is where the best candidate is kept.
func (s *Store) BestSourcePath(modelID string) string {
	return filepath.Join(s.cfg.ModelsDir, fmt.Sprintf("best_model_%s.py", modelID))
}

// WriteTrialSource overwrites the trial source file for modelID.
func (s *Store) WriteTrialSource(modelID, source string) (string, error) {
	return writeFile(s.TrialSourcePath(modelID), []byte(source))
}

// SaveBest writes the best candidate source for modelID.
func (s *Store) SaveBest(modelID, source string) (string, error) {
	return writeFile(s.BestSourcePath(modelID), []byte(source))
}

type historyEntry struct {
	Iteration  int                      `json:"iteration"`
	Accuracy   float64                  `json:"accuracy"`
	Loss       *float64                 `json:"loss,omitempty"`
	Precision  *float64                 `json:"precision,omitempty"`
	Recall     *float64                 `json:"recall,omitempty"`
	F1Score    *float64                 `json:"f1_score,omitempty"`
	Config     models.HyperparameterSet `json:"config"`
	Success    bool                     `json:"success"`
	Error      string                   `json:"error,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	DurationMS int64                    `json:"duration_ms"`
}

// SaveHistory writes the experiment history as indented JSON and returns its path.
func (s *Store) SaveHistory(modelID string, trials []models.TrialRecord) (string, error) {
	entries := make([]historyEntry, 0, len(trials))
	for _, t := range trials {
		e := historyEntry{
			Iteration:  t.Iteration,
			Config:     t.Hyperparameters,
			Success:    t.Succeeded,
			Error:      t.Error,
			StartedAt:  t.StartedAt,
			DurationMS: t.Duration.Milliseconds(),
		}
		if t.Metrics != nil {
			e.Accuracy = t.Metrics.Accuracy
			e.Loss = models.Float64(t.Metrics.Loss)
			e.Precision = t.Metrics.Precision
			e.Recall = t.Metrics.Recall
			e.F1Score = t.Metrics.F1Score
		}
		entries = append(entries, e)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode history: %w", err)
	}

	name := fmt.Sprintf("experiment_history_%s.json", s.now().Format(HistoryTimeFormat))
	return writeFile(filepath.Join(s.cfg.ResultsDir, modelID, name), data)
}

func writeFile(path string, data []byte) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
