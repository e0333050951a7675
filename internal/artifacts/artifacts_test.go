package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/psantana5/modelsearch/pkg/models"
)

func TestSourcePaths(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{ModelsDir: filepath.Join(dir, "models"), ResultsDir: filepath.Join(dir, "results")})

	p, err := s.WriteTrialSource("m1", "class GeneratedCNN: pass")
	if err != nil {
		t.Fatalf("WriteTrialSource: %v", err)
	}
	if filepath.Base(p) != "generated_model_m1.py" {
		t.Errorf("trial path = %s", p)
	}

	p, err = s.SaveBest("m1", "best")
	if err != nil {
		t.Fatalf("SaveBest: %v", err)
	}
	if filepath.Base(p) != "best_model_m1.py" {
		t.Errorf("best path = %s", p)
	}
	data, _ := os.ReadFile(p)
	if string(data) != "best" {
		t.Errorf("best content = %q", data)
	}
}

func TestSaveHistory(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	s := New(Config{ModelsDir: dir, ResultsDir: dir}).WithClock(func() time.Time { return fixed })

	params := models.HyperparameterSet{LearningRate: 1e-3, BatchSize: 32, Optimizer: models.OptimizerAdam, DropoutRate: 0.2, Epochs: 3}
	trials := []models.TrialRecord{
		{Iteration: 1, Hyperparameters: params, Succeeded: false, Error: "shape mismatch"},
		{Iteration: 2, Hyperparameters: params, Succeeded: true, Metrics: &models.Metrics{Accuracy: 0.9, Loss: 0.3}},
	}

	p, err := s.SaveHistory("m1", trials)
	if err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}
	want := filepath.Join(dir, "m1", "experiment_history_03-14-2026-09-30.json")
	if p != want {
		t.Errorf("history path = %s, want %s", p, want)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	var got []map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0]["success"] != false || got[0]["error"] != "shape mismatch" {
		t.Errorf("first entry = %v", got[0])
	}
	if got[1]["accuracy"] != 0.9 {
		t.Errorf("second entry accuracy = %v", got[1]["accuracy"])
	}
	cfg, ok := got[1]["config"].(map[string]interface{})
	if !ok || cfg["optimizer"] != "Adam" {
		t.Errorf("second entry config = %v", got[1]["config"])
	}
}
