package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/psantana5/modelsearch/internal/policy"
	"github.com/psantana5/modelsearch/internal/strategy"
	"github.com/psantana5/modelsearch/pkg/models"
)

// stubStrategy is a configurable strategy for selection tests.
type stubStrategy struct {
	name     string
	accepts  func(models.JobConfig) bool
	defaults models.HyperparameterSet
	result   models.SearchResult
	panics   bool

	mu   sync.Mutex
	runs int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Validate(cfg models.JobConfig) bool {
	return s.accepts == nil || s.accepts(cfg)
}

func (s *stubStrategy) DefaultHyperparameters(models.JobConfig) models.HyperparameterSet {
	if s.defaults == (models.HyperparameterSet{}) {
		return policy.Baseline
	}
	return s.defaults
}

func (s *stubStrategy) Run(ctx context.Context, cfg models.JobConfig, sink strategy.ProgressSink) models.SearchResult {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
	if s.panics {
		panic("index out of range")
	}
	return s.result
}

func vision(cfg models.JobConfig) bool { return cfg.Dataset.Domain == "vision" }
func text(cfg models.JobConfig) bool   { return cfg.Dataset.Domain == "text" }

func cfgFor(domain, hint string) models.JobConfig {
	return models.JobConfig{
		JobID:         "job-1",
		Task:          "classification",
		MaxIterations: 3,
		TargetMetric:  0.9,
		StrategyHint:  hint,
		Dataset:       models.DatasetDescriptor{Domain: domain},
	}
}

func TestSelect(t *testing.T) {
	cnn := &stubStrategy{name: "llm-cnn", accepts: vision}
	grid := &stubStrategy{name: "grid-search", accepts: vision}
	nlp := &stubStrategy{name: "llm-text", accepts: text}
	o := New(cnn, grid, nlp)

	tests := []struct {
		name    string
		cfg     models.JobConfig
		want    string
		wantErr bool
	}{
		{"auto picks first valid", cfgFor("vision", ""), "llm-cnn", false},
		{"explicit auto", cfgFor("vision", "auto"), "llm-cnn", false},
		{"registration order for text", cfgFor("text", ""), "llm-text", false},
		{"exact hint", cfgFor("vision", "grid-search"), "grid-search", false},
		{"prefix hint case insensitive", cfgFor("vision", "GRID"), "grid-search", false},
		{"ambiguous prefix takes first valid match", cfgFor("text", "llm"), "llm-text", false},
		{"unknown hint falls back", cfgFor("vision", "bayes"), "llm-cnn", false},
		{"hint that cannot handle falls back", cfgFor("text", "grid"), "llm-text", false},
		{"nothing validates", cfgFor("audio", ""), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := o.Select(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", s.Name())
				}
				if !models.IsFatal(err) {
					t.Errorf("selection errors must be fatal, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Name() != tt.want {
				t.Errorf("Select() = %s, want %s", s.Name(), tt.want)
			}
		})
	}
}

func TestMergeHyperparameters(t *testing.T) {
	lr := 0.01
	opt := models.OptimizerRMSprop
	merged := MergeHyperparameters(policy.Baseline, models.HyperparameterOverrides{LearningRate: &lr, Optimizer: &opt})

	want := policy.Baseline
	want.LearningRate = 0.01
	want.Optimizer = models.OptimizerRMSprop
	if merged != want {
		t.Errorf("merged = %+v, want %+v", merged, want)
	}

	if got := MergeHyperparameters(policy.Baseline, models.HyperparameterOverrides{}); got != policy.Baseline {
		t.Errorf("empty overrides changed defaults: %+v", got)
	}
}

type recordSink struct {
	mu      sync.Mutex
	updates []models.ProgressUpdate
}

func (r *recordSink) Emit(u models.ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func TestRunPanicBecomesFailedResult(t *testing.T) {
	o := New(&stubStrategy{name: "llm-cnn", panics: true})
	sink := &recordSink{}

	res := o.Run(context.Background(), cfgFor("vision", ""), sink)

	if res.Success {
		t.Fatal("a panicking strategy must not succeed")
	}
	if !strings.Contains(res.Error, "index out of range") || !strings.Contains(res.Error, "llm-cnn") {
		t.Errorf("error = %q", res.Error)
	}
	if len(sink.updates) != 1 || sink.updates[0].Status != models.ProgressFailed {
		t.Errorf("expected one failed update, got %+v", sink.updates)
	}
}

func TestRunSelectionFailure(t *testing.T) {
	o := New(&stubStrategy{name: "llm-cnn", accepts: vision})
	sink := &recordSink{}

	res := o.Run(context.Background(), cfgFor("tabular", ""), sink)

	if res.Success || !strings.Contains(res.Error, "no strategy can handle") {
		t.Errorf("result = %+v", res)
	}
	if len(sink.updates) != 1 || sink.updates[0].Status != models.ProgressFailed {
		t.Errorf("expected a failed update, got %+v", sink.updates)
	}
}

func TestRunInvalidOverrides(t *testing.T) {
	s := &stubStrategy{name: "llm-cnn"}
	o := New(s)
	cfg := cfgFor("vision", "")
	bad := 1.5
	cfg.Overrides.DropoutRate = &bad

	res := o.Run(context.Background(), cfg, nil)

	if res.Success || !strings.Contains(res.Error, "invalid hyperparameters") {
		t.Errorf("result = %+v", res)
	}
	if s.runs != 0 {
		t.Error("strategy must not run with invalid hyperparameters")
	}
}

func TestRunFillsBestHyperparameters(t *testing.T) {
	s := &stubStrategy{name: "llm-cnn", result: models.SearchResult{Success: true, BestMetric: models.Float64(0.9)}}
	o := New(s)
	cfg := cfgFor("vision", "")
	epochs := 9
	cfg.Overrides.Epochs = &epochs

	res := o.Run(context.Background(), cfg, nil)

	if !res.Success {
		t.Fatalf("expected success: %s", res.Error)
	}
	if res.Strategy != "llm-cnn" {
		t.Errorf("strategy = %q", res.Strategy)
	}
	if res.BestHyperparameters == nil || res.BestHyperparameters.Epochs != 9 {
		t.Errorf("best hyperparameters = %+v, want merged set", res.BestHyperparameters)
	}
}

func TestStrategies(t *testing.T) {
	o := New(&stubStrategy{name: "a"}, &stubStrategy{name: "b"})
	infos := o.Strategies()
	if len(infos) != 2 || infos[0].Name != "a" || infos[1].Name != "b" {
		t.Errorf("Strategies() = %+v", infos)
	}
	if infos[0].Defaults != policy.Baseline {
		t.Errorf("defaults = %+v", infos[0].Defaults)
	}
}
