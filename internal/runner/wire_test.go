package runner

import (
	"testing"

	"github.com/psantana5/modelsearch/internal/executor"
	"github.com/psantana5/modelsearch/internal/generator"
	"github.com/psantana5/modelsearch/internal/orchestrator"
	"github.com/psantana5/modelsearch/internal/strategy"
	"github.com/psantana5/modelsearch/pkg/models"
)

func TestNewSearcherFactory(t *testing.T) {
	cfg := models.JobConfig{JobID: "j", ModelID: "m", Task: "classification", MaxIterations: 1}

	t.Run("invalid generator config is fatal", func(t *testing.T) {
		gen := generator.DefaultConfig()
		gen.Provider = "bard"
		_, err := NewSearcherFactory(SearchOptions{Generator: gen, Executor: executor.DefaultConfig()})(cfg, nil)
		if !models.IsFatal(err) {
			t.Errorf("err = %v, want fatal", err)
		}
	})

	t.Run("missing trainer command is fatal", func(t *testing.T) {
		_, err := NewSearcherFactory(SearchOptions{Generator: generator.DefaultConfig()})(cfg, nil)
		if !models.IsFatal(err) {
			t.Errorf("err = %v, want fatal", err)
		}
	})

	t.Run("registers the vision strategy", func(t *testing.T) {
		s, err := NewSearcherFactory(SearchOptions{
			Generator: generator.DefaultConfig(),
			Executor:  executor.DefaultConfig(),
			Seed:      7,
		})(cfg, nil)
		if err != nil {
			t.Fatalf("factory error = %v", err)
		}
		o, ok := s.(*orchestrator.Orchestrator)
		if !ok {
			t.Fatalf("searcher is %T", s)
		}
		infos := o.Strategies()
		if len(infos) != 1 || infos[0].Name != strategy.VisionName {
			t.Errorf("strategies = %+v", infos)
		}
	})
}
