package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/psantana5/modelsearch/internal/executor"
	"github.com/psantana5/modelsearch/pkg/models"
)

// genStep scripts one Generate call.
type genStep struct {
	source string
	err    error
}

type fakeGenerator struct {
	mu        sync.Mutex
	steps     []genStep
	feedbacks []models.Feedback
	params    []models.HyperparameterSet
}

func (g *fakeGenerator) Generate(ctx context.Context, ds models.DatasetDescriptor, params models.HyperparameterSet, fb models.Feedback) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.feedbacks)
	g.feedbacks = append(g.feedbacks, fb)
	g.params = append(g.params, params)
	if n < len(g.steps) {
		s := g.steps[n]
		if s.err != nil {
			return "", s.err
		}
		if s.source != "" {
			return s.source, nil
		}
	}
	return fmt.Sprintf("cand-%d", n+1), nil
}

// trainStep scripts the executor's response to one candidate.
type trainStep struct {
	shapeErr error
	trainErr error
	accuracy float64
	loss     float64
	block    bool // wait for ctx cancellation during training
}

type fakeExecutor struct {
	mu      sync.Mutex
	steps   []trainStep
	calls   int
	trained []models.HyperparameterSet
	current trainStep
}

func (e *fakeExecutor) Instantiate(ctx context.Context, source string, expectedClasses int) (executor.Artifact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = trainStep{accuracy: 0.5, loss: 1}
	if e.calls < len(e.steps) {
		e.current = e.steps[e.calls]
	}
	e.calls++
	if e.current.shapeErr != nil {
		return executor.Artifact{}, e.current.shapeErr
	}
	return executor.Artifact{Source: source, Path: source + ".py", ExpectedClasses: expectedClasses}, nil
}

func (e *fakeExecutor) TrainAndEvaluate(ctx context.Context, art executor.Artifact, params models.HyperparameterSet) (models.Metrics, error) {
	e.mu.Lock()
	step := e.current
	e.trained = append(e.trained, params)
	e.mu.Unlock()

	if step.block {
		<-ctx.Done()
		return models.Metrics{}, fmt.Errorf("trainer interrupted: %w", ctx.Err())
	}
	if step.trainErr != nil {
		return models.Metrics{}, step.trainErr
	}
	return models.Metrics{Accuracy: step.accuracy, Loss: step.loss}, nil
}

type collectSink struct {
	mu      sync.Mutex
	updates []models.ProgressUpdate
}

func (s *collectSink) Emit(u models.ProgressUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

func (s *collectSink) all() []models.ProgressUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ProgressUpdate(nil), s.updates...)
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *countingObserver) TrialFinished(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[outcome]++
}
