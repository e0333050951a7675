package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/psantana5/modelsearch/internal/strategy"
	"github.com/psantana5/modelsearch/pkg/device"
	"github.com/psantana5/modelsearch/pkg/logging"
	"github.com/psantana5/modelsearch/pkg/models"
	"github.com/psantana5/modelsearch/pkg/store"
)

type fakeDetector struct{}

func (fakeDetector) Detect(context.Context) device.Info {
	return device.Info{Device: device.CPU, Description: "CPU (test)", Platform: "linux", Arch: "amd64"}
}

type fakeSearcher struct {
	updates []models.ProgressUpdate
	result  models.SearchResult
	seen    models.JobConfig
	block   bool
}

func (s *fakeSearcher) Run(ctx context.Context, cfg models.JobConfig, sink strategy.ProgressSink) models.SearchResult {
	s.seen = cfg
	for _, u := range s.updates {
		sink.Emit(u)
	}
	if s.block {
		<-ctx.Done()
		return models.SearchResult{Error: "search cancelled: " + ctx.Err().Error()}
	}
	return s.result
}

type fixture struct {
	store    *store.MemoryStore
	searcher *fakeSearcher
	deps     Deps
	payload  models.JobPayload
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	if err := st.CreateJob(&models.Job{ID: "job-1", ModelID: "model-1"}); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateModel(&models.Model{ID: "model-1", Name: "flowers_model", Task: "classification"}); err != nil {
		t.Fatal(err)
	}

	f := &fixture{store: st, searcher: &fakeSearcher{}}
	clock := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	f.deps = Deps{
		Store:     st,
		Detector:  fakeDetector{},
		JobLogDir: t.TempDir(),
		Now: func() time.Time {
			clock = clock.Add(10 * time.Second)
			return clock
		},
		NewSearcher: func(models.JobConfig, *logging.JobLogger) (Searcher, error) {
			return f.searcher, nil
		},
	}
	f.payload = models.JobPayload{
		JobID:         "job-1",
		ModelID:       "model-1",
		ModelName:     "flowers_model",
		Task:          "classification",
		MaxIterations: 3,
		TargetMetric:  0.9,
		Dataset: models.DatasetDescriptor{
			Name:       "flowers",
			Path:       t.TempDir(),
			Domain:     "vision",
			NumClasses: 5,
		},
	}
	return f
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t)
	params := models.HyperparameterSet{LearningRate: 5e-4, BatchSize: 32, Optimizer: models.OptimizerAdam, DropoutRate: 0.1, Epochs: 5}
	f.searcher.updates = []models.ProgressUpdate{
		{Iteration: 1, TotalIterations: 3, Status: models.ProgressRunning},
		{Iteration: 1, TotalIterations: 3, Status: models.ProgressRunning, CurrentMetric: models.Float64(0.92), BestMetric: models.Float64(0.92)},
	}
	f.searcher.result = models.SearchResult{
		Success:             true,
		Strategy:            "llm-cnn",
		BestMetric:          models.Float64(0.92),
		BestLoss:            models.Float64(0.31),
		BestMetrics:         &models.Metrics{Accuracy: 0.92, Loss: 0.31, F1Score: models.Float64(0.9)},
		BestHyperparameters: &params,
		BestArtifact:        &models.ArtifactRef{Path: "models/best_model_model-1.py"},
		Trials:              []models.TrialRecord{{Iteration: 1, Succeeded: true}},
		Stability:           100,
	}

	if code := Run(context.Background(), f.payload, f.deps); code != ExitCompleted {
		t.Fatalf("Run() = %d, want %d", code, ExitCompleted)
	}

	job, _ := f.store.GetJob("job-1")
	if job.Status != models.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", job.Status)
	}
	if job.Progress != 100 {
		t.Errorf("progress = %v, want 100", job.Progress)
	}
	if job.BestAccuracy == nil || *job.BestAccuracy != 0.92 {
		t.Errorf("best accuracy = %v", job.BestAccuracy)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Error("timestamps not set")
	}
	if job.Strategy != "llm-cnn" {
		t.Errorf("strategy = %q", job.Strategy)
	}

	model, _ := f.store.GetModel("model-1")
	if model.Status != models.ModelStatusReady {
		t.Errorf("model status = %s, want ready", model.Status)
	}
	if model.Accuracy == nil || *model.Accuracy != 92 {
		t.Errorf("model accuracy = %v, want 92", model.Accuracy)
	}
	if model.ArtifactPath != "models/best_model_model-1.py" {
		t.Errorf("artifact path = %q", model.ArtifactPath)
	}
	if model.Hyperparameters == nil || *model.Hyperparameters != params {
		t.Errorf("hyperparameters = %v", model.Hyperparameters)
	}
	if model.Metrics["stability"] != 100.0 {
		t.Errorf("metrics = %v", model.Metrics)
	}

	if f.searcher.seen.Device != "cpu" || f.searcher.seen.Dataset.NumClasses != 5 {
		t.Errorf("config = %+v", f.searcher.seen)
	}

	logText, err := logging.ReadJobLog(f.deps.JobLogDir, "job-1")
	if err != nil {
		t.Fatalf("ReadJobLog() error = %v", err)
	}
	for _, want := range []string{"Using device: cpu", "Iteration 1/3 - Acc: 0.9200", "Search completed successfully!"} {
		if !strings.Contains(logText, want) {
			t.Errorf("job log missing %q", want)
		}
	}
}

func TestRunSearchFailure(t *testing.T) {
	f := newFixture(t)
	f.searcher.result = models.SearchResult{Strategy: "llm-cnn", Error: "GROQ_API_KEY is not set"}

	if code := Run(context.Background(), f.payload, f.deps); code != ExitFailed {
		t.Fatalf("Run() = %d, want %d", code, ExitFailed)
	}

	job, _ := f.store.GetJob("job-1")
	if job.Status != models.JobStatusFailed {
		t.Errorf("job status = %s, want failed", job.Status)
	}
	if job.ErrorMessage != "GROQ_API_KEY is not set" {
		t.Errorf("error message = %q", job.ErrorMessage)
	}
	if job.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	model, _ := f.store.GetModel("model-1")
	if model.Status != models.ModelStatusFailed {
		t.Errorf("model status = %s, want failed", model.Status)
	}
}

func storedTrials(t *testing.T, job *models.Job) []models.TrialRecord {
	t.Helper()
	raw, err := json.Marshal(job.Config[TrialsKey])
	if err != nil {
		t.Fatal(err)
	}
	var trials []models.TrialRecord
	if err := json.Unmarshal(raw, &trials); err != nil {
		t.Fatalf("config[%s] = %v: %v", TrialsKey, job.Config[TrialsKey], err)
	}
	return trials
}

func TestRunFatalKeepsTrialHistory(t *testing.T) {
	f := newFixture(t)
	ok := models.TrialRecord{Iteration: 1, Succeeded: true, Metrics: &models.Metrics{Accuracy: 0.6, Loss: 0.9}}
	bad := models.TrialRecord{Iteration: 2, Error: "model output has 10 classes, expected 5"}
	f.searcher.updates = []models.ProgressUpdate{
		{Iteration: 1, TotalIterations: 3, Status: models.ProgressRunning, Trial: &ok},
		{Iteration: 2, TotalIterations: 3, Status: models.ProgressRunning, Trial: &bad},
		{Iteration: 3, TotalIterations: 3, Status: models.ProgressFailed, Message: "generator rejected credentials"},
	}
	f.searcher.result = models.SearchResult{
		Strategy: "llm-cnn",
		Error:    "generator rejected credentials",
		Trials:   []models.TrialRecord{ok, bad},
	}

	if code := Run(context.Background(), f.payload, f.deps); code != ExitFailed {
		t.Fatalf("Run() = %d, want %d", code, ExitFailed)
	}

	job, _ := f.store.GetJob("job-1")
	if job.Status != models.JobStatusFailed {
		t.Errorf("job status = %s, want failed", job.Status)
	}
	trials := storedTrials(t, job)
	if len(trials) != 2 {
		t.Fatalf("stored %d trials, want 2", len(trials))
	}
	if !trials[0].Succeeded || trials[0].Metrics == nil || trials[0].Metrics.Accuracy != 0.6 {
		t.Errorf("first trial = %+v", trials[0])
	}
	if trials[1].Succeeded || trials[1].Error != bad.Error {
		t.Errorf("second trial = %+v", trials[1])
	}
	if job.ErrorMessage != "generator rejected credentials" {
		t.Errorf("error message = %q", job.ErrorMessage)
	}
}

func TestRunCancelledLeavesJobRunning(t *testing.T) {
	f := newFixture(t)
	f.searcher.block = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- Run(ctx, f.payload, f.deps) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, _ := f.store.GetJob("job-1")
		if job.Status == models.JobStatusRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never started running")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case code := <-done:
		if code != ExitFailed {
			t.Errorf("Run() = %d, want %d", code, ExitFailed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	job, _ := f.store.GetJob("job-1")
	if job.Status != models.JobStatusRunning {
		t.Errorf("job status = %s, want running for the supervisor to resolve", job.Status)
	}
}

func TestRunRejectsJobNotPending(t *testing.T) {
	f := newFixture(t)
	if err := f.store.TransitionJob("job-1", models.JobStatusCancelled, nil); err != nil {
		t.Fatal(err)
	}
	if code := Run(context.Background(), f.payload, f.deps); code != ExitInvalid {
		t.Errorf("Run() = %d, want %d", code, ExitInvalid)
	}
	job, _ := f.store.GetJob("job-1")
	if job.Status != models.JobStatusCancelled {
		t.Errorf("job status = %s, want cancelled", job.Status)
	}
}

func TestRunInvalidConfigFailsJob(t *testing.T) {
	f := newFixture(t)
	f.payload.TargetMetric = 1.5

	if code := Run(context.Background(), f.payload, f.deps); code != ExitInvalid {
		t.Fatalf("Run() = %d, want %d", code, ExitInvalid)
	}
	job, _ := f.store.GetJob("job-1")
	if job.Status != models.JobStatusFailed || !strings.Contains(job.ErrorMessage, "target metric") {
		t.Errorf("job = %s %q", job.Status, job.ErrorMessage)
	}
}

func TestMainRejectsBadPayload(t *testing.T) {
	f := newFixture(t)
	if code := Main(context.Background(), strings.NewReader("{not json"), f.deps); code != ExitInvalid {
		t.Errorf("Main() = %d, want %d", code, ExitInvalid)
	}
	if code := Main(context.Background(), strings.NewReader(`{"job_id":"job-1"}`), f.deps); code != ExitInvalid {
		t.Errorf("Main() without model id = %d, want %d", code, ExitInvalid)
	}
}

func TestStoreSinkWritesProgress(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.CreateJob(&models.Job{ID: "j", Config: map[string]interface{}{"source": "api"}}); err != nil {
		t.Fatal(err)
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(100 * time.Second)
	sink := NewStoreSink(st, "j", start, func() time.Time { return now }, nil)

	sink.Emit(models.ProgressUpdate{
		Iteration:       1,
		TotalIterations: 4,
		CurrentMetric:   models.Float64(0.5),
		CurrentLoss:     models.Float64(1.2),
		BestMetric:      models.Float64(0.5),
		Precision:       models.Float64(0.4),
		Status:          models.ProgressRunning,
	})

	job, _ := st.GetJob("j")
	if job.Progress != 25 || job.CurrentIteration != 1 || job.TotalIterations != 4 {
		t.Errorf("progress fields = %v %d %d", job.Progress, job.CurrentIteration, job.TotalIterations)
	}
	if job.CurrentAccuracy == nil || *job.CurrentAccuracy != 0.5 {
		t.Errorf("current accuracy = %v", job.CurrentAccuracy)
	}
	if job.Precision == nil || *job.Precision != 0.4 {
		t.Errorf("precision = %v", job.Precision)
	}
	if job.Recall != nil {
		t.Errorf("recall = %v, want nil", *job.Recall)
	}
	want := map[string]interface{}{
		"source":              "api",
		"elapsed_seconds":     100.0,
		"remaining_seconds":   300.0,
		"elapsed_time":        "1m 40s",
		"estimated_remaining": "5m 0s",
	}
	for k, v := range want {
		if job.Config[k] != v {
			t.Errorf("config[%s] = %v, want %v", k, job.Config[k], v)
		}
	}

	sink.Emit(models.ProgressUpdate{Iteration: 2, TotalIterations: 4, Status: models.ProgressFailed, Message: "boom"})
	job, _ = st.GetJob("j")
	if job.ErrorMessage != "boom" {
		t.Errorf("error message = %q", job.ErrorMessage)
	}
	if job.Status != models.JobStatusPending {
		t.Errorf("sink changed status to %s", job.Status)
	}
	if job.CurrentAccuracy == nil {
		t.Error("update without metrics cleared current accuracy")
	}
}

func TestStoreSinkFlushesFailedTrial(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.CreateJob(&models.Job{ID: "j"}); err != nil {
		t.Fatal(err)
	}
	sink := NewStoreSink(st, "j", time.Now(), nil, nil)

	sink.Emit(models.ProgressUpdate{Iteration: 1, TotalIterations: 3, Status: models.ProgressRunning})
	sink.Emit(models.ProgressUpdate{
		Iteration:       1,
		TotalIterations: 3,
		Status:          models.ProgressRunning,
		Trial:           &models.TrialRecord{Iteration: 1, Error: "could not extract model code"},
	})

	job, _ := st.GetJob("j")
	trials := storedTrials(t, job)
	if len(trials) != 1 || trials[0].Error != "could not extract model code" {
		t.Fatalf("trials = %+v", trials)
	}
	if job.Config["last_error"] != "could not extract model code" {
		t.Errorf("last_error = %v", job.Config["last_error"])
	}

	sink.Emit(models.ProgressUpdate{
		Iteration:       2,
		TotalIterations: 3,
		Status:          models.ProgressRunning,
		Trial:           &models.TrialRecord{Iteration: 2, Succeeded: true, Metrics: &models.Metrics{Accuracy: 0.7}},
	})
	job, _ = st.GetJob("j")
	if trials := storedTrials(t, job); len(trials) != 2 || trials[1].Iteration != 2 {
		t.Errorf("trials after second flush = %+v", trials)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "0s"},
		{12, "12s"},
		{60, "1m 0s"},
		{2732, "45m 32s"},
		{8100, "2h 15m"},
		{-5, "0s"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.seconds); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestInferNumClasses(t *testing.T) {
	mkdirs := func(t *testing.T, root string, names ...string) {
		t.Helper()
		for _, n := range names {
			if err := os.MkdirAll(filepath.Join(root, n), 0755); err != nil {
				t.Fatal(err)
			}
		}
	}

	t.Run("train subdirectories", func(t *testing.T) {
		root := t.TempDir()
		mkdirs(t, root, "train/cat", "train/dog", "train/bird", "train/.cache", "val/cat")
		if got := InferNumClasses(root, "vision"); got != 3 {
			t.Errorf("got %d, want 3", got)
		}
	})

	t.Run("top level fallback", func(t *testing.T) {
		root := t.TempDir()
		mkdirs(t, root, "a", "b", "c", "d")
		if got := InferNumClasses(root, "Vision"); got != 4 {
			t.Errorf("got %d, want 4", got)
		}
	})

	t.Run("floor of two", func(t *testing.T) {
		root := t.TempDir()
		mkdirs(t, root, "only")
		if got := InferNumClasses(root, "vision"); got != 2 {
			t.Errorf("got %d, want 2", got)
		}
	})

	t.Run("other domain", func(t *testing.T) {
		if got := InferNumClasses(t.TempDir(), "tabular"); got != 2 {
			t.Errorf("got %d, want 2", got)
		}
	})
}
