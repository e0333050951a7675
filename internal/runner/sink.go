package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/psantana5/modelsearch/pkg/logging"
	"github.com/psantana5/modelsearch/pkg/models"
	"github.com/psantana5/modelsearch/pkg/store"
)

// TrialsKey is the job config entry holding the trial history.
const TrialsKey = "trials"

// StoreSink persists every progress update to the job row and the job log.
// Trial records carried by updates accumulate under TrialsKey.
type StoreSink struct {
	jobs  store.JobStore
	jobID string
	start time.Time
	now   func() time.Time
	log   *logging.JobLogger

	trials []models.TrialRecord
}

// NewStoreSink creates a sink for jobID. Elapsed time is measured from start.
func NewStoreSink(jobs store.JobStore, jobID string, start time.Time, now func() time.Time, log *logging.JobLogger) *StoreSink {
	if now == nil {
		now = time.Now
	}
	return &StoreSink{jobs: jobs, jobID: jobID, start: start, now: now, log: log}
}

// Emit writes u to the store. Failures are logged and never propagate into
// the search.
func (s *StoreSink) Emit(u models.ProgressUpdate) {
	var progress float64
	if u.TotalIterations > 0 {
		progress = float64(u.Iteration) / float64(u.TotalIterations) * 100
	}
	elapsed, remaining := estimate(s.now().Sub(s.start), progress)

	fields := store.Fields{
		store.FieldProgress:         progress,
		store.FieldCurrentIteration: u.Iteration,
		store.FieldTotalIterations:  u.TotalIterations,
	}
	setFloat(fields, store.FieldCurrentAccuracy, u.CurrentMetric)
	setFloat(fields, store.FieldCurrentLoss, u.CurrentLoss)
	setFloat(fields, store.FieldBestAccuracy, u.BestMetric)
	setFloat(fields, store.FieldBestLoss, u.BestLoss)
	setFloat(fields, store.FieldPrecision, u.Precision)
	setFloat(fields, store.FieldRecall, u.Recall)
	setFloat(fields, store.FieldF1Score, u.F1Score)
	if u.Status == models.ProgressFailed {
		fields[store.FieldErrorMessage] = u.Message
	}

	cfg := map[string]interface{}{}
	if job, err := s.jobs.GetJob(s.jobID); err == nil {
		for k, v := range job.Config {
			cfg[k] = v
		}
	}
	cfg["elapsed_seconds"] = elapsed
	cfg["remaining_seconds"] = remaining
	cfg["elapsed_time"] = FormatDuration(elapsed)
	cfg["estimated_remaining"] = FormatDuration(remaining)
	if u.Trial != nil {
		s.trials = append(s.trials, *u.Trial)
		if !u.Trial.Succeeded {
			cfg["last_error"] = u.Trial.Error
		}
	}
	if len(s.trials) > 0 {
		cfg[TrialsKey] = append([]models.TrialRecord(nil), s.trials...)
	}
	fields[store.FieldConfig] = cfg

	if err := s.jobs.UpdateJob(s.jobID, fields); err != nil {
		s.logf(logging.ERROR, "Error updating progress: %v", err)
		return
	}

	s.logf(logging.INFO, "Iteration %d/%d - %s - Elapsed: %s - Remaining: %s",
		u.Iteration, u.TotalIterations, metricSummary(u), FormatDuration(elapsed), FormatDuration(remaining))
	if u.BestMetric != nil {
		s.logf(logging.INFO, "  Best accuracy: %.4f", *u.BestMetric)
	}
	if u.Status == models.ProgressFailed && u.Message != "" {
		s.logf(logging.ERROR, "  %s", u.Message)
	}
}

func (s *StoreSink) logf(level logging.Level, format string, args ...interface{}) {
	if s.log == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if level == logging.ERROR {
		s.log.Error(msg)
		return
	}
	s.log.Info(msg)
}

// estimate returns elapsed and remaining whole seconds, extrapolating
// linearly from progress percent.
func estimate(elapsed time.Duration, progress float64) (int, int) {
	secs := int(elapsed.Seconds())
	if progress <= 0 {
		return secs, 0
	}
	total := int(float64(secs) / progress * 100)
	remaining := total - secs
	if remaining < 0 {
		remaining = 0
	}
	return secs, remaining
}

func setFloat(fields store.Fields, key string, v *float64) {
	if v != nil {
		fields[key] = *v
	}
}

func metricSummary(u models.ProgressUpdate) string {
	var parts []string
	add := func(label string, v *float64) {
		if v != nil {
			parts = append(parts, fmt.Sprintf("%s: %.4f", label, *v))
		}
	}
	add("Acc", u.CurrentMetric)
	add("Loss", u.CurrentLoss)
	add("Prec", u.Precision)
	add("Rec", u.Recall)
	add("F1", u.F1Score)
	if len(parts) == 0 {
		return "N/A"
	}
	return strings.Join(parts, " | ")
}
