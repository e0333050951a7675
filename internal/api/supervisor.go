package api

import (
	"context"
	"time"

	"github.com/psantana5/modelsearch/internal/workerpool"
	"github.com/psantana5/modelsearch/pkg/logging"
	"github.com/psantana5/modelsearch/pkg/models"
	"github.com/psantana5/modelsearch/pkg/store"
)

// Supervise consumes worker exits until ctx is done or exits is closed.
// A worker owns its job row while it runs; Supervise only writes a terminal
// state when the worker died without recording one.
func Supervise(ctx context.Context, exits <-chan workerpool.Exit, st store.Store, logger *logging.Logger) {
	if logger == nil {
		logger = logging.Discard()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case exit, ok := <-exits:
			if !ok {
				return
			}
			handleExit(exit, st, logger, time.Now())
		}
	}
}

// Drain records exits already queued on exits, then keeps reading until none
// arrives for idle. It runs after the pool has shut down.
func Drain(exits <-chan workerpool.Exit, st store.Store, logger *logging.Logger, idle time.Duration) int {
	if logger == nil {
		logger = logging.Discard()
	}
	n := 0
	timer := time.NewTimer(idle)
	defer timer.Stop()
	for {
		select {
		case exit, ok := <-exits:
			if !ok {
				return n
			}
			handleExit(exit, st, logger, time.Now())
			n++
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idle)
		case <-timer.C:
			return n
		}
	}
}

func handleExit(exit workerpool.Exit, st store.Store, logger *logging.Logger, now time.Time) {
	fields := map[string]interface{}{
		"job_id":   exit.JobID,
		"pid":      exit.PID,
		"code":     exit.Code,
		"reason":   string(exit.Reason),
		"duration": exit.Duration.String(),
	}

	job, err := st.GetJob(exit.JobID)
	if err != nil {
		logger.Warn("Worker exited for unknown job", fields)
		return
	}
	if !models.IsActiveState(job.Status) {
		logger.Debug("Worker exited", fields)
		return
	}

	to := models.JobStatusFailed
	var msg string
	switch {
	case exit.Cancelled:
		to = models.JobStatusCancelled
		msg = "cancelled"
	case !exit.Failed():
		msg = "worker exited without recording a result"
	default:
		msg = exit.ProcessError().Error()
	}

	if err := st.TransitionJob(job.ID, to, store.Fields{
		store.FieldErrorMessage: msg,
		store.FieldCompletedAt:  now,
	}); err != nil {
		if current, getErr := st.GetJob(job.ID); getErr == nil && models.IsTerminalState(current.Status) {
			// a cancel request recorded the outcome first
			fields["status"] = string(current.Status)
			logger.Debug("Worker exit already recorded", fields)
			return
		}
		fields["error"] = err.Error()
		logger.Error("Failed to record worker exit", fields)
		return
	}
	if job.ModelID != "" {
		if err := st.UpdateModel(job.ModelID, store.Fields{store.FieldModelStatus: models.ModelStatusFailed}); err != nil {
			logger.Warn("Failed to mark model failed", map[string]interface{}{"model_id": job.ModelID, "error": err.Error()})
		}
	}

	fields["status"] = string(to)
	logger.Warn("Worker exited before finishing job", fields)
}
