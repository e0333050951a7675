// Package api is the supervisor's control API: it creates jobs, hands them
// to the worker pool and serves their state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/psantana5/modelsearch/internal/orchestrator"
	"github.com/psantana5/modelsearch/internal/policy"
	"github.com/psantana5/modelsearch/internal/strategy"
	"github.com/psantana5/modelsearch/pkg/device"
	"github.com/psantana5/modelsearch/pkg/logging"
	"github.com/psantana5/modelsearch/pkg/models"
	"github.com/psantana5/modelsearch/pkg/store"
)

// Pool is the part of the worker pool the API drives.
type Pool interface {
	Submit(jobID string, payload models.JobPayload) bool
	Cancel(jobID string) bool
	Len() int
}

// StrategyLister describes the registered strategies.
type StrategyLister interface {
	Strategies() []strategy.Info
}

// Handler serves the control API.
type Handler struct {
	store      store.Store
	pool       Pool
	strategies StrategyLister
	detector   interface {
		Detect(ctx context.Context) device.Info
	}
	jobLogDir string
	logger    *logging.Logger
	now       func() time.Time
}

// Options configures a Handler. Store and Pool are required.
type Options struct {
	Store      store.Store
	Pool       Pool
	Strategies StrategyLister
	Detector   interface {
		Detect(ctx context.Context) device.Info
	}
	JobLogDir string
	Logger    *logging.Logger
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		store:      opts.Store,
		pool:       opts.Pool,
		strategies: opts.Strategies,
		detector:   opts.Detector,
		jobLogDir:  opts.JobLogDir,
		logger:     opts.Logger,
		now:        time.Now,
	}
	if h.logger == nil {
		h.logger = logging.Discard()
	}
	if h.detector == nil {
		h.detector = &device.Detector{}
	}
	return h
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/jobs", h.CreateJob).Methods("POST")
	r.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/jobs/{id}/cancel", h.CancelJob).Methods("POST")
	r.HandleFunc("/jobs/{id}/logs", h.GetJobLogs).Methods("GET")
	r.HandleFunc("/jobs/{id}/logs", h.DeleteJobLogs).Methods("DELETE")

	r.HandleFunc("/models/{id}", h.GetModel).Methods("GET")
	r.HandleFunc("/strategies", h.ListStrategies).Methods("GET")
	r.HandleFunc("/device", h.GetDevice).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// CancelResponse is returned by POST /jobs/{id}/cancel.
type CancelResponse struct {
	JobID      string           `json:"job_id"`
	Status     models.JobStatus `json:"status"`
	Terminated bool             `json:"terminated"`
}

// CreateJob validates the request, records the job and its model and hands
// the job to the pool. A refused submission answers 409.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req models.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if err := normalizeRequest(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	now := h.now()
	modelID := uuid.New().String()
	jobID := uuid.New().String()

	modelName := req.ModelName
	if modelName == "" {
		modelName = req.Dataset.Name + "_model"
	}

	model := &models.Model{
		ID:        modelID,
		Name:      modelName,
		DatasetID: req.Dataset.ID,
		Task:      req.Task,
		Status:    models.ModelStatusPending,
		CreatedAt: now,
	}
	if err := h.store.CreateModel(model); err != nil {
		h.logger.Error("Failed to create model", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to create model", http.StatusInternalServerError)
		return
	}

	job := &models.Job{
		ID:              jobID,
		ModelID:         modelID,
		DatasetID:       req.Dataset.ID,
		Strategy:        req.Strategy,
		Status:          models.JobStatusPending,
		TotalIterations: req.MaxIterations,
		Config: map[string]interface{}{
			"dataset":         req.Dataset,
			"model_name":      modelName,
			"task":            req.Task,
			"strategy":        req.Strategy,
			"target_metric":   req.TargetMetric,
			"hyperparameters": req.Overrides,
		},
		CreatedAt: now,
	}
	if err := h.store.CreateJob(job); err != nil {
		h.logger.Error("Failed to create job", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to create job", http.StatusInternalServerError)
		return
	}

	payload := models.JobPayload{
		JobID:         jobID,
		Dataset:       req.Dataset,
		Overrides:     req.Overrides,
		ModelID:       modelID,
		ModelName:     modelName,
		Task:          req.Task,
		StrategyHint:  req.Strategy,
		MaxIterations: req.MaxIterations,
		TargetMetric:  req.TargetMetric,
	}
	if !h.pool.Submit(jobID, payload) {
		msg := "worker pool refused the job: at capacity or already running"
		h.markFailed(jobID, modelID, msg)
		h.logger.Warn("Job refused by worker pool", map[string]interface{}{"job_id": jobID})
		http.Error(w, msg, http.StatusConflict)
		return
	}

	h.logger.Info("Job created", map[string]interface{}{
		"job_id":   jobID,
		"model_id": modelID,
		"dataset":  req.Dataset.Name,
	})

	created, err := h.store.GetJob(jobID)
	if err != nil {
		created = job
	}
	writeJSON(w, http.StatusCreated, created)
}

// normalizeRequest fills defaults and rejects requests a worker could not run.
func normalizeRequest(req *models.JobRequest) error {
	if strings.TrimSpace(req.Dataset.Path) == "" {
		return errors.New("dataset.path is required")
	}
	if req.Dataset.Name == "" {
		req.Dataset.Name = lastPathElement(req.Dataset.Path)
	}
	if req.Task == "" {
		req.Task = "classification"
	}
	if req.MaxIterations == 0 {
		req.MaxIterations = models.DefaultMaxIterations
	}
	if req.TargetMetric == 0 {
		req.TargetMetric = models.DefaultTargetMetric
	}
	if req.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", req.MaxIterations)
	}
	if req.TargetMetric < 0 || req.TargetMetric > 1 {
		return fmt.Errorf("target_metric must be in [0, 1], got %g", req.TargetMetric)
	}
	merged := orchestrator.MergeHyperparameters(policy.Baseline, req.Overrides)
	if err := merged.Validate(); err != nil {
		return fmt.Errorf("invalid hyperparameters: %w", err)
	}
	return nil
}

func lastPathElement(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// ListJobs returns jobs newest first, optionally filtered by ?status=.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	jobs, err := h.store.ListJobs(status)
	if err != nil {
		h.logger.Error("Failed to list jobs", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob retrieves a specific job by ID
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob terminates the job's worker and records the cancellation. Only
// pending and running jobs can be cancelled.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	if !models.CanCancel(job.Status) {
		http.Error(w, fmt.Sprintf("Job cannot be cancelled in status %s", job.Status), http.StatusConflict)
		return
	}

	terminated := h.pool.Cancel(job.ID)

	err := h.store.TransitionJob(job.ID, models.JobStatusCancelled, store.Fields{
		store.FieldCompletedAt:  h.now(),
		store.FieldErrorMessage: "cancelled by user",
	})
	if err != nil {
		current, getErr := h.store.GetJob(job.ID)
		switch {
		case getErr == nil && current.Status == models.JobStatusCancelled:
			// the exit supervisor recorded the cancelled exit first
		case getErr == nil && models.IsTerminalState(current.Status):
			// the worker wrote a terminal state before it was stopped
			http.Error(w, fmt.Sprintf("Job already %s", current.Status), http.StatusConflict)
			return
		default:
			h.logger.Error("Failed to cancel job", map[string]interface{}{"job_id": job.ID, "error": err.Error()})
			http.Error(w, fmt.Sprintf("Failed to cancel job: %v", err), http.StatusInternalServerError)
			return
		}
	}
	if job.ModelID != "" {
		if err := h.store.UpdateModel(job.ModelID, store.Fields{store.FieldModelStatus: models.ModelStatusFailed}); err != nil {
			h.logger.Warn("Failed to mark model failed", map[string]interface{}{"model_id": job.ModelID, "error": err.Error()})
		}
	}

	h.logger.Info("Job cancelled", map[string]interface{}{"job_id": job.ID, "terminated": terminated})
	writeJSON(w, http.StatusOK, CancelResponse{
		JobID:      job.ID,
		Status:     models.JobStatusCancelled,
		Terminated: terminated,
	})
}

// GetJobLogs returns the job's log file.
func (h *Handler) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	logs, err := logging.ReadJobLog(h.jobLogDir, job.ID)
	if errors.Is(err, logging.ErrJobLogNotFound) {
		http.Error(w, "No logs available for this job", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read logs: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": job.ID,
		"logs":   logs,
	})
}

// DeleteJobLogs removes the job's log file.
func (h *Handler) DeleteJobLogs(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookupJob(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	if err := logging.DeleteJobLog(h.jobLogDir, job.ID); err != nil {
		http.Error(w, fmt.Sprintf("Failed to delete logs: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": job.ID,
		"status": "deleted",
	})
}

// GetModel returns a model record.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	model, err := h.store.GetModel(mux.Vars(r)["id"])
	if errors.Is(err, store.ErrModelNotFound) {
		http.Error(w, "Model not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to get model", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

// ListStrategies describes the registered strategies.
func (h *Handler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	infos := []strategy.Info{}
	if h.strategies != nil {
		infos = h.strategies.Strategies()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategies": infos,
		"count":      len(infos),
	})
}

// GetDevice reports the device a worker on this host would use.
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, h.detector.Detect(ctx))
}

// Health reports store reachability and pool usage.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":      "healthy",
		"active_jobs": h.pool.Len(),
	}
	if err := h.store.HealthCheck(); err != nil {
		resp["status"] = "unhealthy"
		resp["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if counts, err := h.store.CountJobsByStatus(); err == nil {
		resp["jobs"] = counts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) lookupJob(w http.ResponseWriter, id string) (*models.Job, bool) {
	job, err := h.store.GetJob(id)
	if errors.Is(err, store.ErrJobNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to get job", map[string]interface{}{"job_id": id, "error": err.Error()})
		http.Error(w, "Failed to get job", http.StatusInternalServerError)
		return nil, false
	}
	return job, true
}

// markFailed records a job that never reached a worker.
func (h *Handler) markFailed(jobID, modelID, msg string) {
	if err := h.store.TransitionJob(jobID, models.JobStatusFailed, store.Fields{
		store.FieldErrorMessage: msg,
		store.FieldCompletedAt:  h.now(),
	}); err != nil {
		h.logger.Error("Failed to mark job failed", map[string]interface{}{"job_id": jobID, "error": err.Error()})
	}
	if err := h.store.UpdateModel(modelID, store.Fields{store.FieldModelStatus: models.ModelStatusFailed}); err != nil {
		h.logger.Error("Failed to mark model failed", map[string]interface{}{"model_id": modelID, "error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
