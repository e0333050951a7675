package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/psantana5/modelsearch/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store. It only
// serves a single process and is meant for tests and `serve --store memory`.
type MemoryStore struct {
	jobs     map[string]*models.Job
	models   map[string]*models.Model
	jobsMu   sync.RWMutex
	modelsMu sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*models.Job),
		models: make(map[string]*models.Model),
	}
}

// CreateJob stores a copy of job
func (s *MemoryStore) CreateJob(job *models.Job) error {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

// GetJob returns a copy of the job
func (s *MemoryStore) GetJob(id string) (*models.Job, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

// ListJobs returns jobs newest first
func (s *MemoryStore) ListJobs(status models.JobStatus) ([]*models.Job, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if status != "" && job.Status != status {
			continue
		}
		cp := *job
		jobs = append(jobs, &cp)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

// UpdateJob applies a partial update
func (s *MemoryStore) UpdateJob(id string, fields Fields) error {
	if err := checkFields(fields, jobColumns); err != nil {
		return err
	}
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	return applyJobFields(job, fields)
}

// TransitionJob checks the FSM and applies status and fields atomically
func (s *MemoryStore) TransitionJob(id string, to models.JobStatus, fields Fields) error {
	if err := checkFields(fields, jobColumns); err != nil {
		return err
	}
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if err := models.ValidateTransition(job.Status, to); err != nil {
		return err
	}
	cp := *job
	if err := applyJobFields(&cp, fields); err != nil {
		return err
	}
	cp.Status = to
	s.jobs[id] = &cp
	return nil
}

// CountJobsByStatus aggregates jobs per status
func (s *MemoryStore) CountJobsByStatus() (map[models.JobStatus]int, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	counts := make(map[models.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// CreateModel stores a copy of model
func (s *MemoryStore) CreateModel(model *models.Model) error {
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()

	if _, exists := s.models[model.ID]; exists {
		return fmt.Errorf("model %s already exists", model.ID)
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now()
	}
	if model.Status == "" {
		model.Status = models.ModelStatusPending
	}
	cp := *model
	s.models[model.ID] = &cp
	return nil
}

// GetModel returns a copy of the model
func (s *MemoryStore) GetModel(id string) (*models.Model, error) {
	s.modelsMu.RLock()
	defer s.modelsMu.RUnlock()

	model, ok := s.models[id]
	if !ok {
		return nil, ErrModelNotFound
	}
	cp := *model
	return &cp, nil
}

// UpdateModel applies a partial update
func (s *MemoryStore) UpdateModel(id string, fields Fields) error {
	if err := checkFields(fields, modelColumns); err != nil {
		return err
	}
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()

	model, ok := s.models[id]
	if !ok {
		return ErrModelNotFound
	}
	return applyModelFields(model, fields)
}

// HealthCheck always succeeds
func (s *MemoryStore) HealthCheck() error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

func applyJobFields(job *models.Job, fields Fields) error {
	for k, v := range fields {
		var err error
		switch k {
		case FieldStatus:
			var s string
			s, err = asString(v)
			job.Status = models.JobStatus(s)
		case FieldProgress:
			job.Progress, err = asFloat(v)
		case FieldCurrentIteration:
			job.CurrentIteration, err = asInt(v)
		case FieldTotalIterations:
			job.TotalIterations, err = asInt(v)
		case FieldCurrentAccuracy:
			job.CurrentAccuracy, err = asFloatPtr(v)
		case FieldBestAccuracy:
			job.BestAccuracy, err = asFloatPtr(v)
		case FieldCurrentLoss:
			job.CurrentLoss, err = asFloatPtr(v)
		case FieldBestLoss:
			job.BestLoss, err = asFloatPtr(v)
		case FieldPrecision:
			job.Precision, err = asFloatPtr(v)
		case FieldRecall:
			job.Recall, err = asFloatPtr(v)
		case FieldF1Score:
			job.F1Score, err = asFloatPtr(v)
		case FieldErrorMessage:
			job.ErrorMessage, err = asString(v)
		case FieldStrategy:
			job.Strategy, err = asString(v)
		case FieldConfig:
			job.Config, err = asMap(v)
		case FieldStartedAt:
			job.StartedAt, err = asTimePtr(v)
		case FieldCompletedAt:
			job.CompletedAt, err = asTimePtr(v)
		}
		if err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
	}
	return nil
}

func applyModelFields(model *models.Model, fields Fields) error {
	for k, v := range fields {
		var err error
		switch k {
		case FieldModelStatus:
			var s string
			s, err = asString(v)
			model.Status = models.ModelStatus(s)
		case FieldAccuracy:
			model.Accuracy, err = asFloatPtr(v)
		case FieldLoss:
			model.Loss, err = asFloatPtr(v)
		case FieldArtifactPath:
			model.ArtifactPath, err = asString(v)
		case FieldMetrics:
			model.Metrics, err = asMap(v)
		case FieldLastTrained:
			model.LastTrained, err = asTimePtr(v)
		case FieldHyperparameters:
			switch hp := v.(type) {
			case nil:
				model.Hyperparameters = nil
			case models.HyperparameterSet:
				model.Hyperparameters = &hp
			case *models.HyperparameterSet:
				model.Hyperparameters = hp
			default:
				err = fmt.Errorf("unexpected type %T", v)
			}
		}
		if err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
	}
	return nil
}

func asString(v interface{}) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	case models.JobStatus:
		return string(s), nil
	case models.ModelStatus:
		return string(s), nil
	}
	return "", fmt.Errorf("unexpected type %T", v)
}

func asFloat(v interface{}) (float64, error) {
	switch f := v.(type) {
	case float64:
		return f, nil
	case int:
		return float64(f), nil
	case *float64:
		if f != nil {
			return *f, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}

func asFloatPtr(v interface{}) (*float64, error) {
	if v == nil {
		return nil, nil
	}
	if p, ok := v.(*float64); ok {
		if p == nil {
			return nil, nil
		}
		f := *p
		return &f, nil
	}
	f, err := asFloat(v)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func asInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("unexpected type %T", v)
}

func asTimePtr(v interface{}) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &t, nil
	case *time.Time:
		return t, nil
	}
	return nil, fmt.Errorf("unexpected type %T", v)
}

// asMap round-trips through JSON so the stored map matches what the SQL
// stores return
func asMap(v interface{}) (map[string]interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
