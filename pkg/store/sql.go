package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/psantana5/modelsearch/pkg/models"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL stores.
// The dialects differ only in placeholders and schema.
type sqlStore struct {
	db          *sql.DB
	placeholder func(n int) string
}

const jobSelect = `SELECT id, model_id, dataset_id, strategy, status, progress, current_iteration,
	total_iterations, current_accuracy, best_accuracy, current_loss, best_loss, precision_score,
	recall_score, f1_score, error_message, config, created_at, started_at, completed_at FROM jobs`

const modelSelect = `SELECT id, name, dataset_id, task, status, accuracy, loss, artifact_path,
	hyperparameters, metrics, created_at, last_trained FROM models`

func (s *sqlStore) ph(n int) string {
	return s.placeholder(n)
}

func (s *sqlStore) phList(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.ph(i + 1)
	}
	return strings.Join(parts, ", ")
}

// CreateJob inserts a new job
func (s *sqlStore) CreateJob(job *models.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	config, err := encodeJSON(job.Config)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`INSERT INTO jobs (id, model_id, dataset_id, strategy, status, progress,
		current_iteration, total_iterations, error_message, config, created_at)
		VALUES (`+s.phList(11)+`)`,
		job.ID, job.ModelID, job.DatasetID, job.Strategy, string(job.Status), job.Progress,
		job.CurrentIteration, job.TotalIterations, job.ErrorMessage, config, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *sqlStore) GetJob(id string) (*models.Job, error) {
	row := s.db.QueryRow(jobSelect+` WHERE id = `+s.ph(1), id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// ListJobs returns jobs newest first
func (s *sqlStore) ListJobs(status models.JobStatus) ([]*models.Job, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.Query(jobSelect + ` ORDER BY created_at DESC`)
	} else {
		rows, err = s.db.Query(jobSelect+` WHERE status = `+s.ph(1)+` ORDER BY created_at DESC`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob applies a partial update to a job
func (s *sqlStore) UpdateJob(id string, fields Fields) error {
	if err := checkFields(fields, jobColumns); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	n, err := s.update(s.db, "jobs", id, fields)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// TransitionJob checks the FSM and updates status and fields in one transaction
func (s *sqlStore) TransitionJob(id string, to models.JobStatus, fields Fields) error {
	if err := checkFields(fields, jobColumns); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var from string
	if err := tx.QueryRow(`SELECT status FROM jobs WHERE id = `+s.ph(1), id).Scan(&from); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		return fmt.Errorf("failed to read job status: %w", err)
	}
	if err := models.ValidateTransition(models.JobStatus(from), to); err != nil {
		return err
	}

	merged := Fields{FieldStatus: to}
	for k, v := range fields {
		merged[k] = v
	}
	if _, err := s.update(tx, "jobs", id, merged); err != nil {
		return err
	}
	return tx.Commit()
}

// CountJobsByStatus aggregates jobs per status
func (s *sqlStore) CountJobsByStatus() (map[models.JobStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// CreateModel inserts a new model
func (s *sqlStore) CreateModel(model *models.Model) error {
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now()
	}
	if model.Status == "" {
		model.Status = models.ModelStatusPending
	}
	hp, err := encodeJSON(model.Hyperparameters)
	if err != nil {
		return err
	}
	metrics, err := encodeJSON(model.Metrics)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`INSERT INTO models (id, name, dataset_id, task, status, artifact_path,
		hyperparameters, metrics, created_at) VALUES (`+s.phList(9)+`)`,
		model.ID, model.Name, model.DatasetID, model.Task, string(model.Status), model.ArtifactPath,
		hp, metrics, model.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert model: %w", err)
	}
	return nil
}

// GetModel retrieves a model by ID
func (s *sqlStore) GetModel(id string) (*models.Model, error) {
	row := s.db.QueryRow(modelSelect+` WHERE id = `+s.ph(1), id)
	model, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrModelNotFound
	}
	return model, err
}

// UpdateModel applies a partial update to a model
func (s *sqlStore) UpdateModel(id string, fields Fields) error {
	if err := checkFields(fields, modelColumns); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	n, err := s.update(s.db, "models", id, fields)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrModelNotFound
	}
	return nil
}

// HealthCheck pings the database
func (s *sqlStore) HealthCheck() error {
	return s.db.Ping()
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// update builds "UPDATE table SET a = $1, b = $2 WHERE id = $3" with keys in
// sorted order so the statement text is stable.
func (s *sqlStore) update(db execer, table, id string, fields Fields) (int64, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sets := make([]string, len(keys))
	args := make([]interface{}, 0, len(keys)+1)
	for i, k := range keys {
		v, err := encodeValue(fields[k])
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", k, err)
		}
		sets[i] = k + " = " + s.ph(i+1)
		args = append(args, v)
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s", table, strings.Join(sets, ", "), s.ph(len(keys)+1))
	res, err := db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", table, err)
	}
	return res.RowsAffected()
}

// encodeValue converts a Fields value to something database/sql accepts
func encodeValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string, int, int64, float64, bool, time.Time:
		return val, nil
	case models.JobStatus:
		return string(val), nil
	case models.ModelStatus:
		return string(val), nil
	case *float64:
		if val == nil {
			return nil, nil
		}
		return *val, nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return *val, nil
	default:
		return encodeJSON(val)
	}
}

// encodeJSON stores structured values as JSON text; nil maps and pointers become NULL
func encodeJSON(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		if val == nil {
			return nil, nil
		}
	case *models.HyperparameterSet:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return string(data), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*models.Job, error) {
	var (
		job                                          models.Job
		status                                       string
		datasetID, strategy, errMsg, config          sql.NullString
		curAcc, bestAcc, curLoss, bestLoss, p, r, f1 sql.NullFloat64
		startedAt, completedAt                       sql.NullTime
	)
	err := row.Scan(&job.ID, &job.ModelID, &datasetID, &strategy, &status, &job.Progress,
		&job.CurrentIteration, &job.TotalIterations, &curAcc, &bestAcc, &curLoss, &bestLoss,
		&p, &r, &f1, &errMsg, &config, &job.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	job.DatasetID = datasetID.String
	job.Strategy = strategy.String
	job.ErrorMessage = errMsg.String
	job.CurrentAccuracy = nullFloat(curAcc)
	job.BestAccuracy = nullFloat(bestAcc)
	job.CurrentLoss = nullFloat(curLoss)
	job.BestLoss = nullFloat(bestLoss)
	job.Precision = nullFloat(p)
	job.Recall = nullFloat(r)
	job.F1Score = nullFloat(f1)
	job.StartedAt = nullTime(startedAt)
	job.CompletedAt = nullTime(completedAt)

	if config.Valid && config.String != "" {
		if err := json.Unmarshal([]byte(config.String), &job.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job config: %w", err)
		}
	}
	return &job, nil
}

func scanModel(row scanner) (*models.Model, error) {
	var (
		model                            models.Model
		status                           string
		datasetID, artifact, hp, metrics sql.NullString
		accuracy, loss                   sql.NullFloat64
		lastTrained                      sql.NullTime
	)
	err := row.Scan(&model.ID, &model.Name, &datasetID, &model.Task, &status, &accuracy, &loss,
		&artifact, &hp, &metrics, &model.CreatedAt, &lastTrained)
	if err != nil {
		return nil, err
	}

	model.Status = models.ModelStatus(status)
	model.DatasetID = datasetID.String
	model.ArtifactPath = artifact.String
	model.Accuracy = nullFloat(accuracy)
	model.Loss = nullFloat(loss)
	model.LastTrained = nullTime(lastTrained)

	if hp.Valid && hp.String != "" {
		var set models.HyperparameterSet
		if err := json.Unmarshal([]byte(hp.String), &set); err != nil {
			return nil, fmt.Errorf("failed to unmarshal hyperparameters: %w", err)
		}
		model.Hyperparameters = &set
	}
	if metrics.Valid && metrics.String != "" {
		if err := json.Unmarshal([]byte(metrics.String), &model.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
	}
	return &model, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
