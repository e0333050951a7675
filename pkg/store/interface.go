package store

import (
	"errors"
	"time"

	"github.com/psantana5/modelsearch/pkg/models"
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrModelNotFound       = errors.New("model not found")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
	ErrUnknownField        = errors.New("unknown field")
)

// Fields is a partial update: column name to new value. Only the keys listed
// in jobColumns / modelColumns are accepted.
type Fields map[string]interface{}

// Job fields accepted by UpdateJob
const (
	FieldStatus           = "status"
	FieldProgress         = "progress"
	FieldCurrentIteration = "current_iteration"
	FieldTotalIterations  = "total_iterations"
	FieldCurrentAccuracy  = "current_accuracy"
	FieldBestAccuracy     = "best_accuracy"
	FieldCurrentLoss      = "current_loss"
	FieldBestLoss         = "best_loss"
	FieldPrecision        = "precision_score"
	FieldRecall           = "recall_score"
	FieldF1Score          = "f1_score"
	FieldErrorMessage     = "error_message"
	FieldConfig           = "config"
	FieldStrategy         = "strategy"
	FieldStartedAt        = "started_at"
	FieldCompletedAt      = "completed_at"
)

// Model fields accepted by UpdateModel
const (
	FieldModelStatus     = "status"
	FieldAccuracy        = "accuracy"
	FieldLoss            = "loss"
	FieldArtifactPath    = "artifact_path"
	FieldHyperparameters = "hyperparameters"
	FieldMetrics         = "metrics"
	FieldLastTrained     = "last_trained"
)

var jobColumns = map[string]bool{
	FieldStatus: true, FieldProgress: true, FieldCurrentIteration: true, FieldTotalIterations: true,
	FieldCurrentAccuracy: true, FieldBestAccuracy: true, FieldCurrentLoss: true, FieldBestLoss: true,
	FieldPrecision: true, FieldRecall: true, FieldF1Score: true, FieldErrorMessage: true,
	FieldConfig: true, FieldStrategy: true, FieldStartedAt: true, FieldCompletedAt: true,
}

var modelColumns = map[string]bool{
	FieldModelStatus: true, FieldAccuracy: true, FieldLoss: true, FieldArtifactPath: true,
	FieldHyperparameters: true, FieldMetrics: true, FieldLastTrained: true,
}

// JobStore persists search jobs. A job is written by the one worker process
// that owns it; the supervisor writes only after that worker is gone.
type JobStore interface {
	CreateJob(job *models.Job) error
	GetJob(id string) (*models.Job, error)
	// ListJobs returns jobs newest first; an empty status lists all
	ListJobs(status models.JobStatus) ([]*models.Job, error)
	UpdateJob(id string, fields Fields) error
	// TransitionJob moves the job to a new status after checking the FSM,
	// applying fields in the same write
	TransitionJob(id string, to models.JobStatus, fields Fields) error
	CountJobsByStatus() (map[models.JobStatus]int, error)
}

// ModelStore persists the models jobs search for
type ModelStore interface {
	CreateModel(model *models.Model) error
	GetModel(id string) (*models.Model, error)
	UpdateModel(id string, fields Fields) error
}

// Store combines both stores with lifecycle operations
type Store interface {
	JobStore
	ModelStore
	HealthCheck() error
	Close() error
}

// Config holds database configuration
type Config struct {
	Type string `mapstructure:"type" yaml:"type"` // "sqlite", "postgres" or "memory"
	DSN  string `mapstructure:"dsn" yaml:"dsn"`   // PostgreSQL connection string
	Path string `mapstructure:"path" yaml:"path"` // SQLite database file

	// PostgreSQL specific
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "msearch.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}

func checkFields(fields Fields, allowed map[string]bool) error {
	for k := range fields {
		if !allowed[k] {
			return ErrUnknownField
		}
	}
	return nil
}
