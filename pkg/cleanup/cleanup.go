// Package cleanup removes per-job log files once their job has been finished
// for longer than the retention period. Job and model rows are kept.
package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/psantana5/modelsearch/pkg/logging"
	"github.com/psantana5/modelsearch/pkg/models"
)

// Config defines the retention policy
type Config struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	RetentionDays int           `mapstructure:"retention_days" yaml:"retention_days"`
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	// InitialDelay postpones the first pass after Run starts
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
}

// DefaultConfig keeps job logs for a week and checks daily
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		RetentionDays: 7,
		Interval:      24 * time.Hour,
		InitialDelay:  5 * time.Minute,
	}
}

// Store lists jobs whose logs may be removed
type Store interface {
	ListJobs(status models.JobStatus) ([]*models.Job, error)
}

// Stats tracks cleanup passes
type Stats struct {
	LastRun         time.Time
	LastDuration    time.Duration
	TotalLogsPruned int64
}

// Manager prunes job logs of finished jobs
type Manager struct {
	config Config
	store  Store
	logDir string
	logger *logging.Logger
	now    func() time.Time

	mu    sync.RWMutex
	stats Stats
}

// NewManager creates a cleanup manager for logs under logDir
func NewManager(config Config, store Store, logDir string, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		config: config,
		store:  store,
		logDir: logDir,
		logger: logger.WithField("component", "cleanup"),
		now:    time.Now,
	}
}

// Run prunes periodically until ctx is done
func (m *Manager) Run(ctx context.Context) {
	if !m.config.Enabled || m.config.RetentionDays <= 0 || m.config.Interval <= 0 {
		m.logger.Info("Job log cleanup disabled")
		return
	}

	m.logger.Info("Starting job log cleanup", map[string]interface{}{
		"retention_days": m.config.RetentionDays,
		"interval":       m.config.Interval.String(),
	})

	if m.config.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.config.InitialDelay):
		}
	}
	m.PruneNow()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.PruneNow()
		}
	}
}

// PruneNow deletes logs of terminal jobs that finished before the cutoff and
// returns how many jobs were pruned.
func (m *Manager) PruneNow() int {
	start := m.now()
	cutoff := start.Add(-time.Duration(m.config.RetentionDays) * 24 * time.Hour)
	pruned := 0

	for _, status := range []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled} {
		jobs, err := m.store.ListJobs(status)
		if err != nil {
			m.logger.Error("Failed to list jobs for cleanup", map[string]interface{}{
				"status": string(status),
				"error":  err.Error(),
			})
			continue
		}
		for _, job := range jobs {
			// CompletedAt if available, otherwise CreatedAt
			finished := job.CreatedAt
			if job.CompletedAt != nil {
				finished = *job.CompletedAt
			}
			if !finished.Before(cutoff) {
				continue
			}
			if err := logging.DeleteJobLog(m.logDir, job.ID); err != nil {
				m.logger.Warn("Failed to delete job log", map[string]interface{}{
					"job_id": job.ID,
					"error":  err.Error(),
				})
				continue
			}
			pruned++
		}
	}

	duration := m.now().Sub(start)
	m.mu.Lock()
	m.stats.LastRun = start
	m.stats.LastDuration = duration
	m.stats.TotalLogsPruned += int64(pruned)
	m.mu.Unlock()

	m.logger.Info("Job log cleanup complete", map[string]interface{}{
		"pruned":   pruned,
		"duration": duration.String(),
	})
	return pruned
}

// GetStats returns current cleanup statistics
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
