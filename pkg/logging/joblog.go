package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultJobLogDir is where per-job logs are written unless configured
const DefaultJobLogDir = "logs"

var safeJobID = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ErrJobLogNotFound is returned when a job has no log file
var ErrJobLogNotFound = errors.New("job log not found")

// JobLogger appends human readable lines for a single job to <dir>/<job_id>.log
// and mirrors them to a process logger.
type JobLogger struct {
	mu     sync.Mutex
	jobID  string
	path   string
	file   *os.File
	mirror *Logger
}

// JobLogPath returns the log file path for a job
func JobLogPath(dir, jobID string) (string, error) {
	if !safeJobID.MatchString(jobID) {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}
	if dir == "" {
		dir = DefaultJobLogDir
	}
	return filepath.Join(dir, jobID+".log"), nil
}

// NewJobLogger opens (or creates) the log file for jobID. mirror may be nil.
func NewJobLogger(dir, jobID string, mirror *Logger) (*JobLogger, error) {
	path, err := JobLogPath(dir, jobID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create job log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open job log %s: %w", path, err)
	}
	if mirror != nil {
		mirror = mirror.WithField("job_id", jobID)
	}
	return &JobLogger{jobID: jobID, path: path, file: f, mirror: mirror}, nil
}

// Path returns the file the logger writes to
func (j *JobLogger) Path() string {
	return j.path
}

func (j *JobLogger) write(level Level, msg string) {
	j.mu.Lock()
	if j.file != nil {
		fmt.Fprintf(j.file, "[%s] [%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), level, msg)
	}
	j.mu.Unlock()

	if j.mirror == nil {
		return
	}
	switch level {
	case DEBUG:
		j.mirror.Debug(msg)
	case WARN:
		j.mirror.Warn(msg)
	case ERROR:
		j.mirror.Error(msg)
	default:
		j.mirror.Info(msg)
	}
}

func (j *JobLogger) Debug(msg string) { j.write(DEBUG, msg) }
func (j *JobLogger) Info(msg string)  { j.write(INFO, msg) }
func (j *JobLogger) Warn(msg string)  { j.write(WARN, msg) }
func (j *JobLogger) Error(msg string) { j.write(ERROR, msg) }

// Infof formats and logs at INFO
func (j *JobLogger) Infof(format string, args ...interface{}) {
	j.write(INFO, fmt.Sprintf(format, args...))
}

// Errorf formats and logs at ERROR
func (j *JobLogger) Errorf(format string, args ...interface{}) {
	j.write(ERROR, fmt.Sprintf(format, args...))
}

// Close flushes and closes the file
func (j *JobLogger) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// ReadJobLog returns the content of a job's log file
func ReadJobLog(dir, jobID string) (string, error) {
	path, err := JobLogPath(dir, jobID)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrJobLogNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read job log: %w", err)
	}
	return string(data), nil
}

// DeleteJobLog removes a job's log file and the metrics snapshot written next
// to it. Deleting a missing log is not an error.
func DeleteJobLog(dir, jobID string) error {
	path, err := JobLogPath(dir, jobID)
	if err != nil {
		return err
	}
	for _, p := range []string{path, strings.TrimSuffix(path, ".log") + ".prom"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete job log: %w", err)
		}
	}
	return nil
}
