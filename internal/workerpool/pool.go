// Package workerpool runs each search job in its own OS process and keeps
// track of the live workers.
package workerpool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/psantana5/modelsearch/pkg/logging"
	"github.com/psantana5/modelsearch/pkg/metrics"
	"github.com/psantana5/modelsearch/pkg/models"
)

// DefaultGracePeriod is how long Cancel waits after SIGTERM before SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// CommandFunc builds the worker command for a job. The pool sets stdin,
// stdout, stderr and the process group.
type CommandFunc func(jobID string) *exec.Cmd

// Submission results reported to metrics
const (
	SubmitAccepted   = "accepted"
	SubmitDuplicate  = "duplicate"
	SubmitCapacity   = "capacity"
	SubmitSpawnError = "spawn_error"
	SubmitClosed     = "closed"
)

// Config configures a Pool.
type Config struct {
	MaxActive   int
	GracePeriod time.Duration
	Command     CommandFunc
	Stdout      io.Writer
	Stderr      io.Writer
	ExitBuffer  int
	Logger      *logging.Logger
	Metrics     *metrics.Metrics
}

type handle struct {
	jobID     string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{}
	cancelled bool
	exit      Exit
}

// Pool owns the worker processes. It is safe for concurrent use.
type Pool struct {
	cfg     Config
	mu      sync.Mutex
	handles map[string]*handle
	exits   chan Exit
	closed  bool
	logger  *logging.Logger
}

// New creates a Pool.
func New(cfg Config) (*Pool, error) {
	if cfg.Command == nil {
		return nil, fmt.Errorf("workerpool: command is required")
	}
	if cfg.MaxActive < 1 {
		return nil, fmt.Errorf("workerpool: max active must be >= 1, got %d", cfg.MaxActive)
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.ExitBuffer <= 0 {
		cfg.ExitBuffer = 64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pool{
		cfg:     cfg,
		handles: make(map[string]*handle),
		exits:   make(chan Exit, cfg.ExitBuffer),
		logger:  logger,
	}, nil
}

// Submit spawns a worker for jobID with payload on its stdin. It returns
// false when the job already has a live worker, the pool is full or closed,
// or the process could not be started.
func (p *Pool) Submit(jobID string, payload models.JobPayload) bool {
	var buf bytes.Buffer
	if err := payload.Encode(&buf); err != nil {
		p.logger.Error("Failed to encode payload", map[string]interface{}{"job_id": jobID, "error": err.Error()})
		p.cfg.Metrics.JobSubmitted(SubmitSpawnError)
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.reapLocked()

	if p.closed {
		p.cfg.Metrics.JobSubmitted(SubmitClosed)
		return false
	}
	if _, exists := p.handles[jobID]; exists {
		p.logger.Warn("Job already has an active worker", map[string]interface{}{"job_id": jobID})
		p.cfg.Metrics.JobSubmitted(SubmitDuplicate)
		return false
	}
	if len(p.handles) >= p.cfg.MaxActive {
		p.logger.Warn("Worker pool at capacity", map[string]interface{}{
			"job_id":     jobID,
			"max_active": p.cfg.MaxActive,
		})
		p.cfg.Metrics.JobSubmitted(SubmitCapacity)
		return false
	}

	cmd := p.cfg.Command(jobID)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdin = &buf
	cmd.Stdout = p.cfg.Stdout
	cmd.Stderr = p.cfg.Stderr

	if err := cmd.Start(); err != nil {
		p.logger.Error("Failed to start worker", map[string]interface{}{"job_id": jobID, "error": err.Error()})
		p.cfg.Metrics.JobSubmitted(SubmitSpawnError)
		return false
	}

	h := &handle{
		jobID:     jobID,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	p.handles[jobID] = h
	go p.wait(h)

	p.logger.Info("Worker started", map[string]interface{}{"job_id": jobID, "pid": h.pid})
	p.cfg.Metrics.JobSubmitted(SubmitAccepted)
	p.cfg.Metrics.SetActiveJobs(p.liveLocked())
	return true
}

// wait blocks on the process and publishes its Exit.
func (p *Pool) wait(h *handle) {
	waitErr := h.cmd.Wait()

	p.mu.Lock()
	code, reason, sig := exitFromState(h.cmd.ProcessState, h.cancelled)
	h.exit = Exit{
		JobID:     h.jobID,
		PID:       h.pid,
		Code:      code,
		Reason:    reason,
		Signal:    sig,
		Cancelled: h.cancelled,
		StartedAt: h.startedAt,
		Duration:  time.Since(h.startedAt),
	}
	close(h.done)
	exit := h.exit
	p.cfg.Metrics.SetActiveJobs(p.liveLocked())
	p.mu.Unlock()

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		p.logger.Warn("Worker wait error", map[string]interface{}{"job_id": h.jobID, "error": waitErr.Error()})
	}
	p.cfg.Metrics.WorkerExited(string(exit.Reason))

	select {
	case p.exits <- exit:
	default:
		p.logger.Warn("Exit channel full, dropping exit event", map[string]interface{}{"job_id": exit.JobID})
	}
}

// Exits delivers one Exit per worker process.
func (p *Pool) Exits() <-chan Exit {
	return p.exits
}

// Cancel terminates the worker for jobID: SIGTERM to its process group, then
// SIGKILL after the grace period. It returns true only if a live worker was
// found and terminated by this call. The handle is removed either way.
func (p *Pool) Cancel(jobID string) bool {
	p.mu.Lock()
	h, ok := p.handles[jobID]
	if !ok {
		p.mu.Unlock()
		return false
	}
	select {
	case <-h.done:
		delete(p.handles, jobID)
		p.mu.Unlock()
		return false
	default:
	}
	if h.cancelled {
		// another Cancel owns the termination
		p.mu.Unlock()
		return false
	}
	h.cancelled = true
	p.mu.Unlock()

	forced := p.terminate(h)

	p.mu.Lock()
	if p.handles[jobID] == h {
		delete(p.handles, jobID)
	}
	p.cfg.Metrics.SetActiveJobs(p.liveLocked())
	p.mu.Unlock()

	p.cfg.Metrics.JobCancelled(forced)
	p.logger.Info("Worker cancelled", map[string]interface{}{
		"job_id": jobID,
		"pid":    h.pid,
		"forced": forced,
	})
	return true
}

// terminate signals the process group and waits for the waiter goroutine.
// It reports whether SIGKILL was needed.
func (p *Pool) terminate(h *handle) bool {
	if err := syscall.Kill(-h.pid, syscall.SIGTERM); err != nil {
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
	}

	timer := time.NewTimer(p.cfg.GracePeriod)
	defer timer.Stop()

	select {
	case <-h.done:
		return false
	case <-timer.C:
	}

	p.logger.Warn("Worker did not exit after SIGTERM, sending SIGKILL", map[string]interface{}{
		"job_id": h.jobID,
		"pid":    h.pid,
	})
	if err := syscall.Kill(-h.pid, syscall.SIGKILL); err != nil {
		_ = h.cmd.Process.Kill()
	}
	<-h.done
	return true
}

// Reap removes handles whose process has exited and returns their exits.
// It never blocks on a running process.
func (p *Pool) Reap() []Exit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reapLocked()
}

func (p *Pool) reapLocked() []Exit {
	var reaped []Exit
	for id, h := range p.handles {
		select {
		case <-h.done:
		default:
			continue
		}
		delete(p.handles, id)
		reaped = append(reaped, h.exit)
		if h.exit.Failed() {
			p.logger.Error("Worker failed", map[string]interface{}{
				"job_id":    id,
				"exit_code": h.exit.Code,
				"reason":    string(h.exit.Reason),
			})
		}
	}
	sort.Slice(reaped, func(i, j int) bool { return reaped[i].JobID < reaped[j].JobID })
	return reaped
}

func (p *Pool) liveLocked() int {
	n := 0
	for _, h := range p.handles {
		select {
		case <-h.done:
		default:
			n++
		}
	}
	return n
}

// Active returns the ids of jobs with a live worker, sorted.
func (p *Pool) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reapLocked()
	ids := make([]string, 0, len(p.handles))
	for id := range p.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live workers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reapLocked()
	return len(p.handles)
}

// IsActive reports whether jobID has a live worker.
func (p *Pool) IsActive(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[jobID]
	if !ok {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Shutdown refuses new submissions and cancels every live worker in
// parallel. It returns ctx.Err() if ctx ends first.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	ids := p.Active()
	g, _ := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			p.Cancel(id)
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
