package workerpool

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/psantana5/modelsearch/pkg/models"
)

// ExitReason describes why a worker process terminated
type ExitReason string

const (
	ExitReasonSuccess   ExitReason = "success"   // Exit code 0
	ExitReasonError     ExitReason = "error"     // Exit code != 0
	ExitReasonSignal    ExitReason = "signal"    // Killed by a signal the pool did not send
	ExitReasonCancelled ExitReason = "cancelled" // Terminated through Cancel or Shutdown
	ExitReasonUnknown   ExitReason = "unknown"
)

// Exit is published once per worker process when it terminates.
type Exit struct {
	JobID     string
	PID       int
	Code      int
	Reason    ExitReason
	Signal    syscall.Signal
	Cancelled bool
	StartedAt time.Time
	Duration  time.Duration
}

// Failed reports whether the exit should be treated as a job failure.
func (e Exit) Failed() bool {
	return !e.Cancelled && e.Reason != ExitReasonSuccess
}

// ProcessError describes a failed exit; nil for success and cancellation.
func (e Exit) ProcessError() *models.ProcessError {
	if !e.Failed() {
		return nil
	}
	msg := fmt.Sprintf("worker exited after %s", e.Duration.Round(time.Millisecond))
	switch e.Code {
	case 1:
		msg = "search failed"
	case 2:
		msg = "invalid payload or environment"
	}
	if e.Reason == ExitReasonSignal {
		msg = "worker terminated by " + SignalName(e.Signal)
	}
	return &models.ProcessError{JobID: e.JobID, ExitCode: e.Code, Signal: e.Signal, Msg: msg}
}

// exitFromState classifies a finished process.
func exitFromState(state *os.ProcessState, cancelled bool) (int, ExitReason, syscall.Signal) {
	if state == nil {
		return -1, ExitReasonUnknown, 0
	}
	code := state.ExitCode()
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		if code == 0 {
			return code, ExitReasonSuccess, 0
		}
		return code, ExitReasonError, 0
	}

	var sig syscall.Signal
	reason := ExitReasonUnknown
	switch {
	case ws.Exited() && code == 0:
		reason = ExitReasonSuccess
	case ws.Exited():
		reason = ExitReasonError
	case ws.Signaled():
		sig = ws.Signal()
		reason = ExitReasonSignal
	}
	if cancelled && reason != ExitReasonSuccess {
		reason = ExitReasonCancelled
	}
	return code, reason, sig
}

// SignalName returns the signal name for a signal number
func SignalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGHUP:
		return "SIGHUP"
	case syscall.SIGABRT:
		return "SIGABRT"
	case syscall.SIGSEGV:
		return "SIGSEGV"
	case syscall.SIGPIPE:
		return "SIGPIPE"
	default:
		return fmt.Sprintf("SIG%d", int(sig))
	}
}
