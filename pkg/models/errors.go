package models

import (
	"errors"
	"fmt"
	"syscall"
)

// RecoverableError is a per-trial failure. The search records it and feeds
// its message to the next iteration.
type RecoverableError struct {
	Msg string
	Err error
}

func (e *RecoverableError) Error() string {
	if e.Msg == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *RecoverableError) Unwrap() error { return e.Err }

// FatalError aborts the whole job: unreachable collaborator, bad credentials,
// invalid configuration or unsupported domain.
type FatalError struct {
	Msg string
	Err error
}

func (e *FatalError) Error() string {
	if e.Msg == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *FatalError) Unwrap() error { return e.Err }

// ProcessError describes a worker process that crashed, was killed or stopped
// responding. Only the pool produces it.
type ProcessError struct {
	JobID    string
	ExitCode int
	Signal   syscall.Signal
	Msg      string
}

func (e *ProcessError) Error() string {
	if e.Signal != 0 {
		return fmt.Sprintf("worker for job %s killed by %s: %s", e.JobID, e.Signal, e.Msg)
	}
	return fmt.Sprintf("worker for job %s exited with code %d: %s", e.JobID, e.ExitCode, e.Msg)
}

// Recoverable builds a RecoverableError from a format string
func Recoverable(format string, args ...interface{}) error {
	return &RecoverableError{Msg: fmt.Sprintf(format, args...)}
}

// Fatal builds a FatalError from a format string
func Fatal(format string, args ...interface{}) error {
	return &FatalError{Msg: fmt.Sprintf(format, args...)}
}

// WrapRecoverable marks err as recoverable, keeping its message
func WrapRecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &RecoverableError{Msg: err.Error(), Err: err}
}

// WrapFatal marks err as fatal, keeping its message
func WrapFatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Msg: err.Error(), Err: err}
}

// IsRecoverable reports whether err is or wraps a RecoverableError
func IsRecoverable(err error) bool {
	var re *RecoverableError
	return errors.As(err, &re)
}

// IsFatal reports whether err is or wraps a FatalError
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
