package errors

import (
	"errors"
	"fmt"
	"time"
)

// Process exit codes shared by the master, workers and the CLI.
const (
	// ExitOK means every task finished on every host.
	ExitOK = 0
	// ExitSoftStop means a task asked the run to stop early. Not a failure.
	ExitSoftStop = 42
	// ExitGeneric is used for any failure that carries no exit code of its own.
	ExitGeneric = 255
)

// RunError is returned when a remote (or local) command exits non-zero.
type RunError struct {
	Host     string
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Source   string // file:line of the task that issued the command
}

func (e *RunError) Error() string {
	return fmt.Sprintf("command %q on %s exited with code %d", e.Command, e.Host, e.ExitCode)
}

// WithSource returns a copy of e pointing at the given task location.
func (e *RunError) WithSource(source string) *RunError {
	c := *e
	c.Source = source
	return &c
}

// TimeoutKind tells which limit a command ran into.
type TimeoutKind string

const (
	TimeoutTotal TimeoutKind = "total"
	TimeoutIdle  TimeoutKind = "idle"
)

// TimeoutError is returned when a command exceeds its timeout or idle timeout.
type TimeoutError struct {
	Host    string
	Command string
	Kind    TimeoutKind
	Limit   time.Duration
	Stdout  string
	Stderr  string
}

func (e *TimeoutError) Error() string {
	if e.Kind == TimeoutIdle {
		return fmt.Sprintf("command %q on %s produced no output for %s", e.Command, e.Host, e.Limit)
	}
	return fmt.Sprintf("command %q on %s exceeded the timeout of %s", e.Command, e.Host, e.Limit)
}

// SoftStop ends the run early without it being a failure, e.g. "nothing to deploy".
type SoftStop struct {
	Reason string
}

// NewSoftStop creates a soft-stop sentinel with the given reason.
func NewSoftStop(reason string) *SoftStop {
	return &SoftStop{Reason: reason}
}

func (e *SoftStop) Error() string {
	if e.Reason == "" {
		return "stopped"
	}
	return e.Reason
}

// IsSoftStop reports whether err (or anything it wraps) is a SoftStop.
func IsSoftStop(err error) bool {
	var s *SoftStop
	return errors.As(err, &s)
}
