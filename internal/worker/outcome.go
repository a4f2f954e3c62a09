package worker

import (
	stderrors "errors"

	"github.com/rileyhilliard/shipit/internal/errors"
)

// Status is the kind of result a worker ends with.
type Status int

const (
	StatusDone Status = iota
	StatusStopped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusStopped:
		return "stopped"
	default:
		return "failed"
	}
}

// Outcome is how one task ended on one host. Code is the process exit code
// a worker subprocess exits with.
type Outcome struct {
	Status Status
	Code   int
	Err    error
}

// Classify maps a task body's error to an outcome: nil is 0, a soft stop
// is 42, a failed command keeps its exit code and anything else is 255.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Status: StatusDone, Code: errors.ExitOK}
	}
	if errors.IsSoftStop(err) {
		return Outcome{Status: StatusStopped, Code: errors.ExitSoftStop, Err: err}
	}

	code := errors.ExitGeneric
	var runErr *errors.RunError
	if stderrors.As(err, &runErr) && runErr.ExitCode > 0 && runErr.ExitCode < 256 {
		code = runErr.ExitCode
	}
	return Outcome{Status: StatusFailed, Code: code, Err: err}
}

// FromExitCode rebuilds an outcome from a subprocess exit code.
func FromExitCode(code int) Outcome {
	switch code {
	case errors.ExitOK:
		return Outcome{Status: StatusDone, Code: code}
	case errors.ExitSoftStop:
		return Outcome{Status: StatusStopped, Code: code}
	default:
		return Outcome{Status: StatusFailed, Code: code}
	}
}
