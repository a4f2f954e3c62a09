package master

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/task"
	"github.com/rileyhilliard/shipit/internal/ui"
	"github.com/rileyhilliard/shipit/internal/worker"
)

// Job is one task on one host.
type Job struct {
	Task *task.Task
	Host *host.Host
}

// Launcher runs a job to completion and returns its exit code. Task output
// goes to out, worker notices and diagnostics to diag.
type Launcher interface {
	Launch(ctx context.Context, job Job, out, diag io.Writer) int
}

// InProcess runs workers as goroutines sharing the master's runtime.
type InProcess struct {
	Runtime task.Runtime
	Input   task.Input
}

func (l *InProcess) Launch(ctx context.Context, job Job, out, diag io.Writer) int {
	return worker.New(l.Runtime, l.Input).Run(ctx, job.Task, job.Host, out, diag).Code
}

// WorkerCommand is the hidden subcommand a worker subprocess runs.
const WorkerCommand = "worker"

// Subprocess runs every job in a fresh copy of the shipit binary.
type Subprocess struct {
	// Executable defaults to the running binary.
	Executable string
	// Args default to the worker subcommand.
	Args []string
	// Request is the template every job's spawn request starts from.
	Request worker.Request
}

func (l *Subprocess) Launch(ctx context.Context, job Job, out, diag io.Writer) int {
	exe := l.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			fmt.Fprintln(diag, ui.Failure(job.Host.Alias(), "Can't locate the shipit binary: "+err.Error()))
			return errors.ExitGeneric
		}
	}
	args := l.Args
	if args == nil {
		args = []string{WorkerCommand}
	}

	req := l.Request
	req.Task = job.Task.Name()
	req.Host = job.Host.Alias()
	encoded, err := req.Encode()
	if err != nil {
		fmt.Fprintln(diag, ui.Failure(job.Host.Alias(), err.Error()))
		return errors.ExitGeneric
	}

	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Env = append(os.Environ(), worker.RequestEnv+"="+encoded)
	cmd.Stdout = out
	cmd.Stderr = diag

	err = cmd.Run()
	if err == nil {
		return errors.ExitOK
	}
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
		return errors.ExitGeneric
	}
	fmt.Fprintln(diag, ui.Failure(job.Host.Alias(), "Can't start worker: "+err.Error()))
	return errors.ExitGeneric
}
