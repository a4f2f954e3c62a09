// Package worker runs one task on one host and turns the result into an
// exit code. Workers run as goroutines of the master or as subprocesses
// started with a spawn Request.
package worker

import (
	"context"
	"fmt"
	"io"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/task"
	"github.com/rileyhilliard/shipit/internal/ui"
)

// Worker executes task bodies against a runtime.
type Worker struct {
	runtime task.Runtime
	input   task.Input
}

// New creates a worker.
func New(rt task.Runtime, in task.Input) *Worker {
	return &Worker{runtime: rt, input: in}
}

// Run executes t on h. Everything the body prints goes to out; the done
// notice, soft-stop notice and failure diagnostics go to diag.
func (w *Worker) Run(ctx context.Context, t *task.Task, h *host.Host, out, diag io.Writer) Outcome {
	log := w.runtime.Logger()
	log.Debug("running %s on %s", t.Name(), h.Alias())

	stack := task.NewStack()
	tctx := task.NewContext(ctx, outputRuntime{Runtime: w.runtime, out: out}, stack, h, t, w.input)

	outcome := Classify(call(stack, tctx, t))
	log.Debug("%s on %s: %s (%d)", t.Name(), h.Alias(), outcome.Status, outcome.Code)

	switch outcome.Status {
	case StatusDone:
		if !t.Shallow() {
			fmt.Fprintln(diag, ui.DoneOn(h.Alias()))
		}
	case StatusStopped:
		fmt.Fprintln(diag, ui.Stopped(h.Alias(), outcome.Err.Error()))
	default:
		Diagnose(diag, h.Alias(), t.Source(), outcome.Err)
	}
	return outcome
}

// call runs the body with its context pushed, recovering panics.
func call(stack *task.Stack, tctx *task.Context, t *task.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrExec,
				fmt.Sprintf("Task %s panicked: %v", t.Name(), r),
				"")
		}
	}()
	return stack.Within(tctx, func() error { return t.Run(tctx) })
}

// outputRuntime sends every host's output to one writer.
type outputRuntime struct {
	task.Runtime
	out io.Writer
}

func (r outputRuntime) Output(*host.Host) io.Writer { return r.out }
