package task

import (
	"fmt"
	"strings"

	"github.com/rileyhilliard/shipit/internal/errors"
)

// ScheduleOptions tune expansion.
type ScheduleOptions struct {
	// StartFrom drops every scheduled task before the named one.
	StartFrom string
	// NoHooks ignores before and after hooks.
	NoHooks bool
}

// Notice explains why a task was left out of the schedule.
type Notice struct {
	Task   string
	Reason string
}

func (n Notice) String() string {
	return fmt.Sprintf("%s: %s", n.Task, n.Reason)
}

// Scheduler flattens a task and its hooks into execution order.
type Scheduler struct {
	tasks *Collection
}

// NewScheduler creates a scheduler over tasks.
func NewScheduler(tasks *Collection) *Scheduler {
	return &Scheduler{tasks: tasks}
}

// Expand returns the body tasks that make up root, in order: before hooks,
// the task itself or its members, then after hooks, recursively.
func (s *Scheduler) Expand(root string, opts ScheduleOptions) ([]*Task, []Notice, error) {
	if opts.StartFrom != "" && !s.tasks.Has(opts.StartFrom) {
		_, err := s.tasks.Get(opts.StartFrom)
		return nil, nil, err
	}

	e := &expansion{tasks: s.tasks, noHooks: opts.NoHooks, visiting: make(map[string]bool)}
	if err := e.collect(root); err != nil {
		return nil, nil, err
	}

	scheduled := e.out
	notices := e.notices
	if opts.StartFrom != "" {
		scheduled = nil
		reached := false
		for _, t := range e.out {
			if t.Name() == opts.StartFrom {
				reached = true
			}
			if !reached {
				notices = append(notices, Notice{Task: t.Name(), Reason: "skipped, starting from " + opts.StartFrom})
				continue
			}
			scheduled = append(scheduled, t)
		}
	}

	if len(scheduled) == 0 {
		return nil, notices, errors.New(errors.ErrConfig,
			fmt.Sprintf("Nothing to run for task %q", root),
			"Check that the task and its members are enabled and --start-from is part of it")
	}
	return scheduled, notices, nil
}

type expansion struct {
	tasks    *Collection
	noHooks  bool
	visiting map[string]bool
	path     []string
	out      []*Task
	notices  []Notice
}

func (e *expansion) collect(name string) error {
	if e.visiting[name] {
		return errors.New(errors.ErrConfig,
			"Task cycle: "+strings.Join(append(e.path, name), " -> "),
			"A task can't run itself through its members or hooks")
	}
	t, err := e.tasks.Get(name)
	if err != nil {
		return err
	}
	if !t.Enabled() {
		e.notices = append(e.notices, Notice{Task: name, Reason: "disabled"})
		return nil
	}

	e.visiting[name] = true
	e.path = append(e.path, name)
	defer func() {
		delete(e.visiting, name)
		e.path = e.path[:len(e.path)-1]
	}()

	if !e.noHooks {
		for _, hook := range t.BeforeHooks() {
			if err := e.collect(hook); err != nil {
				return err
			}
		}
	}

	if t.IsGroup() {
		for _, member := range t.Members() {
			if err := e.collect(member); err != nil {
				return err
			}
		}
	} else {
		e.out = append(e.out, t)
	}

	if !e.noHooks {
		for _, hook := range t.AfterHooks() {
			if err := e.collect(hook); err != nil {
				return err
			}
		}
	}
	return nil
}
