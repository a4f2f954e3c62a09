// Package task defines tasks, their registry, the per-host execution
// context, and the scheduler that flattens a task tree into run order.
package task

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/rileyhilliard/shipit/internal/host"
)

// Func is a task body.
type Func func(ctx *Context) error

// Task is a named unit of work. A task has either a body or, for a group,
// an ordered list of member task names.
type Task struct {
	name     string
	body     Func
	group    []string
	desc     string
	before   []string
	after    []string
	once     bool
	local    bool
	limit    int
	shallow  bool
	hidden   bool
	disabled bool
	selector *host.Selector
	source   string
}

// New creates a task with a body. The caller's file:line is recorded as the
// task's source.
func New(name string, body Func) *Task {
	return &Task{name: name, body: body, source: callerSource(2)}
}

// NewGroup creates a task that runs the named members in order.
func NewGroup(name string, members ...string) *Task {
	return &Task{name: name, group: append([]string(nil), members...), source: callerSource(2)}
}

func callerSource(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

// Name returns the unique task name.
func (t *Task) Name() string { return t.name }

// IsGroup reports whether the task only groups other tasks.
func (t *Task) IsGroup() bool { return t.body == nil }

// Members returns the member names of a group task.
func (t *Task) Members() []string { return append([]string(nil), t.group...) }

// Description returns the human description.
func (t *Task) Description() string { return t.desc }

// Source returns where the task was defined.
func (t *Task) Source() string { return t.source }

// Once reports whether the task runs on the first matching host only.
func (t *Task) Once() bool { return t.once }

// Local reports whether the task runs on the local pseudo-host.
func (t *Task) Local() bool { return t.local }

// Limit returns the per-task concurrency limit. Zero means no own limit.
func (t *Task) Limit() int { return t.limit }

// Shallow reports whether the task runs without a banner.
func (t *Task) Shallow() bool { return t.shallow }

// Hidden reports whether the task is left out of listings.
func (t *Task) Hidden() bool { return t.hidden }

// Enabled reports whether the task takes part in runs.
func (t *Task) Enabled() bool { return !t.disabled }

// Selector returns the task's host selector, nil when it runs on all hosts.
func (t *Task) Selector() *host.Selector { return t.selector }

// BeforeHooks returns the names of tasks run before this one.
func (t *Task) BeforeHooks() []string { return append([]string(nil), t.before...) }

// AfterHooks returns the names of tasks run after this one.
func (t *Task) AfterHooks() []string { return append([]string(nil), t.after...) }

// Desc sets the description.
func (t *Task) Desc(desc string) *Task {
	t.desc = desc
	return t
}

// SetOnce marks the task to run on a single host.
func (t *Task) SetOnce(v bool) *Task {
	t.once = v
	return t
}

// SetLocal marks the task to run on the local machine.
func (t *Task) SetLocal(v bool) *Task {
	t.local = v
	return t
}

// SetLimit caps how many hosts run the task at once.
func (t *Task) SetLimit(n int) *Task {
	if n < 0 {
		n = 0
	}
	t.limit = n
	return t
}

// SetShallow suppresses the task banner.
func (t *Task) SetShallow(v bool) *Task {
	t.shallow = v
	return t
}

// SetHidden keeps the task out of listings.
func (t *Task) SetHidden(v bool) *Task {
	t.hidden = v
	return t
}

// SetEnabled enables or disables the task.
func (t *Task) SetEnabled(v bool) *Task {
	t.disabled = !v
	return t
}

// SetSource overrides the recorded definition site, used by recipe files.
func (t *Task) SetSource(source string) *Task {
	t.source = source
	return t
}

// Select restricts the task to hosts matching expr.
func (t *Task) Select(expr string) error {
	sel, err := host.ParseSelector(expr)
	if err != nil {
		return err
	}
	if sel.MatchesAll() {
		sel = nil
	}
	t.selector = sel
	return nil
}

// AddBefore appends hooks that run before the task.
func (t *Task) AddBefore(names ...string) *Task {
	t.before = append(t.before, names...)
	return t
}

// AddAfter appends hooks that run after the task.
func (t *Task) AddAfter(names ...string) *Task {
	t.after = append(t.after, names...)
	return t
}

// Run executes the body. Group tasks have nothing to run.
func (t *Task) Run(ctx *Context) error {
	if t.body == nil {
		return nil
	}
	return t.body(ctx)
}

// ShouldRun reports whether the task applies to h.
func (t *Task) ShouldRun(h *host.Host) (bool, error) {
	if t.selector == nil {
		return true, nil
	}
	return t.selector.Match(h)
}
