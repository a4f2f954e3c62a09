// Package master drives a run: it expands the root task, picks the hosts
// each task applies to, launches workers chunk by chunk and aggregates
// their exit codes. All coordination happens on one goroutine.
package master

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rileyhilliard/shipit/internal/config"
	"github.com/rileyhilliard/shipit/internal/controlplane"
	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/logger"
	"github.com/rileyhilliard/shipit/internal/task"
	"github.com/rileyhilliard/shipit/internal/ui"
	"github.com/rileyhilliard/shipit/internal/util"
)

// DefaultTick is how often partial output lines are flushed.
const DefaultTick = 100 * time.Millisecond

// Runtime is the engine as the master sees it.
type Runtime interface {
	task.Runtime
	Global() *config.Configuration
	Localhost() *host.Host
	Resolve(alias string) (*host.Host, error)
}

// Options configure a run.
type Options struct {
	// Limit caps concurrent hosts per task. 0 means unlimited.
	Limit    int
	Schedule task.ScheduleOptions
	// Requests are control-plane calls from worker subprocesses. Nil when
	// workers run in process.
	Requests <-chan *controlplane.Request
	Metrics  *Metrics
	Log      *RunLog
	Tick     time.Duration
}

// State tracks one task on one host.
type State int

const (
	StatePending State = iota
	StateDispatched
	StateRunning
	StateAggregated
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDispatched:
		return "dispatched"
	case StateRunning:
		return "running"
	default:
		return "aggregated"
	}
}

// Master runs tasks across hosts.
type Master struct {
	rt       Runtime
	launcher Launcher
	opts     Options
	log      logger.Logger
	out      *ui.SyncWriter

	writers map[string]*hostStreams
	states  map[string]State
}

type hostStreams struct {
	out  *ui.HostWriter
	diag *ui.HostWriter
}

// New creates a master writing to out.
func New(rt Runtime, launcher Launcher, out io.Writer, opts Options) *Master {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Log != nil {
		out = io.MultiWriter(out, opts.Log)
	}
	return &Master{
		rt:       rt,
		launcher: launcher,
		opts:     opts,
		log:      rt.Logger(),
		out:      ui.NewSyncWriter(out),
		writers:  make(map[string]*hostStreams),
		states:   make(map[string]State),
	}
}

// Run executes root on hosts and returns the run's exit code: 0, 42 for a
// soft stop, or the first failing host's code. The error is set when the
// run could not start or a configuration error stopped it.
func (m *Master) Run(ctx context.Context, root string, hosts []*host.Host) (int, error) {
	tasks, notices, err := task.NewScheduler(m.rt.Tasks()).Expand(root, m.opts.Schedule)
	if err != nil {
		return errors.ExitGeneric, err
	}
	for _, n := range notices {
		m.println(ui.Skipped(n.Task, n.Reason))
	}

	code, err := m.execute(ctx, tasks, hosts)
	if err != nil {
		return errors.ExitGeneric, err
	}
	if code != errors.ExitOK && code != errors.ExitSoftStop {
		m.fallback(ctx, root, hosts)
	}
	return code, nil
}

// fallback runs the root task's failure handler once. Its own result is
// only logged.
func (m *Master) fallback(ctx context.Context, root string, hosts []*host.Host) {
	name, ok := m.rt.Tasks().Fallback(root)
	if !ok {
		return
	}
	m.println(ui.WarningStyle().Render("Running fallback " + name))

	tasks, _, err := task.NewScheduler(m.rt.Tasks()).Expand(name, task.ScheduleOptions{})
	if err != nil {
		m.log.Warn("fallback %s: %v", name, err)
		return
	}
	code, err := m.execute(ctx, tasks, hosts)
	if err != nil {
		m.log.Warn("fallback %s: %v", name, err)
		return
	}
	if code != errors.ExitOK {
		m.log.Warn("fallback %s exited with %d", name, code)
	}
}

func (m *Master) execute(ctx context.Context, tasks []*task.Task, hosts []*host.Host) (int, error) {
	for _, t := range tasks {
		set, err := m.HostSet(t, hosts)
		if err != nil {
			return errors.ExitGeneric, err
		}
		if len(set) == 0 {
			m.println(ui.Skipped(t.Name(), "has no matching hosts"))
			m.opts.Metrics.taskFinished("skipped")
			continue
		}
		for _, h := range set {
			m.states[stateKey(t, h)] = StatePending
		}
		if !t.Shallow() {
			m.println(ui.TaskBanner(t.Name()))
		}

		chunks := Chunk(set, EffectiveLimit(m.opts.Limit, t.Limit()))
		m.log.Debug("%s: %d %s in %d %s", t.Name(),
			len(set), util.Pluralize(len(set), "host", "hosts"),
			len(chunks), util.Pluralize(len(chunks), "chunk", "chunks"))
		for _, chunk := range chunks {
			if err := ctx.Err(); err != nil {
				return errors.ExitGeneric, errors.Wrap(err, "Run cancelled")
			}
			if code := Aggregate(m.runChunk(ctx, t, chunk)); code != errors.ExitOK {
				m.opts.Metrics.taskFinished(resultLabel(code))
				return code, nil
			}
		}
		m.opts.Metrics.taskFinished("ok")
	}
	return errors.ExitOK, nil
}

// HostSet returns the hosts t runs on, in host order: the local pseudo-host
// for local tasks, otherwise the hosts its selector matches, narrowed to
// the first one for once tasks.
func (m *Master) HostSet(t *task.Task, hosts []*host.Host) ([]*host.Host, error) {
	if t.Local() {
		return []*host.Host{m.rt.Localhost()}, nil
	}
	var set []*host.Host
	for _, h := range hosts {
		ok, err := t.ShouldRun(h)
		if err != nil {
			return nil, err
		}
		if ok {
			set = append(set, h)
		}
	}
	if t.Once() && len(set) > 1 {
		set = set[:1]
	}
	return set, nil
}

// State reports where t stands on the host with alias.
func (m *Master) State(taskName, alias string) State {
	return m.states[taskName+"@"+alias]
}

func stateKey(t *task.Task, h *host.Host) string {
	return t.Name() + "@" + h.Alias()
}

// EffectiveLimit combines the global and per-task limits. Zero or less
// means unlimited on either side.
func EffectiveLimit(global, taskLimit int) int {
	switch {
	case taskLimit <= 0:
		return max(global, 0)
	case global <= 0:
		return taskLimit
	default:
		return min(global, taskLimit)
	}
}

// Chunk splits hosts into consecutive groups of at most limit. A limit of
// zero puts every host in one chunk.
func Chunk(hosts []*host.Host, limit int) [][]*host.Host {
	if len(hosts) == 0 {
		return nil
	}
	if limit <= 0 || limit >= len(hosts) {
		return [][]*host.Host{hosts}
	}
	var chunks [][]*host.Host
	for start := 0; start < len(hosts); start += limit {
		end := min(start+limit, len(hosts))
		chunks = append(chunks, hosts[start:end])
	}
	return chunks
}

// Aggregate returns the first non-zero exit code in host order.
func Aggregate(codes []int) int {
	for _, c := range codes {
		if c != errors.ExitOK {
			return c
		}
	}
	return errors.ExitOK
}

func resultLabel(code int) string {
	switch code {
	case errors.ExitOK:
		return "ok"
	case errors.ExitSoftStop:
		return "stopped"
	default:
		return "failed"
	}
}

func (m *Master) println(s string) {
	fmt.Fprintln(m.out, s)
}
