package master

import (
	"context"
	"time"

	"github.com/rileyhilliard/shipit/internal/controlplane"
	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/task"
	"github.com/rileyhilliard/shipit/internal/ui"
	"github.com/rileyhilliard/shipit/internal/worker"
)

type eventKind int

const (
	eventStarted eventKind = iota
	eventOutput
	eventExit
)

// event is what launcher goroutines report to the loop.
type event struct {
	kind  eventKind
	index int
	data  []byte
	diag  bool
	code  int
}

// eventWriter turns a job's writes into output events.
type eventWriter struct {
	events chan<- event
	index  int
	diag   bool
}

func (w *eventWriter) Write(p []byte) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)
	w.events <- event{kind: eventOutput, index: w.index, data: data, diag: w.diag}
	return len(p), nil
}

// runChunk launches one worker per host and serves the event loop until
// every worker has exited. Codes are returned in host order.
func (m *Master) runChunk(ctx context.Context, t *task.Task, chunk []*host.Host) []int {
	events := make(chan event, 64)
	codes := make([]int, len(chunk))
	started := make([]time.Time, len(chunk))

	for i, h := range chunk {
		m.states[stateKey(t, h)] = StateDispatched
		m.log.Debug("dispatch %s on %s", t.Name(), h.Alias())

		go func(i int, h *host.Host) {
			events <- event{kind: eventStarted, index: i}
			out := &eventWriter{events: events, index: i}
			diag := &eventWriter{events: events, index: i, diag: true}
			code := m.launcher.Launch(ctx, Job{Task: t, Host: h}, out, diag)
			events <- event{kind: eventExit, index: i, code: code}
		}(i, h)
	}

	ticker := time.NewTicker(m.opts.Tick)
	defer ticker.Stop()

	pending := len(chunk)
	for pending > 0 {
		select {
		case ev := <-events:
			h := chunk[ev.index]
			switch ev.kind {
			case eventStarted:
				started[ev.index] = time.Now()
				m.states[stateKey(t, h)] = StateRunning
				m.opts.Metrics.workerStarted()
			case eventOutput:
				s := m.streams(h.Alias())
				if ev.diag {
					_, _ = s.diag.Write(ev.data)
				} else {
					_, _ = s.out.Write(ev.data)
				}
			case eventExit:
				m.flush(h.Alias())
				codes[ev.index] = ev.code
				m.states[stateKey(t, h)] = StateAggregated
				elapsed := time.Since(started[ev.index])
				m.opts.Metrics.workerExited(t.Name(), worker.FromExitCode(ev.code).Status.String(), elapsed)
				if m.opts.Log != nil {
					m.opts.Log.Record(t.Name(), h.Alias(), ev.code, elapsed)
				}
				m.log.Debug("%s on %s exited with %d", t.Name(), h.Alias(), ev.code)
				pending--
			}
		case req := <-m.opts.Requests:
			controlplane.Handle(backend{rt: m.rt}, req)
		case <-ticker.C:
			for alias := range m.writers {
				m.flush(alias)
			}
		}
	}
	return codes
}

func (m *Master) streams(alias string) *hostStreams {
	s, ok := m.writers[alias]
	if !ok {
		s = &hostStreams{
			out:  ui.NewHostWriter(m.out, alias),
			diag: ui.NewPrefixWriter(m.out, ""),
		}
		m.writers[alias] = s
	}
	return s
}

func (m *Master) flush(alias string) {
	if s, ok := m.writers[alias]; ok {
		_ = s.out.Flush()
		_ = s.diag.Flush()
	}
}

// backend answers worker subprocesses from the master's state.
type backend struct {
	rt Runtime
}

func (b backend) Load(alias string) (map[string]any, map[string]any, error) {
	h, err := b.rt.Resolve(alias)
	if err != nil {
		return nil, nil, err
	}
	return b.rt.Global().Persist(), h.Config().Persist(), nil
}

func (b backend) Save(alias string, values map[string]any) error {
	h, err := b.rt.Resolve(alias)
	if err != nil {
		return err
	}
	h.Config().Update(values)
	return nil
}

func (b backend) Prompter() task.Prompter { return b.rt.Prompter() }
