// Package engine wires shipit's components together. An Engine owns the
// global configuration, hosts, tasks, transport and prompter, and is what
// task bodies reach through their Context.
package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rileyhilliard/shipit/internal/config"
	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/logger"
	"github.com/rileyhilliard/shipit/internal/task"
	"github.com/rileyhilliard/shipit/internal/transport"
	"github.com/rileyhilliard/shipit/internal/ui"
)

// Engine is the dependency container for one run.
type Engine struct {
	opts      *config.Options
	log       logger.Logger
	global    *config.Configuration
	hosts     *host.Collection
	localhost *host.Host
	tasks     *task.Collection
	client    *transport.Client
	transport transport.Transport
	prompter  task.Prompter
	out       io.Writer
}

// New builds an engine from tool options, leaves first.
func New(opts *config.Options, log logger.Logger) *Engine {
	if opts == nil {
		opts = config.DefaultOptions()
	}
	if log == nil {
		log = logger.Noop()
	}

	global := config.New(nil)
	applyDefaults(global, opts)

	client := transport.New(log)
	e := &Engine{
		opts:      opts,
		log:       log,
		global:    global,
		hosts:     host.NewCollection(),
		localhost: host.NewLocalhost(global),
		tasks:     task.NewCollection(),
		client:    client,
		transport: client,
		prompter:  ui.DefaultPrompter{},
		out:       os.Stdout,
	}
	return e
}

func applyDefaults(global *config.Configuration, opts *config.Options) {
	if opts.SSH.Timeout > 0 {
		global.Set(task.KeyDefaultTimeout, int(opts.SSH.Timeout.Seconds()))
	}
	if opts.SSH.IdleTimeout > 0 {
		global.Set(task.KeyIdleTimeout, int(opts.SSH.IdleTimeout.Seconds()))
	}
	global.Set(host.KeySSHMultiplexing, opts.SSH.Multiplexing)
	if opts.SSH.Transport != "" {
		global.Set(host.KeyTransport, opts.SSH.Transport)
	}
	global.Update(opts.Config)
}

// Options returns the tool options the engine was built from.
func (e *Engine) Options() *config.Options { return e.opts }

// Global returns the global configuration every host inherits from.
func (e *Engine) Global() *config.Configuration { return e.global }

func (e *Engine) Hosts() *host.Collection        { return e.hosts }
func (e *Engine) Tasks() *task.Collection        { return e.tasks }
func (e *Engine) Transport() transport.Transport { return e.transport }
func (e *Engine) Prompter() task.Prompter        { return e.prompter }
func (e *Engine) Logger() logger.Logger          { return e.log }

// Output returns where task output goes. Workers replace it with their own
// per-host stream.
func (e *Engine) Output(*host.Host) io.Writer { return e.out }

// Localhost returns the pseudo-host local tasks run on.
func (e *Engine) Localhost() *host.Host { return e.localhost }

// SetTransport replaces the transport, e.g. with a fake in tests.
func (e *Engine) SetTransport(t transport.Transport) { e.transport = t }

// SetPrompter replaces the prompter.
func (e *Engine) SetPrompter(p task.Prompter) { e.prompter = p }

// SetOutput replaces the output writer.
func (e *Engine) SetOutput(w io.Writer) { e.out = w }

// Host registers a host, or returns the one already registered under alias.
func (e *Engine) Host(alias string) *host.Host {
	if h, err := e.hosts.Get(alias); err == nil {
		return h
	}
	h := host.New(alias, e.global)
	_ = e.hosts.Add(h)
	return h
}

// Resolve finds a host by alias, including the local pseudo-host.
func (e *Engine) Resolve(alias string) (*host.Host, error) {
	if alias == host.LocalAlias {
		return e.localhost, nil
	}
	return e.hosts.Get(alias)
}

// Task registers a task. Registering a name again replaces the task.
func (e *Engine) Task(name string, body task.Func) *task.Task {
	t := task.New(name, body).SetSource(callerSource())
	e.tasks.Add(t)
	return t
}

// Group registers a task running members in order.
func (e *Engine) Group(name string, members ...string) *task.Task {
	t := task.NewGroup(name, members...).SetSource(callerSource())
	e.tasks.Add(t)
	return t
}

// Before runs hooks before the named task.
func (e *Engine) Before(name string, hooks ...string) error {
	return e.tasks.Before(name, hooks...)
}

// After runs hooks after the named task.
func (e *Engine) After(name string, hooks ...string) error {
	return e.tasks.After(name, hooks...)
}

// Fail runs fallback when a run of root fails.
func (e *Engine) Fail(root, fallback string) {
	e.tasks.Fail(root, fallback)
}

// Set stores a global configuration value.
func (e *Engine) Set(key string, value any) {
	e.global.Set(key, value)
}

// SetDeferred stores a global value computed on first read, per host.
func (e *Engine) SetDeferred(key string, fn config.Deferred) {
	e.global.SetDeferred(key, fn)
}

// Override applies -o key=value pairs from the command line.
func (e *Engine) Override(values map[string]string) {
	for k, v := range values {
		e.global.Set(k, v)
	}
}

// Close releases pooled connections.
func (e *Engine) Close() error {
	if err := e.client.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

func callerSource() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
