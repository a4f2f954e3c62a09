package task

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"github.com/rileyhilliard/shipit/internal/config"
	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/transport"
	"github.com/rileyhilliard/shipit/internal/util"
	"github.com/spf13/cast"
)

// Configuration keys that shape how Context runs commands.
const (
	KeyWorkingPath    = "working_path"
	KeyDefaultTimeout = "default_timeout"
	KeyIdleTimeout    = "idle_timeout"
	KeyEnv            = "env"
)

// Input carries what the operator asked for on the command line.
type Input struct {
	Task      string
	Selector  string
	Overrides map[string]string
}

// Context is what a task body runs against: one host, its configuration
// scope, and the runtime.
type Context struct {
	ctx     context.Context
	host    *host.Host
	task    *Task
	runtime Runtime
	stack   *Stack
	input   Input
	output  io.Writer
}

// NewContext creates the context for running t on h.
func NewContext(ctx context.Context, rt Runtime, stack *Stack, h *host.Host, t *Task, in Input) *Context {
	return &Context{
		ctx:     ctx,
		host:    h,
		task:    t,
		runtime: rt,
		stack:   stack,
		input:   in,
		output:  rt.Output(h),
	}
}

// derive returns a context for another host or task sharing everything else.
func (c *Context) derive(h *host.Host, t *Task) *Context {
	child := *c
	child.host = h
	child.task = t
	child.output = c.runtime.Output(h)
	return &child
}

// Context returns the Go context bounding the run.
func (c *Context) Context() context.Context { return c.ctx }

// Host returns the host the context runs on.
func (c *Context) Host() *host.Host { return c.host }

// Task returns the task being run, nil outside of a task.
func (c *Context) Task() *Task { return c.task }

// Config returns the host's configuration scope.
func (c *Context) Config() *config.Configuration { return c.host.Config() }

// Runtime returns the runtime.
func (c *Context) Runtime() Runtime { return c.runtime }

// Input returns the command-line input of the run.
func (c *Context) Input() Input { return c.input }

// Output returns the host-tagged writer.
func (c *Context) Output() io.Writer { return c.output }

// Get resolves key in the host's scope.
func (c *Context) Get(key string) (any, error) { return c.Config().Get(key) }

// GetString resolves key as a string.
func (c *Context) GetString(key string) (string, error) {
	v, err := c.Config().Get(key)
	if err != nil {
		return "", err
	}
	return cast.ToStringE(v)
}

// Set stores value in the host's scope.
func (c *Context) Set(key string, value any) { c.Config().Set(key, value) }

// Has reports whether key resolves in the host's scope.
func (c *Context) Has(key string) bool { return c.Config().Has(key) }

// Add merges values into a list or map entry of the host's scope.
func (c *Context) Add(key string, values ...any) error { return c.Config().Add(key, values...) }

// Parse interpolates {{key}} references against the host's scope.
func (c *Context) Parse(s string) (string, error) { return c.Config().Parse(s) }

// Run executes command on the host with default options.
func (c *Context) Run(command string) (string, error) {
	return c.RunWith(command, transport.Options{})
}

// RunWith executes command on the host. Unset options fall back to the
// working_path, default_timeout, idle_timeout and env configuration keys.
func (c *Context) RunWith(command string, opts transport.Options) (string, error) {
	parsed, opts, err := c.prepare(command, opts, true)
	if err != nil {
		return "", err
	}
	out, err := c.runtime.Transport().Run(c.ctx, c.host, parsed, opts)
	return out, c.attachSource(err)
}

// RunLocally executes command on the machine running shipit.
func (c *Context) RunLocally(command string) (string, error) {
	return c.RunLocallyWith(command, transport.Options{})
}

// RunLocallyWith executes command locally. The remote working_path is not
// applied.
func (c *Context) RunLocallyWith(command string, opts transport.Options) (string, error) {
	parsed, opts, err := c.prepare(command, opts, false)
	if err != nil {
		return "", err
	}
	out, err := c.runtime.Transport().RunLocally(c.ctx, parsed, opts)
	return out, c.attachSource(err)
}

func (c *Context) prepare(command string, opts transport.Options, remote bool) (string, transport.Options, error) {
	cfg := c.Config()
	parsed, err := cfg.Parse(command)
	if err != nil {
		return "", opts, err
	}

	if remote && opts.Cwd == "" && cfg.Has(KeyWorkingPath) {
		if opts.Cwd, err = cfg.GetString(KeyWorkingPath, ""); err != nil {
			return "", opts, err
		}
	}
	if opts.Cwd != "" {
		if opts.Cwd, err = cfg.Parse(opts.Cwd); err != nil {
			return "", opts, err
		}
	}
	if opts.Timeout == 0 {
		if opts.Timeout, err = c.duration(KeyDefaultTimeout); err != nil {
			return "", opts, err
		}
	}
	if opts.IdleTimeout == 0 {
		if opts.IdleTimeout, err = c.duration(KeyIdleTimeout); err != nil {
			return "", opts, err
		}
	}
	if cfg.Has(KeyEnv) {
		raw, err := cfg.Get(KeyEnv)
		if err != nil {
			return "", opts, err
		}
		env, err := cast.ToStringMapStringE(raw)
		if err != nil {
			return "", opts, errors.WrapWithCode(err, errors.ErrConfig, "env must be a map of strings", "Use env: {NAME: value}")
		}
		for k, v := range opts.Env {
			env[k] = v
		}
		opts.Env = env
	}
	if opts.Stdout == nil {
		opts.Stdout = c.output
	}
	return parsed, opts, nil
}

// duration reads key as a duration. Bare numbers are seconds.
func (c *Context) duration(key string) (time.Duration, error) {
	if !c.Config().Has(key) {
		return 0, nil
	}
	v, err := c.Config().Get(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int, int64, float64, uint, int32:
		return time.Duration(cast.ToFloat64(n) * float64(time.Second)), nil
	case string:
		if f, err := cast.ToFloat64E(n); err == nil {
			return time.Duration(f * float64(time.Second)), nil
		}
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("%s must be a duration", key), "Use seconds or a value like 5m")
	}
	return d, nil
}

func (c *Context) attachSource(err error) error {
	var runErr *errors.RunError
	if c.task != nil && stderrors.As(err, &runErr) && runErr.Source == "" {
		return runErr.WithSource(c.task.Source())
	}
	return err
}

// Test runs command as a shell condition.
func (c *Context) Test(command string) (bool, error) {
	out, err := c.Run("if " + command + "; then echo +true; fi")
	if err != nil {
		return false, err
	}
	return out == "+true", nil
}

// CommandExists reports whether name is available on the host.
func (c *Context) CommandExists(name string) (bool, error) {
	return c.Test("hash " + util.ShellQuote(name) + " 2>/dev/null")
}

// Cd sets the working path for later commands on this host.
func (c *Context) Cd(path string) error {
	parsed, err := c.Parse(path)
	if err != nil {
		return err
	}
	c.Set(KeyWorkingPath, parsed)
	return nil
}

// Within runs fn with the working path set to path, then restores it.
func (c *Context) Within(path string, fn func() error) error {
	cfg := c.Config()
	previous, hadOwn := any(nil), cfg.HasOwn(KeyWorkingPath)
	if hadOwn {
		previous, _ = cfg.Get(KeyWorkingPath)
	}
	if err := c.Cd(path); err != nil {
		return err
	}
	defer func() {
		if hadOwn {
			cfg.Set(KeyWorkingPath, previous)
		} else {
			cfg.Delete(KeyWorkingPath)
		}
	}()
	return fn()
}

// Info prints an informational line for the host.
func (c *Context) Info(format string, args ...any) error {
	msg, err := c.Parse(fmt.Sprintf(format, args...))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.output, "info %s\n", msg)
	return err
}

// Warning prints a warning line for the host.
func (c *Context) Warning(format string, args ...any) error {
	msg, err := c.Parse(fmt.Sprintf(format, args...))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.output, "warning %s\n", msg)
	return err
}

// Writeln prints a raw line for the host.
func (c *Context) Writeln(line string) error {
	_, err := fmt.Fprintln(c.output, line)
	return err
}

// Ask prompts for free text.
func (c *Context) Ask(question, def string, suggestions ...string) (string, error) {
	q, err := c.Parse(question)
	if err != nil {
		return "", err
	}
	return c.runtime.Prompter().Ask(q, def, suggestions)
}

// AskConfirmation prompts for yes or no.
func (c *Context) AskConfirmation(question string, def bool) (bool, error) {
	q, err := c.Parse(question)
	if err != nil {
		return false, err
	}
	return c.runtime.Prompter().AskConfirmation(q, def)
}

// AskHiddenResponse prompts for a secret.
func (c *Context) AskHiddenResponse(question string) (string, error) {
	q, err := c.Parse(question)
	if err != nil {
		return "", err
	}
	return c.runtime.Prompter().AskHiddenResponse(q)
}

// AskChoice prompts for one (or several) of choices.
func (c *Context) AskChoice(question string, choices []string, def string, multiple bool) ([]string, error) {
	q, err := c.Parse(question)
	if err != nil {
		return nil, err
	}
	return c.runtime.Prompter().AskChoice(q, choices, def, multiple)
}

// Stop ends the whole run early without failing it.
func (c *Context) Stop(reason string) error {
	return errors.NewSoftStop(reason)
}

// On runs fn against each of hosts in turn, stopping at the first error.
func (c *Context) On(hosts []*host.Host, fn Func) error {
	for _, h := range hosts {
		child := c.derive(h, c.task)
		if err := c.stack.Within(child, func() error { return fn(child) }); err != nil {
			return err
		}
	}
	return nil
}

// Invoke runs the named task, with its hooks, on the current host.
func (c *Context) Invoke(name string) error {
	scheduled, _, err := NewScheduler(c.runtime.Tasks()).Expand(name, ScheduleOptions{})
	if err != nil {
		return err
	}
	for _, t := range scheduled {
		child := c.derive(c.host, t)
		if err := c.stack.Within(child, func() error { return t.Run(child) }); err != nil {
			return err
		}
	}
	return nil
}
