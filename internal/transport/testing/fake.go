// Package testing provides a scripted Transport for engine, worker and
// master tests.
package testing

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/transport"
)

// Call records one command sent through the fake.
type Call struct {
	Host    string
	Command string
	Options transport.Options
}

// Reply is the scripted result of a command.
type Reply struct {
	Output   string
	ExitCode int
	Stderr   string
	Err      error
}

type rule struct {
	host   string
	substr string
	reply  Reply
}

// FakeTransport answers commands from rules registered with On. Commands
// without a matching rule succeed with empty output.
type FakeTransport struct {
	mu    sync.Mutex
	rules []rule
	calls []Call
}

// NewFakeTransport creates an empty fake.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

// On scripts the reply for commands containing substr on host. An empty
// host matches every host. Later rules take precedence.
func (f *FakeTransport) On(hostAlias, substr string, reply Reply) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{host: hostAlias, substr: substr, reply: reply})
	return f
}

// Run records the call and returns the scripted reply.
func (f *FakeTransport) Run(ctx context.Context, h *host.Host, command string, opts transport.Options) (string, error) {
	return f.run(ctx, h.Alias(), command, opts)
}

// RunLocally records the call against the local alias.
func (f *FakeTransport) RunLocally(ctx context.Context, command string, opts transport.Options) (string, error) {
	return f.run(ctx, host.LocalAlias, command, opts)
}

func (f *FakeTransport) run(ctx context.Context, alias, command string, opts transport.Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	f.calls = append(f.calls, Call{Host: alias, Command: command, Options: opts})
	reply := Reply{}
	for i := len(f.rules) - 1; i >= 0; i-- {
		r := f.rules[i]
		if (r.host == "" || r.host == alias) && strings.Contains(command, r.substr) {
			reply = r.reply
			break
		}
	}
	f.mu.Unlock()

	if opts.Stdout != nil && reply.Output != "" {
		_, _ = io.WriteString(opts.Stdout, reply.Output+"\n")
	}
	if reply.Err != nil {
		return "", reply.Err
	}
	if reply.ExitCode != 0 && !opts.NoThrow {
		return reply.Output, &errors.RunError{
			Host:     alias,
			Command:  command,
			ExitCode: reply.ExitCode,
			Stdout:   reply.Output,
			Stderr:   reply.Stderr,
		}
	}
	return reply.Output, nil
}

// Calls returns a copy of the recorded calls in order.
func (f *FakeTransport) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Commands returns the commands sent to alias in order.
func (f *FakeTransport) Commands(alias string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.Host == alias {
			out = append(out, c.Command)
		}
	}
	return out
}

// Reset forgets recorded calls. Rules are kept.
func (f *FakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

var _ transport.Transport = (*FakeTransport)(nil)
