package task

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/rileyhilliard/shipit/internal/config"
	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/logger"
	"github.com/rileyhilliard/shipit/internal/transport"
	transporttesting "github.com/rileyhilliard/shipit/internal/transport/testing"
)

type stubPrompter struct {
	answers map[string]string
	asked   []string
}

func (p *stubPrompter) Ask(question, def string, _ []string) (string, error) {
	p.asked = append(p.asked, question)
	if a, ok := p.answers[question]; ok {
		return a, nil
	}
	return def, nil
}

func (p *stubPrompter) AskConfirmation(question string, def bool) (bool, error) {
	p.asked = append(p.asked, question)
	if a, ok := p.answers[question]; ok {
		return a == "yes", nil
	}
	return def, nil
}

func (p *stubPrompter) AskHiddenResponse(question string) (string, error) {
	p.asked = append(p.asked, question)
	return p.answers[question], nil
}

func (p *stubPrompter) AskChoice(question string, choices []string, def string, _ bool) ([]string, error) {
	p.asked = append(p.asked, question)
	if a, ok := p.answers[question]; ok {
		return []string{a}, nil
	}
	return []string{def}, nil
}

type testRuntime struct {
	transport *transporttesting.FakeTransport
	tasks     *Collection
	hosts     *host.Collection
	prompter  *stubPrompter

	mu  sync.Mutex
	out map[string]*bytes.Buffer
}

func newTestRuntime() *testRuntime {
	return &testRuntime{
		transport: transporttesting.NewFakeTransport(),
		tasks:     NewCollection(),
		hosts:     host.NewCollection(),
		prompter:  &stubPrompter{answers: map[string]string{}},
		out:       map[string]*bytes.Buffer{},
	}
}

func (r *testRuntime) Transport() transport.Transport { return r.transport }
func (r *testRuntime) Tasks() *Collection             { return r.tasks }
func (r *testRuntime) Hosts() *host.Collection        { return r.hosts }
func (r *testRuntime) Prompter() Prompter             { return r.prompter }
func (r *testRuntime) Logger() logger.Logger          { return logger.Noop() }

func (r *testRuntime) Output(h *host.Host) io.Writer {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.out[h.Alias()]
	if !ok {
		buf = &bytes.Buffer{}
		r.out[h.Alias()] = buf
	}
	return buf
}

func (r *testRuntime) printed(alias string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok := r.out[alias]; ok {
		return buf.String()
	}
	return ""
}

// newTestContext returns a context for a no-op task on web-1.
func newTestContext(t *testing.T, rt *testRuntime) *Context {
	t.Helper()
	h := host.New("web-1", config.New(nil))
	return NewContext(context.Background(), rt, NewStack(), h, New("deploy", func(*Context) error { return nil }), Input{Task: "deploy"})
}
