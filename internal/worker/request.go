package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rileyhilliard/shipit/internal/config"
	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/task"
)

const (
	// RequestEnv holds the JSON spawn request of a worker subprocess.
	RequestEnv = "SHIPIT_WORKER_REQUEST"
	// RequestVersion is bumped whenever Request changes incompatibly.
	RequestVersion = 1
)

// Request tells a worker subprocess what to run and how to reach the master.
type Request struct {
	Version    int               `json:"version"`
	Task       string            `json:"task"`
	Host       string            `json:"host"`
	ControlURL string            `json:"control_url"`
	Recipe     string            `json:"recipe"`
	RootTask   string            `json:"root_task"`
	Selector   string            `json:"selector,omitempty"`
	Overrides  map[string]string `json:"overrides,omitempty"`
	Verbose    bool              `json:"verbose,omitempty"`
	Color      string            `json:"color,omitempty"`
}

// Input returns the operator input the request carries.
func (r Request) Input() task.Input {
	return task.Input{Task: r.RootTask, Selector: r.Selector, Overrides: r.Overrides}
}

// Encode serializes the request for RequestEnv.
func (r Request) Encode() (string, error) {
	r.Version = RequestVersion
	data, err := json.Marshal(r)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrControl, "Can't encode worker request", "")
	}
	return string(data), nil
}

// DecodeRequest parses and validates a spawn request.
func DecodeRequest(s string) (Request, error) {
	var r Request
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Request{}, errors.WrapWithCode(err, errors.ErrControl,
			"Malformed worker request",
			"The worker command is started by 'shipit run'; don't invoke it directly")
	}
	if r.Version != RequestVersion {
		return Request{}, errors.New(errors.ErrControl,
			fmt.Sprintf("Worker request version %d, expected %d", r.Version, RequestVersion),
			"The master and worker binaries differ; rebuild shipit")
	}
	if r.Task == "" || r.Host == "" || r.ControlURL == "" {
		return Request{}, errors.New(errors.ErrControl,
			"Worker request is missing task, host or control URL", "")
	}
	return r, nil
}

// RequestFromEnv reads the spawn request from RequestEnv.
func RequestFromEnv() (Request, error) {
	s := os.Getenv(RequestEnv)
	if s == "" {
		return Request{}, errors.New(errors.ErrControl,
			RequestEnv+" is not set",
			"The worker command is started by 'shipit run'; don't invoke it directly")
	}
	return DecodeRequest(s)
}

// Remote is the master as seen from a worker subprocess.
type Remote interface {
	Load(ctx context.Context, alias string) (global, hostValues map[string]any, err error)
	Save(ctx context.Context, alias string, values map[string]any) error
}

// Environment is the runtime a worker subprocess rebuilt from the recipe.
type Environment interface {
	task.Runtime
	Global() *config.Configuration
	Localhost() *host.Host
}

// Serve runs a spawn request: load state from the master, run the task,
// save the host's state back and return the exit code.
func Serve(ctx context.Context, req Request, env Environment, remote Remote, out, diag io.Writer) int {
	h, t, err := resolve(env, req)
	if err != nil {
		fmt.Fprintln(diag, err.Error())
		return errors.ExitGeneric
	}

	global, values, err := remote.Load(ctx, h.Alias())
	if err != nil {
		Diagnose(diag, h.Alias(), t.Source(), err)
		return errors.ExitGeneric
	}
	env.Global().Update(global)
	h.Config().Update(values)

	outcome := New(env, req.Input()).Run(ctx, t, h, out, diag)

	if err := remote.Save(ctx, h.Alias(), h.Config().Persist()); err != nil {
		Diagnose(diag, h.Alias(), t.Source(), err)
		if outcome.Code == errors.ExitOK {
			return errors.ExitGeneric
		}
	}
	return outcome.Code
}

func resolve(env Environment, req Request) (*host.Host, *task.Task, error) {
	t, err := env.Tasks().Get(req.Task)
	if err != nil {
		return nil, nil, err
	}
	if req.Host == host.LocalAlias {
		return env.Localhost(), t, nil
	}
	h, err := env.Hosts().Get(req.Host)
	if err != nil {
		return nil, nil, err
	}
	return h, t, nil
}
