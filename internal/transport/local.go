package transport

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/rileyhilliard/shipit/internal/config"
	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/logger"
)

// LocalRunner runs commands on the machine running shipit through the
// user's shell.
type LocalRunner struct {
	// Shell interprets commands. Empty means $SHELL, then /bin/sh.
	Shell string

	log logger.Logger
}

// NewLocalRunner creates a runner using the user's shell.
func NewLocalRunner(log logger.Logger) *LocalRunner {
	return &LocalRunner{log: log}
}

func (r *LocalRunner) shell() string {
	if r.Shell != "" {
		return r.Shell
	}
	if s := os.Getenv("SHELL"); s != "" {
		return s
	}
	return "/bin/sh"
}

// Run executes command locally. Become is ignored.
func (r *LocalRunner) Run(ctx context.Context, command string, opts Options) (string, error) {
	r.log.Debug("%s", describe(host.LocalAlias, command))

	d := newDeadline(ctx, opts.Timeout, opts.IdleTimeout)
	defer d.stop()
	stdout := newCapture(opts.Stdout, d.touch)
	stderr := newCapture(opts.Stdout, d.touch)

	cmd := exec.CommandContext(d.ctx, r.shell(), "-c", command)
	if opts.Cwd != "" {
		cmd.Dir = config.ExpandTilde(opts.Cwd)
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(opts.Env)...)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	runErr := cmd.Run()

	out, errOut := stdout.finish(), stderr.finish()
	if kind, limit, hit := d.expired(ctx); hit {
		return "", timeoutError(host.LocalAlias, command, kind, limit, out, errOut)
	}
	if ctx.Err() != nil {
		return "", errors.WrapWithCode(ctx.Err(), errors.ErrExec, "Local command was cancelled", "")
	}

	code := 0
	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return "", errors.WrapWithCode(runErr, errors.ErrExec,
				fmt.Sprintf("Couldn't run %q locally", command),
				"Make sure the command exists and is executable.")
		}
		code = exitErr.ExitCode()
	}
	return result(host.LocalAlias, command, code, out, errOut, opts.NoThrow)
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
