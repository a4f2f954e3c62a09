package transport

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/logger"
)

const (
	// maxSocketPath is the unix socket path limit on the platforms ssh supports.
	maxSocketPath = 104
	// controlHashLen is the length %C expands to.
	controlHashLen = 40
	// controlTempSuffix is the random suffix ssh appends while binding the socket.
	controlTempSuffix = 17

	controlPersist = "60"
	killTimeout    = 10 * time.Second
	waitDelay      = 2 * time.Second
)

// SSHClient runs commands through the system ssh binary.
type SSHClient struct {
	// Binary is the ssh executable.
	Binary string
	// Home and TempDir seed control path candidates.
	Home    string
	TempDir string

	log logger.Logger
}

// NewSSHClient creates a client using the ssh found on PATH.
func NewSSHClient(log logger.Logger) *SSHClient {
	home, _ := os.UserHomeDir()
	return &SSHClient{Binary: "ssh", Home: home, TempDir: os.TempDir(), log: log}
}

// Run executes command on the host described by conn.
func (c *SSHClient) Run(ctx context.Context, conn host.ConnectionOptions, command string, opts Options) (string, error) {
	args, err := c.connectionArgs(conn)
	if err != nil {
		return "", err
	}
	if conn.Multiplexing {
		if err := c.ensureMaster(ctx, conn, args); err != nil {
			return "", err
		}
	}

	shellID := newShellID()
	argv := append(append([]string{}, args...), conn.ConnectionString(), remoteShell(shellID, conn.Shell, opts.Become))
	input := WrapCommand(command, opts)
	c.log.Debug("%s", describe(conn.Alias, command))

	d := newDeadline(ctx, opts.Timeout, opts.IdleTimeout)
	defer d.stop()
	stdout := newCapture(opts.Stdout, d.touch)
	stderr := newCapture(opts.Stdout, d.touch)

	cmd := exec.CommandContext(d.ctx, c.Binary, argv...)
	cmd.Stdin = strings.NewReader(input + "\n")
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	runErr := cmd.Run()

	out, errOut := stdout.finish(), stderr.finish()
	if kind, limit, hit := d.expired(ctx); hit {
		c.kill(conn, args, shellID)
		_, out = ParseExitCode(out)
		return "", timeoutError(conn.Alias, command, kind, limit, out, errOut)
	}
	if ctx.Err() != nil {
		return "", errors.WrapWithCode(ctx.Err(), errors.ErrExec,
			fmt.Sprintf("Command on %s was cancelled", conn.Alias), "")
	}
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			return "", errors.WrapWithCode(runErr, errors.ErrSSH,
				fmt.Sprintf("Couldn't start ssh for %s", conn.Alias),
				"Make sure the ssh client is installed and on PATH")
		}
	}

	code, out := ParseExitCode(out)
	return result(conn.Alias, command, code, out, errOut, opts.NoThrow)
}

// connectionArgs builds the ssh options shared by every invocation for conn.
func (c *SSHClient) connectionArgs(conn host.ConnectionOptions) ([]string, error) {
	var args []string
	if conn.ForwardAgent {
		args = append(args, "-A")
	}
	if conn.Port != 0 {
		args = append(args, "-p", strconv.Itoa(conn.Port))
	}
	if conn.ConfigFile != "" {
		args = append(args, "-F", conn.ConfigFile)
	}
	if conn.IdentityFile != "" {
		args = append(args, "-i", conn.IdentityFile)
	}
	args = append(args, conn.Arguments...)

	if conn.Multiplexing {
		path := conn.ControlPath
		if path == "" {
			var err error
			path, err = ControlPath(conn, c.Home, c.TempDir)
			if err != nil {
				return nil, err
			}
		}
		args = append(args,
			"-o", "ControlMaster=auto",
			"-o", "ControlPersist="+controlPersist,
			"-o", "ControlPath="+path,
		)
	}
	return args, nil
}

// ensureMaster opens a multiplexing master unless one already answers.
func (c *SSHClient) ensureMaster(ctx context.Context, conn host.ConnectionOptions, args []string) error {
	if c.masterRunning(ctx, conn, args) {
		return nil
	}
	c.log.Debug("[%s] opening ssh master connection", conn.Alias)

	argv := append([]string{"-N", "-f"}, args...)
	argv = append(argv, conn.ConnectionString())
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Binary, argv...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return errors.WrapWithCode(fmt.Errorf("%s", msg), errors.ErrSSH,
			fmt.Sprintf("Couldn't open an ssh connection to %s", conn.ConnectionString()),
			"Check that you can run: ssh "+conn.ConnectionString())
	}
	return nil
}

func (c *SSHClient) masterRunning(ctx context.Context, conn host.ConnectionOptions, args []string) bool {
	argv := append([]string{"-O", "check"}, args...)
	argv = append(argv, conn.ConnectionString())
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Binary, argv...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = waitDelay
	_ = cmd.Run()
	return strings.Contains(out.String(), "Master running")
}

// kill terminates a runaway remote command. Failures are only logged.
func (c *SSHClient) kill(conn host.ConnectionOptions, args []string, shellID string) {
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()

	argv := append(append([]string{}, args...), conn.ConnectionString(), killCommand(shellID))
	cmd := exec.CommandContext(ctx, c.Binary, argv...)
	cmd.WaitDelay = waitDelay
	if out, err := cmd.CombinedOutput(); err != nil {
		c.log.Warn("[%s] couldn't stop timed out command: %v %s", conn.Alias, err, strings.TrimSpace(string(out)))
	}
}

// ControlPath picks the most descriptive multiplexing socket path that fits
// the unix socket limit.
func ControlPath(conn host.ConnectionOptions, home, tempDir string) (string, error) {
	data := conn.ConnectionString()
	if conn.Port != 0 {
		data += ":" + strconv.Itoa(conn.Port)
	}
	candidates := []string{
		filepath.Join(home, ".ssh", "shipit_"+data),
		filepath.Join(home, ".ssh", "shipit_%C"),
		filepath.Join(home, ".ssh", "mux_%C"),
		filepath.Join(tempDir, "mux_%C"),
	}
	for _, candidate := range candidates {
		if socketPathLen(candidate) <= maxSocketPath {
			return candidate, nil
		}
	}
	return "", errors.New(errors.ErrSSH,
		fmt.Sprintf("No ssh control path for %s fits in %d bytes", conn.Alias, maxSocketPath),
		"Set ssh_control_path to a short path or disable ssh_multiplexing")
}

func socketPathLen(path string) int {
	return len(strings.ReplaceAll(path, "%C", strings.Repeat("x", controlHashLen))) + controlTempSuffix
}
