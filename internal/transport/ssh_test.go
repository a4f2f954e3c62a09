package transport

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSSH installs a stand-in for the ssh binary. It logs its arguments,
// emulates "-O check" and "-N" for multiplexing, and otherwise pipes stdin
// into /bin/sh the way the remote shell would.
func fakeSSH(t *testing.T) (client *SSHClient, logPath string) {
	t.Helper()
	dir := t.TempDir()
	logPath = filepath.Join(dir, "calls.log")
	state := filepath.Join(dir, "master")

	script := fmt.Sprintf(`#!/bin/sh
echo "$*" >> %[1]q
case "$1" in
  -O) if [ -f %[2]q ]; then echo "Master running (pid=4242)" >&2; exit 0; fi
      echo "Control socket connect: No such file or directory" >&2; exit 255;;
  -N) touch %[2]q; exit 0;;
esac
for last in "$@"; do :; done
case "$last" in pkill*) exit 0;; esac
exec /bin/sh
`, logPath, state)

	bin := filepath.Join(dir, "ssh")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	return &SSHClient{Binary: bin, Home: dir, TempDir: dir, log: logger.Noop()}, logPath
}

func readLog(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func webHost() host.ConnectionOptions {
	return host.ConnectionOptions{
		Alias:      "web-1",
		Hostname:   "10.0.0.1",
		RemoteUser: "deploy",
		Shell:      host.DefaultShell,
	}
}

func TestSSHClient_RunSuccess(t *testing.T) {
	client, logPath := fakeSSH(t)
	var live bytes.Buffer

	out, err := client.Run(context.Background(), webHost(), "echo hello; echo world", Options{Stdout: &live})
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", out)
	assert.Equal(t, "hello\nworld\n", live.String(), "marker never reaches the live sink")

	calls := readLog(t, logPath)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "deploy@10.0.0.1")
	assert.Regexp(t, `: id-[0-9a-f]+; bash -ls$`, calls[0])
}

func TestSSHClient_ExitCodes(t *testing.T) {
	client, _ := fakeSSH(t)

	tests := []struct {
		command string
		code    int
	}{
		{command: "false", code: 1},
		{command: "definitely-not-a-command-xyz", code: 127},
		{command: "exit 3", code: UnknownExitCode},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			_, err := client.Run(context.Background(), webHost(), tt.command, Options{})
			require.Error(t, err)
			var runErr *errors.RunError
			require.ErrorAs(t, err, &runErr)
			assert.Equal(t, tt.code, runErr.ExitCode)
			assert.Equal(t, "web-1", runErr.Host)
			assert.Equal(t, tt.command, runErr.Command)
		})
	}
}

func TestSSHClient_NoThrow(t *testing.T) {
	client, _ := fakeSSH(t)

	out, err := client.Run(context.Background(), webHost(), "echo partial; false", Options{NoThrow: true})
	require.NoError(t, err)
	assert.Equal(t, "partial", out)
}

func TestSSHClient_CwdAndEnv(t *testing.T) {
	client, _ := fakeSSH(t)
	dir := t.TempDir()

	out, err := client.Run(context.Background(), webHost(), `pwd; echo "$RELEASE"`, Options{
		Cwd: dir,
		Env: map[string]string{"RELEASE": "42"},
	})
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(dir)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, []string{dir, resolved}, lines[0])
	assert.Equal(t, "42", lines[1])
}

func TestSSHClient_Become(t *testing.T) {
	client, logPath := fakeSSH(t)

	_, err := client.Run(context.Background(), webHost(), "true", Options{Become: "www-data"})
	require.NoError(t, err)

	calls := readLog(t, logPath)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "sudo -H -u www-data bash -ls")
}

func TestSSHClient_ConnectionArgs(t *testing.T) {
	client, _ := fakeSSH(t)
	conn := webHost()
	conn.Port = 2222
	conn.ForwardAgent = true
	conn.IdentityFile = "~/.ssh/deploy"
	conn.ConfigFile = "/etc/shipit/ssh_config"
	conn.Arguments = []string{"-o", "StrictHostKeyChecking=no"}

	args, err := client.connectionArgs(conn)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-A", "-p", "2222", "-F", "/etc/shipit/ssh_config", "-i", "~/.ssh/deploy",
		"-o", "StrictHostKeyChecking=no",
	}, args)

	conn.Multiplexing = true
	conn.ControlPath = "/tmp/ctl"
	args, err = client.connectionArgs(conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"-o", "ControlMaster=auto", "-o", "ControlPersist=60", "-o", "ControlPath=/tmp/ctl"}, args[len(args)-6:])
}

func TestSSHClient_MultiplexingOpensMasterOnce(t *testing.T) {
	client, logPath := fakeSSH(t)
	conn := webHost()
	conn.Multiplexing = true
	conn.ControlPath = filepath.Join(t.TempDir(), "ctl")

	for i := 0; i < 2; i++ {
		out, err := client.Run(context.Background(), conn, "echo ok", Options{})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	}

	var checks, masters int
	for _, line := range readLog(t, logPath) {
		switch {
		case strings.HasPrefix(line, "-O check"):
			checks++
		case strings.HasPrefix(line, "-N -f"):
			masters++
			assert.Contains(t, line, "ControlPersist=60")
		}
	}
	assert.Equal(t, 2, checks)
	assert.Equal(t, 1, masters)
}

func TestSSHClient_Timeout(t *testing.T) {
	client, logPath := fakeSSH(t)

	_, err := client.Run(context.Background(), webHost(), "echo started; exec sleep 5", Options{Timeout: 200 * time.Millisecond})
	require.Error(t, err)

	var timeoutErr *errors.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, errors.TimeoutTotal, timeoutErr.Kind)
	assert.Equal(t, "started", timeoutErr.Stdout)

	calls := readLog(t, logPath)
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1], "pkill -9 -f", "the remote shell is killed by its id")
}

func TestSSHClient_IdleTimeout(t *testing.T) {
	client, _ := fakeSSH(t)

	out, err := client.Run(context.Background(), webHost(),
		"for i in 1 2 3; do echo $i; sleep 0.1; done", Options{IdleTimeout: time.Second})
	require.NoError(t, err, "steady output keeps the command alive")
	assert.Equal(t, "1\n2\n3", out)

	_, err = client.Run(context.Background(), webHost(), "echo once; exec sleep 5", Options{IdleTimeout: 200 * time.Millisecond})
	var timeoutErr *errors.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, errors.TimeoutIdle, timeoutErr.Kind)
}

func TestSSHClient_MissingBinary(t *testing.T) {
	client := &SSHClient{Binary: filepath.Join(t.TempDir(), "no-ssh"), log: logger.Noop()}

	_, err := client.Run(context.Background(), webHost(), "true", Options{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSSH))
}

func TestControlPath(t *testing.T) {
	conn := host.ConnectionOptions{Alias: "web-1", Hostname: "web-1", RemoteUser: "deploy"}
	longHost := conn
	longHost.Hostname = strings.Repeat("h", 70)

	tests := []struct {
		name string
		conn host.ConnectionOptions
		home string
		tmp  string
		want string
	}{
		{name: "connection string", conn: conn, home: "/home/deploy", tmp: "/tmp", want: "/home/deploy/.ssh/shipit_deploy@web-1"},
		{name: "hashed when host is long", conn: longHost, home: "/home/deploy", tmp: "/tmp", want: "/home/deploy/.ssh/shipit_%C"},
		{name: "short prefix for long home", conn: longHost, home: "/home/" + strings.Repeat("u", 30), tmp: "/tmp", want: "/home/" + strings.Repeat("u", 30) + "/.ssh/mux_%C"},
		{name: "temp dir as last resort", conn: longHost, home: "/home/" + strings.Repeat("u", 60), tmp: "/tmp", want: "/tmp/mux_%C"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ControlPath(tt.conn, tt.home, tt.tmp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, socketPathLen(got), maxSocketPath)
		})
	}
}

func TestControlPath_NothingFits(t *testing.T) {
	long := "/" + strings.Repeat("x", 90)
	_, err := ControlPath(webHost(), long, long)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSSH))
}
