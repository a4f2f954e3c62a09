package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/logger"
	"github.com/rileyhilliard/shipit/pkg/sshutil"
)

// DefaultDialTimeout bounds connection setup for the native transport.
const DefaultDialTimeout = 10 * time.Second

// Dialer opens a native ssh connection.
type Dialer func(target sshutil.Target, timeout time.Duration) (sshutil.SSHClient, error)

func dialSSH(target sshutil.Target, timeout time.Duration) (sshutil.SSHClient, error) {
	return sshutil.Dial(target, timeout)
}

// NativeClient runs commands over in-process ssh sessions. One connection is
// kept per host and reused while it answers keepalives.
type NativeClient struct {
	Dial        Dialer
	DialTimeout time.Duration

	mu    sync.Mutex
	conns map[string]sshutil.SSHClient
	log   logger.Logger
}

// NewNativeClient creates a client dialing with sshutil.Dial.
func NewNativeClient(log logger.Logger) *NativeClient {
	return &NativeClient{
		Dial:        dialSSH,
		DialTimeout: DefaultDialTimeout,
		conns:       make(map[string]sshutil.SSHClient),
		log:         log,
	}
}

// Run executes command on the host described by conn.
func (c *NativeClient) Run(ctx context.Context, conn host.ConnectionOptions, command string, opts Options) (string, error) {
	client, err := c.connection(conn)
	if err != nil {
		return "", err
	}

	shellID := newShellID()
	c.log.Debug("%s", describe(conn.Alias, command))

	d := newDeadline(ctx, opts.Timeout, opts.IdleTimeout)
	defer d.stop()
	stdout := newCapture(opts.Stdout, d.touch)
	stderr := newCapture(opts.Stdout, d.touch)

	input := strings.NewReader(WrapCommand(command, opts) + "\n")
	_, runErr := client.Run(d.ctx, remoteShell(shellID, conn.Shell, opts.Become), input, stdout, stderr)

	out, errOut := stdout.finish(), stderr.finish()
	if kind, limit, hit := d.expired(ctx); hit {
		c.kill(client, conn.Alias, shellID)
		_, out = ParseExitCode(out)
		return "", timeoutError(conn.Alias, command, kind, limit, out, errOut)
	}
	if ctx.Err() != nil {
		return "", errors.WrapWithCode(ctx.Err(), errors.ErrExec,
			fmt.Sprintf("Command on %s was cancelled", conn.Alias), "")
	}
	if runErr != nil {
		c.drop(conn.Alias)
		return "", runErr
	}

	code, out := ParseExitCode(out)
	return result(conn.Alias, command, code, out, errOut, opts.NoThrow)
}

// connection returns the pooled connection for conn, dialing when there is
// none or the pooled one stopped answering.
func (c *NativeClient) connection(conn host.ConnectionOptions) (sshutil.SSHClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.conns[conn.Alias]; ok {
		if alive(client) {
			return client, nil
		}
		c.log.Debug("[%s] pooled connection is gone, reconnecting", conn.Alias)
		_ = client.Close()
		delete(c.conns, conn.Alias)
	}

	client, err := c.Dial(sshutil.Target{
		Host:         conn.Alias,
		Hostname:     conn.Hostname,
		Port:         conn.Port,
		User:         conn.RemoteUser,
		IdentityFile: conn.IdentityFile,
		ConfigFile:   conn.ConfigFile,
		ForwardAgent: conn.ForwardAgent,
	}, c.DialTimeout)
	if err != nil {
		c.log.Debug("[%s] dial failed: %s", conn.Alias, DialFailure(err))
		if !errors.IsCode(err, errors.ErrSSH) {
			err = errors.WrapWithCode(err, errors.ErrSSH,
				fmt.Sprintf("Can't connect to '%s'", conn.Alias),
				"Check the host's hostname, port and user")
		}
		return nil, err
	}
	c.conns[conn.Alias] = client
	return client, nil
}

func (c *NativeClient) drop(alias string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.conns[alias]; ok {
		_ = client.Close()
		delete(c.conns, alias)
	}
}

func (c *NativeClient) kill(client sshutil.SSHClient, alias, shellID string) {
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()
	if _, err := client.Run(ctx, killCommand(shellID), nil, nil, nil); err != nil {
		c.log.Warn("[%s] couldn't stop timed out command: %v", alias, err)
	}
}

// Pooled returns the aliases with an open connection.
func (c *NativeClient) Pooled() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.conns))
	for alias := range c.conns {
		out = append(out, alias)
	}
	return out
}

// Close closes every pooled connection.
func (c *NativeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for alias, client := range c.conns {
		_ = client.Close()
		delete(c.conns, alias)
	}
	return nil
}

func alive(client sshutil.SSHClient) bool {
	_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// DialFailure names the likely reason a connection attempt failed.
func DialFailure(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "connection timed out"
	case strings.Contains(msg, "connection refused"):
		return "connection refused"
	case strings.Contains(msg, "no route to host"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "host is down"):
		return "host unreachable"
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods"),
		strings.Contains(msg, "permission denied"):
		return "authentication failed"
	case strings.Contains(msg, "host key"):
		return "host key verification failed"
	default:
		return "unknown error"
	}
}
