// Package transport runs commands on hosts: over ssh processes, over an
// in-process ssh client, or on the local machine.
package transport

import (
	"context"
	"io"
	"time"

	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/logger"
)

// Transport names accepted by the host "transport" key.
const (
	NameSSH    = "ssh"
	NameNative = "native"
)

// Options tune a single command.
type Options struct {
	// Cwd is entered before the command runs.
	Cwd string
	// Env is exported before the command runs.
	Env map[string]string
	// Timeout bounds the whole command. Zero disables it.
	Timeout time.Duration
	// IdleTimeout bounds the silence between two output chunks. Zero disables it.
	IdleTimeout time.Duration
	// Become runs the remote shell as another user through sudo.
	Become string
	// Stdout receives output lines of both streams as they arrive.
	Stdout io.Writer
	// NoThrow returns output instead of a RunError on non-zero exit.
	NoThrow bool
}

// Transport is what task bodies use to reach hosts.
type Transport interface {
	Run(ctx context.Context, h *host.Host, command string, opts Options) (string, error)
	RunLocally(ctx context.Context, command string, opts Options) (string, error)
}

// Client picks the implementation per host: the local runner for the local
// pseudo-host, otherwise the host's transport key.
type Client struct {
	SSH    *SSHClient
	Native *NativeClient
	Local  *LocalRunner
	log    logger.Logger
}

// New creates a client with default implementations.
func New(log logger.Logger) *Client {
	if log == nil {
		log = logger.Noop()
	}
	return &Client{
		SSH:    NewSSHClient(log),
		Native: NewNativeClient(log),
		Local:  NewLocalRunner(log),
		log:    log,
	}
}

// Run executes command on h.
func (c *Client) Run(ctx context.Context, h *host.Host, command string, opts Options) (string, error) {
	if h.IsLocal() {
		return c.Local.Run(ctx, command, opts)
	}
	conn, err := h.ConnectionOptions()
	if err != nil {
		return "", err
	}
	if conn.Become != "" && opts.Become == "" {
		opts.Become = conn.Become
	}
	if conn.Transport == NameNative {
		return c.Native.Run(ctx, conn, command, opts)
	}
	return c.SSH.Run(ctx, conn, command, opts)
}

// RunLocally executes command on the machine running shipit.
func (c *Client) RunLocally(ctx context.Context, command string, opts Options) (string, error) {
	return c.Local.Run(ctx, command, opts)
}

// Close releases pooled native connections.
func (c *Client) Close() error {
	return c.Native.Close()
}
