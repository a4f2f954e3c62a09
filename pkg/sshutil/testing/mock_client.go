// Package testing provides test doubles for the sshutil package.
package testing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rileyhilliard/shipit/pkg/sshutil"
)

// Call records one Run or Exec invocation.
type Call struct {
	Command string
	Stdin   string
}

// Response is what the mock writes back for a call.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Error    error
}

// Responder computes the response for a call.
type Responder func(call Call) Response

// MockClient simulates an SSH connection for testing.
type MockClient struct {
	mu        sync.Mutex
	host      string
	address   string
	closed    bool
	alive     bool
	responder Responder

	Calls []Call
}

// NewMockClient creates a mock that answers every call with exit code 0.
func NewMockClient(host string) *MockClient {
	return &MockClient{
		host:    host,
		address: host + ":22",
		alive:   true,
		responder: func(Call) Response {
			return Response{}
		},
	}
}

// OnRun sets the responder used for every subsequent call.
func (m *MockClient) OnRun(r Responder) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = r
	return m
}

// SetAlive controls the answer to keepalive requests.
func (m *MockClient) SetAlive(alive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alive = alive
}

// Exec runs cmd with no stdin.
func (m *MockClient) Exec(cmd string) (stdout, stderr []byte, exitCode int, err error) {
	var out, errOut bytes.Buffer
	code, err := m.Run(context.Background(), cmd, nil, &out, &errOut)
	return out.Bytes(), errOut.Bytes(), code, err
}

// Run records the call and writes the responder's output.
func (m *MockClient) Run(ctx context.Context, cmd string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}

	var in []byte
	if stdin != nil {
		var err error
		if in, err = io.ReadAll(stdin); err != nil {
			return -1, err
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return -1, errors.New("connection closed")
	}
	call := Call{Command: cmd, Stdin: string(in)}
	m.Calls = append(m.Calls, call)
	responder := m.responder
	m.mu.Unlock()

	resp := responder(call)
	if resp.Error != nil {
		return -1, resp.Error
	}
	if stdout != nil {
		_, _ = io.WriteString(stdout, resp.Stdout)
	}
	if stderr != nil {
		_, _ = io.WriteString(stderr, resp.Stderr)
	}
	return resp.ExitCode, nil
}

// SendRequest answers keepalive probes according to SetAlive.
func (m *MockClient) SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.alive {
		return false, nil, errors.New("connection lost")
	}
	return true, nil, nil
}

// Close marks the client closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (m *MockClient) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// CallCount returns the number of recorded calls.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// GetHost returns the host the mock was created for.
func (m *MockClient) GetHost() string { return m.host }

// GetAddress returns host:22.
func (m *MockClient) GetAddress() string { return m.address }

var _ sshutil.SSHClient = (*MockClient)(nil)
