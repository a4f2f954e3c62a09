package sshutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// skipIfNoSSH skips the test unless SHIPIT_TEST_SSH_HOST names a reachable host.
func skipIfNoSSH(t *testing.T) {
	t.Helper()
	if os.Getenv("SHIPIT_TEST_SSH_HOST") == "" {
		t.Skip("Skipping SSH test: SHIPIT_TEST_SSH_HOST not set")
	}
}

func TestDial_Success(t *testing.T) {
	skipIfNoSSH(t)

	host := os.Getenv("SHIPIT_TEST_SSH_HOST")
	client, err := Dial(Target{Host: host}, 10*time.Second)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, host, client.GetHost())
	assert.NotEmpty(t, client.GetAddress())

	stdout, _, code, err := client.Exec("echo hello")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, string(stdout), "hello")

	_, _, code, err = client.Exec("exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestResolveSSHSettings(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(empty, nil, 0600))

	tests := []struct {
		name     string
		target   Target
		hostname string
		port     string
		user     string
	}{
		{name: "simple host", target: Target{Host: "example.com"}, hostname: "example.com", port: "22"},
		{name: "user at host", target: Target{Host: "testuser@example.com"}, hostname: "example.com", port: "22", user: "testuser"},
		{name: "host with port", target: Target{Host: "example.com:2222"}, hostname: "example.com", port: "2222"},
		{name: "full format", target: Target{Host: "admin@server.example.com:2222"}, hostname: "server.example.com", port: "2222", user: "admin"},
		{
			name:     "explicit fields win",
			target:   Target{Host: "web-1", Hostname: "10.0.0.1", Port: 2200, User: "deploy"},
			hostname: "10.0.0.1",
			port:     "2200",
			user:     "deploy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.target.ConfigFile = empty
			settings := resolveSSHSettings(tt.target)

			assert.Equal(t, tt.hostname, settings.hostname)
			assert.Equal(t, tt.port, settings.port)
			if tt.user != "" {
				assert.Equal(t, tt.user, settings.user)
			}
		})
	}
}

func TestResolveSSHSettings_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	content := `Host web-1
  HostName 10.1.1.1
  Port 2022
  User ops
  IdentityFile ~/.ssh/ops_key

Match host *.internal
  User nobody
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	settings := resolveSSHSettings(Target{Host: "web-1", ConfigFile: path})
	assert.Equal(t, "10.1.1.1", settings.hostname)
	assert.Equal(t, "2022", settings.port)
	assert.Equal(t, "ops", settings.user)
	assert.Equal(t, filepath.Join(homeDir(), ".ssh", "ops_key"), settings.identityFile)
	assert.Equal(t, "10.1.1.1:2022", settings.address())

	override := resolveSSHSettings(Target{
		Host:         "web-1",
		ConfigFile:   path,
		Hostname:     "10.9.9.9",
		Port:         2200,
		User:         "deploy",
		IdentityFile: "/keys/id",
	})
	assert.Equal(t, "10.9.9.9", override.hostname)
	assert.Equal(t, "2200", override.port)
	assert.Equal(t, "deploy", override.user)
	assert.Equal(t, "/keys/id", override.identityFile)
	assert.Equal(t, "10.9.9.9:2200", override.address())

	other := resolveSSHSettings(Target{Host: "db-1", ConfigFile: path})
	assert.Equal(t, "db-1", other.hostname, "hosts without an entry keep their alias")
	assert.Equal(t, "22", other.port)
}

// isolateSSH points every ssh lookup at an empty home directory.
func isolateSSH(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SSH_AUTH_SOCK", "")
	t.Setenv("SHIPIT_TEST_SSH_KEY", "")
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".ssh"), 0700))
	return home
}

func TestDial_NoAuthMethods(t *testing.T) {
	home := isolateSSH(t)

	_, err := Dial(Target{Host: "web-1", ConfigFile: filepath.Join(home, ".ssh", "config")}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSSH))
	assert.Contains(t, err.Error(), "No SSH auth methods available")
}

func TestDial_Unreachable(t *testing.T) {
	home := isolateSSH(t)

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(key, "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(home, ".ssh", "id_ed25519"), pem.EncodeToMemory(block), 0600))

	strict := StrictHostKeyChecking
	StrictHostKeyChecking = false
	t.Cleanup(func() { StrictHostKeyChecking = strict })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = Dial(Target{
		Host:       "web-1",
		Hostname:   "127.0.0.1",
		Port:       port,
		ConfigFile: filepath.Join(home, ".ssh", "config"),
	}, 2*time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSSH))
	assert.Contains(t, err.Error(), fmt.Sprintf("Can't reach 'web-1' at 127.0.0.1:%d", port))
}

func TestExpandPath(t *testing.T) {
	home := homeDir()

	assert.Equal(t, home+"/test", expandPath("~/test"))
	assert.Equal(t, "/absolute/path", expandPath("/absolute/path"))
	assert.Equal(t, "relative/path", expandPath("relative/path"))
}

func TestSuggestionForDialError(t *testing.T) {
	tests := []struct {
		errMsg   string
		contains string
	}{
		{"connection refused", "Is SSH running"},
		{"no route to host", "Can't route"},
		{"i/o timeout", "timed out"},
		{"random error", "Make sure the host is reachable"},
	}

	for _, tt := range tests {
		t.Run(tt.errMsg, func(t *testing.T) {
			assert.Contains(t, suggestionForDialError(stringError(tt.errMsg)), tt.contains)
		})
	}
}

func TestSuggestionForHandshakeError(t *testing.T) {
	assert.Contains(t, suggestionForHandshakeError(stringError("unable to authenticate"), nil), "Auth failed")
	assert.Contains(t, suggestionForHandshakeError(stringError("ssh: host key mismatch"), nil), "Host key issue")
	assert.Contains(t, suggestionForHandshakeError(stringError("random"), nil), "Something went wrong")

	encrypted := suggestionForHandshakeError(stringError("unable to authenticate"), []string{"/k/id_rsa"})
	assert.True(t, strings.Contains(encrypted, "/k/id_rsa"))
}

func TestPreprocessSSHConfig_StopsAtMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte("Host a\n  User x\nMatch all\n  User y\n"), 0600))

	content, line, err := preprocessSSHConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, line)
	assert.NotContains(t, string(content), "User y")
}

type stringError string

func (e stringError) Error() string { return string(e) }
