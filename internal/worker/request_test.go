package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/rileyhilliard/shipit/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_EncodeDecode(t *testing.T) {
	req := Request{
		Task:       "deploy:prepare",
		Host:       "web-1",
		ControlURL: "http://127.0.0.1:4242",
		Recipe:     "shipit.yaml",
		RootTask:   "deploy",
		Overrides:  map[string]string{"branch": "main"},
	}
	s, err := req.Encode()
	require.NoError(t, err)
	assert.Contains(t, s, `"version":1`)

	got, err := DecodeRequest(s)
	require.NoError(t, err)
	req.Version = RequestVersion
	assert.Equal(t, req, got)
	assert.Equal(t, task.Input{Task: "deploy", Overrides: map[string]string{"branch": "main"}}, got.Input())
}

func TestDecodeRequest_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"malformed", "{", "Malformed worker request"},
		{"version", `{"version":2,"task":"a","host":"b","control_url":"c"}`, "version 2, expected 1"},
		{"incomplete", `{"version":1,"task":"a"}`, "missing task, host or control URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(tt.in)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRequestFromEnv(t *testing.T) {
	t.Setenv(RequestEnv, "")
	_, err := RequestFromEnv()
	require.Error(t, err)

	s, err := Request{Task: "a", Host: "b", ControlURL: "c"}.Encode()
	require.NoError(t, err)
	t.Setenv(RequestEnv, s)
	req, err := RequestFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "a", req.Task)
}

type fakeRemote struct {
	global  map[string]any
	host    map[string]any
	loadErr error
	saveErr error

	saved map[string]map[string]any
}

func (r *fakeRemote) Load(_ context.Context, alias string) (map[string]any, map[string]any, error) {
	return r.global, r.host, r.loadErr
}

func (r *fakeRemote) Save(_ context.Context, alias string, values map[string]any) error {
	if r.saved == nil {
		r.saved = map[string]map[string]any{}
	}
	r.saved[alias] = values
	return r.saveErr
}

func TestServe_LoadRunSave(t *testing.T) {
	env := newTestEnv(t, "web-1")
	env.tasks.Add(task.New("release", func(c *task.Context) error {
		name, err := c.GetString("release_name")
		if err != nil {
			return err
		}
		c.Set("release_path", "/srv/app/releases/"+name)
		return nil
	}))
	remote := &fakeRemote{
		global: map[string]any{"application": "app"},
		host:   map[string]any{"release_name": "42"},
	}

	var diag bytes.Buffer
	code := Serve(context.Background(), Request{Task: "release", Host: "web-1"}, env, remote, io.Discard, &diag)

	assert.Equal(t, 0, code, diag.String())
	app, err := env.global.GetString("application", "")
	require.NoError(t, err)
	assert.Equal(t, "app", app)
	assert.Equal(t, "/srv/app/releases/42", remote.saved["web-1"]["release_path"])
	assert.Equal(t, "42", remote.saved["web-1"]["release_name"])
}

func TestServe_LocalTaskUsesLocalhost(t *testing.T) {
	env := newTestEnv(t)
	var ran string
	env.tasks.Add(task.New("build", func(c *task.Context) error {
		ran = c.Host().Alias()
		return nil
	}).SetLocal(true))

	code := Serve(context.Background(), Request{Task: "build", Host: "local"}, env, &fakeRemote{}, io.Discard, io.Discard)
	assert.Equal(t, 0, code)
	assert.Equal(t, "local", ran)
}

func TestServe_Failures(t *testing.T) {
	t.Run("unknown task", func(t *testing.T) {
		env := newTestEnv(t, "web-1")
		var diag bytes.Buffer
		code := Serve(context.Background(), Request{Task: "nope", Host: "web-1"}, env, &fakeRemote{}, io.Discard, &diag)
		assert.Equal(t, 255, code)
		assert.Contains(t, diag.String(), `Task "nope" not found`)
		assert.True(t, strings.HasSuffix(diag.String(), "\n"), "the master's next line starts on its own line")
	})

	t.Run("load error", func(t *testing.T) {
		env := newTestEnv(t, "web-1")
		env.tasks.Add(task.New("a", func(*task.Context) error { return nil }))
		code := Serve(context.Background(), Request{Task: "a", Host: "web-1"}, env,
			&fakeRemote{loadErr: fmt.Errorf("connection refused")}, io.Discard, io.Discard)
		assert.Equal(t, 255, code)
	})

	t.Run("save error fails an otherwise ok run", func(t *testing.T) {
		env := newTestEnv(t, "web-1")
		env.tasks.Add(task.New("a", func(*task.Context) error { return nil }))
		code := Serve(context.Background(), Request{Task: "a", Host: "web-1"}, env,
			&fakeRemote{saveErr: fmt.Errorf("connection reset")}, io.Discard, io.Discard)
		assert.Equal(t, 255, code)
	})

	t.Run("task exit code wins over save error", func(t *testing.T) {
		env := newTestEnv(t, "web-1")
		env.tasks.Add(task.New("a", func(c *task.Context) error { return c.Stop("") }))
		code := Serve(context.Background(), Request{Task: "a", Host: "web-1"}, env,
			&fakeRemote{saveErr: fmt.Errorf("connection reset")}, io.Discard, io.Discard)
		assert.Equal(t, 42, code)
	})
}
