package master

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/rileyhilliard/shipit/internal/engine"
	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

// recordingLauncher stands in for workers. It records start and exit
// order and returns scripted exit codes keyed by "task@alias".
type recordingLauncher struct {
	mu         sync.Mutex
	events     []string
	codes      map[string]int
	delay      time.Duration
	running    int
	maxRunning int
}

func newRecordingLauncher() *recordingLauncher {
	return &recordingLauncher{codes: map[string]int{}}
}

func (l *recordingLauncher) Launch(_ context.Context, job Job, out, diag io.Writer) int {
	key := job.Task.Name() + "@" + job.Host.Alias()

	l.mu.Lock()
	l.events = append(l.events, "start "+key)
	l.running++
	l.maxRunning = max(l.maxRunning, l.running)
	l.mu.Unlock()

	fmt.Fprintf(out, "running %s\n", job.Task.Name())
	time.Sleep(l.delay)

	l.mu.Lock()
	l.running--
	l.events = append(l.events, "exit "+key)
	code := l.codes[key]
	l.mu.Unlock()
	return code
}

func (l *recordingLauncher) started() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if k, ok := strings.CutPrefix(e, "start "); ok {
			out = append(out, k)
		}
	}
	return out
}

func (l *recordingLauncher) position(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.events {
		if e == event {
			return i
		}
	}
	return -1
}

func noop(*task.Context) error { return nil }

// newEngine registers hosts web-1..web-n.
func newEngine(n int) *engine.Engine {
	e := engine.New(nil, nil)
	for i := 1; i <= n; i++ {
		e.Host(fmt.Sprintf("web-%d", i))
	}
	return e
}

func TestEffectiveLimit(t *testing.T) {
	tests := []struct {
		global, task, want int
	}{
		{0, 0, 0},
		{0, 3, 3},
		{4, 0, 4},
		{4, 2, 2},
		{2, 4, 2},
		{-1, -1, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.global, tt.task), func(t *testing.T) {
			assert.Equal(t, tt.want, EffectiveLimit(tt.global, tt.task))
		})
	}
}

func TestChunk(t *testing.T) {
	hosts := newEngine(5).Hosts().All()

	aliases := func(chunks [][]*host.Host) [][]string {
		var out [][]string
		for _, c := range chunks {
			var names []string
			for _, h := range c {
				names = append(names, h.Alias())
			}
			out = append(out, names)
		}
		return out
	}

	assert.Equal(t, [][]string{{"web-1", "web-2"}, {"web-3", "web-4"}, {"web-5"}}, aliases(Chunk(hosts, 2)))
	assert.Equal(t, [][]string{{"web-1", "web-2", "web-3", "web-4", "web-5"}}, aliases(Chunk(hosts, 0)))
	assert.Len(t, Chunk(hosts, 10), 1)
	assert.Nil(t, Chunk(nil, 2))
}

func TestAggregate(t *testing.T) {
	assert.Equal(t, 0, Aggregate([]int{0, 0, 0}))
	assert.Equal(t, 7, Aggregate([]int{0, 7, 0}))
	assert.Equal(t, 3, Aggregate([]int{3, 7, 42}))
	assert.Equal(t, 0, Aggregate(nil))
}

func TestHostSet(t *testing.T) {
	e := newEngine(3)
	e.Host("web-2").Set(host.KeyLabels, map[string]any{"role": "db"})
	m := New(e, newRecordingLauncher(), io.Discard, Options{})
	hosts := e.Hosts().All()

	alias := func(set []*host.Host) []string {
		var out []string
		for _, h := range set {
			out = append(out, h.Alias())
		}
		return out
	}

	all := task.New("all", noop)
	set, err := m.HostSet(all, hosts)
	require.NoError(t, err)
	assert.Equal(t, []string{"web-1", "web-2", "web-3"}, alias(set))

	db := task.New("db", noop)
	require.NoError(t, db.Select("role=db"))
	set, err = m.HostSet(db, hosts)
	require.NoError(t, err)
	assert.Equal(t, []string{"web-2"}, alias(set))

	once := task.New("once", noop).SetOnce(true)
	set, err = m.HostSet(once, hosts)
	require.NoError(t, err)
	assert.Equal(t, []string{"web-1"}, alias(set))

	local := task.New("build", noop).SetLocal(true)
	set, err = m.HostSet(local, hosts)
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, alias(set))
}

func TestRun_LimitChunksHosts(t *testing.T) {
	e := newEngine(5)
	e.Task("deploy", noop)
	l := newRecordingLauncher()
	l.delay = 20 * time.Millisecond

	m := New(e, l, io.Discard, Options{Limit: 2})
	code, err := m.Run(context.Background(), "deploy", e.Hosts().All())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	assert.Equal(t, 2, l.maxRunning)
	assert.ElementsMatch(t, []string{"deploy@web-1", "deploy@web-2", "deploy@web-3", "deploy@web-4", "deploy@web-5"}, l.started())

	chunks := [][]string{{"web-1", "web-2"}, {"web-3", "web-4"}, {"web-5"}}
	for i := 1; i < len(chunks); i++ {
		for _, prev := range chunks[i-1] {
			for _, next := range chunks[i] {
				assert.Less(t, l.position("exit deploy@"+prev), l.position("start deploy@"+next),
					"%s must finish before %s starts", prev, next)
			}
		}
	}
}

func TestRun_TaskLimitNarrowsGlobal(t *testing.T) {
	e := newEngine(4)
	e.Task("migrate", noop).SetLimit(1)
	l := newRecordingLauncher()
	l.delay = 5 * time.Millisecond

	code, err := New(e, l, io.Discard, Options{Limit: 3}).Run(context.Background(), "migrate", e.Hosts().All())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, 1, l.maxRunning)
	assert.Equal(t, []string{"migrate@web-1", "migrate@web-2", "migrate@web-3", "migrate@web-4"}, l.started())
}

func TestRun_AggregatesFirstFailureInHostOrder(t *testing.T) {
	e := newEngine(3)
	e.Task("deploy:code", noop)
	e.Task("deploy:symlink", noop)
	e.Group("deploy", "deploy:code", "deploy:symlink")

	l := newRecordingLauncher()
	l.codes["deploy:code@web-2"] = 7
	l.codes["deploy:code@web-3"] = 9

	m := New(e, l, io.Discard, Options{})
	code, err := m.Run(context.Background(), "deploy", e.Hosts().All())
	require.NoError(t, err)
	assert.Equal(t, 7, code)

	started := l.started()
	assert.ElementsMatch(t, []string{"deploy:code@web-1", "deploy:code@web-2", "deploy:code@web-3"}, started,
		"a failing host does not stop its siblings, and the next task never starts")
	assert.Equal(t, StateAggregated, m.State("deploy:code", "web-3"))
	assert.Equal(t, StatePending, m.State("deploy:symlink", "web-1"))
}

func TestRun_SoftStopHaltsWithoutFallback(t *testing.T) {
	e := newEngine(2)
	e.Task("check", noop)
	e.Task("deploy:code", noop)
	e.Task("deploy:unlock", noop)
	e.Group("deploy", "check", "deploy:code")
	e.Fail("deploy", "deploy:unlock")

	l := newRecordingLauncher()
	l.codes["check@web-1"] = 42

	code, err := New(e, l, io.Discard, Options{}).Run(context.Background(), "deploy", e.Hosts().All())
	require.NoError(t, err)
	assert.Equal(t, 42, code)
	assert.ElementsMatch(t, []string{"check@web-1", "check@web-2"}, l.started())
}

func TestRun_FailureRunsFallbackOnce(t *testing.T) {
	e := newEngine(2)
	e.Task("deploy:code", noop)
	e.Task("deploy:unlock", noop)
	e.Group("deploy", "deploy:code")
	e.Fail("deploy", "deploy:unlock")

	l := newRecordingLauncher()
	l.codes["deploy:code@web-1"] = 3
	l.codes["deploy:unlock@web-2"] = 1

	var out bytes.Buffer
	code, err := New(e, l, &out, Options{}).Run(context.Background(), "deploy", e.Hosts().All())
	require.NoError(t, err)
	assert.Equal(t, 3, code, "the original failure code is returned, not the fallback's")
	assert.ElementsMatch(t,
		[]string{"deploy:code@web-1", "deploy:code@web-2", "deploy:unlock@web-1", "deploy:unlock@web-2"},
		l.started())
	assert.Contains(t, out.String(), "Running fallback deploy:unlock")
}

func TestRun_ConfigErrorsAbortBeforeHostWork(t *testing.T) {
	e := newEngine(1)
	e.Task("deploy", noop)
	l := newRecordingLauncher()

	m := New(e, l, io.Discard, Options{Schedule: task.ScheduleOptions{StartFrom: "missing"}})
	code, err := m.Run(context.Background(), "deploy", e.Hosts().All())
	require.Error(t, err)
	assert.Equal(t, 255, code)
	assert.Empty(t, l.started())

	_, err = New(e, l, io.Discard, Options{}).Run(context.Background(), "nope", e.Hosts().All())
	require.Error(t, err)
}

func TestRun_OutputIsTaggedAndBannered(t *testing.T) {
	e := newEngine(2)
	e.Task("deploy", noop)
	e.Task("quiet", noop).SetShallow(true)
	e.Group("all", "deploy", "quiet")

	var out bytes.Buffer
	code, err := New(e, newRecordingLauncher(), &out, Options{}).Run(context.Background(), "all", e.Hosts().All())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	text := out.String()
	assert.Contains(t, text, "task deploy\n")
	assert.NotContains(t, text, "task quiet")
	assert.Contains(t, text, "[web-1] running deploy\n")
	assert.Contains(t, text, "[web-2] running quiet\n")
}

func TestRun_SkipsTasksWithoutHosts(t *testing.T) {
	e := newEngine(1)
	db := e.Task("migrate", noop)
	require.NoError(t, db.Select("role=db"))
	e.Task("deploy", noop)
	e.Group("all", "migrate", "deploy")

	l := newRecordingLauncher()
	var out bytes.Buffer
	code, err := New(e, l, &out, Options{}).Run(context.Background(), "all", e.Hosts().All())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, []string{"deploy@web-1"}, l.started())
	assert.Contains(t, out.String(), "migrate has no matching hosts")
}

func TestRun_CancelledContext(t *testing.T) {
	e := newEngine(1)
	e.Task("deploy", noop)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, err := New(e, newRecordingLauncher(), io.Discard, Options{}).Run(ctx, "deploy", e.Hosts().All())
	require.Error(t, err)
	assert.Equal(t, 255, code)
	assert.True(t, errors.IsCode(err, errors.ErrExec))
	assert.Contains(t, err.Error(), "Run cancelled")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlan(t *testing.T) {
	e := newEngine(2)
	e.Host("db-1").Set(host.KeyLabels, map[string]any{"role": "db"})
	migrate := e.Task("migrate", noop)
	require.NoError(t, migrate.Select("role=db"))
	e.Task("build", noop).SetLocal(true)
	e.Task("vendors", noop).SetEnabled(false)
	e.Task("code", noop)
	e.Group("deploy", "build", "vendors", "code", "migrate")

	l := newRecordingLauncher()
	plan, err := New(e, l, io.Discard, Options{}).Plan("deploy", e.Hosts().All())
	require.NoError(t, err)

	assert.Contains(t, plan, "vendors disabled")
	header := strings.Split(plan, "\n")[1]
	for _, alias := range []string{"web-1", "web-2", "db-1", "local"} {
		assert.Contains(t, header, alias)
	}
	assert.Equal(t, 1, strings.Count(plan, "build"))
	assert.Equal(t, 3, strings.Count(plan, "code"))
	assert.Equal(t, 1, strings.Count(plan, "migrate"))
	assert.Empty(t, l.started(), "planning runs nothing")
}
