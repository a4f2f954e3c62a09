package task

import (
	"testing"

	"github.com/rileyhilliard/shipit/internal/config"
	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RecordsSource(t *testing.T) {
	tk := New("deploy:update_code", func(*Context) error { return nil })

	assert.Equal(t, "deploy:update_code", tk.Name())
	assert.Regexp(t, `^task_test\.go:\d+$`, tk.Source())
	assert.False(t, tk.IsGroup())
	assert.True(t, tk.Enabled())
}

func TestNewGroup(t *testing.T) {
	g := NewGroup("deploy", "deploy:prepare", "deploy:publish")

	assert.True(t, g.IsGroup())
	assert.Equal(t, []string{"deploy:prepare", "deploy:publish"}, g.Members())
	assert.NoError(t, g.Run(nil), "groups have no body")
}

func TestTask_Setters(t *testing.T) {
	tk := New("migrate", nil).
		Desc("Run migrations").
		SetOnce(true).
		SetLocal(false).
		SetLimit(-3).
		SetShallow(true).
		SetHidden(true).
		SetEnabled(false).
		SetSource("shipit.yaml:12")

	assert.Equal(t, "Run migrations", tk.Description())
	assert.True(t, tk.Once())
	assert.False(t, tk.Local())
	assert.Zero(t, tk.Limit(), "negative limits clamp to zero")
	assert.True(t, tk.Shallow())
	assert.True(t, tk.Hidden())
	assert.False(t, tk.Enabled())
	assert.Equal(t, "shipit.yaml:12", tk.Source())
}

func TestTask_Select(t *testing.T) {
	global := config.New(nil)
	web := host.New("web-1", global).Set(host.KeyLabels, map[string]any{"role": "web"})
	db := host.New("db-1", global).Set(host.KeyLabels, map[string]any{"role": "db"})

	tk := New("cache:clear", nil)
	ok, err := tk.ShouldRun(db)
	require.NoError(t, err)
	assert.True(t, ok, "no selector runs everywhere")

	require.NoError(t, tk.Select("role=web"))
	assert.Equal(t, "role=web", tk.Selector().String())

	ok, err = tk.ShouldRun(web)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = tk.ShouldRun(db)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tk.Select(""))
	assert.Nil(t, tk.Selector())

	err = tk.Select("role=")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestTask_Hooks(t *testing.T) {
	tk := New("deploy", nil).AddBefore("check").AddBefore("lock").AddAfter("unlock")
	assert.Equal(t, []string{"check", "lock"}, tk.BeforeHooks())
	assert.Equal(t, []string{"unlock"}, tk.AfterHooks())
}
