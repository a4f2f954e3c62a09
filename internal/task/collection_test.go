package task

import (
	"testing"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(tasks []*Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Name()
	}
	return out
}

func TestCollection_AddReplacesInPlace(t *testing.T) {
	c := NewCollection()
	c.Add(New("b", nil))
	c.Add(New("a", nil))
	c.Add(New("b", nil).Desc("redefined"))

	assert.Equal(t, []string{"b", "a"}, names(c.All()))
	got, err := c.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "redefined", got.Description())
}

func TestCollection_GetUnknown(t *testing.T) {
	c := NewCollection()
	c.Add(New("deploy", nil))

	_, err := c.Get("deplyo")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
	assert.Contains(t, err.Error(), "Did you mean: deploy?")
}

func TestCollection_Hooks(t *testing.T) {
	c := NewCollection()
	c.Add(New("deploy", nil))

	require.NoError(t, c.Before("deploy", "check"))
	require.NoError(t, c.After("deploy", "notify", "cleanup"))

	d, err := c.Get("deploy")
	require.NoError(t, err)
	assert.Equal(t, []string{"check"}, d.BeforeHooks())
	assert.Equal(t, []string{"notify", "cleanup"}, d.AfterHooks())

	err = c.Before("missing", "check")
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestCollection_Fallback(t *testing.T) {
	c := NewCollection()
	_, ok := c.Fallback("deploy")
	assert.False(t, ok)

	c.Fail("deploy", "deploy:unlock")
	f, ok := c.Fallback("deploy")
	assert.True(t, ok)
	assert.Equal(t, "deploy:unlock", f)
}

func TestCollection_Visible(t *testing.T) {
	c := NewCollection()
	c.Add(New("zeta", nil))
	c.Add(New("internal", nil).SetHidden(true))
	c.Add(New("alpha", nil))

	assert.Equal(t, []string{"alpha", "zeta"}, names(c.Visible()))
}
