package host

import (
	"testing"

	"github.com/rileyhilliard/shipit/internal/config"
	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollection_AddAndGet(t *testing.T) {
	global := config.New(nil)
	c := NewCollection()

	require.NoError(t, c.Add(New("web-2", global)))
	require.NoError(t, c.Add(New("web-1", global)))

	assert.Equal(t, []string{"web-2", "web-1"}, c.Aliases(), "registration order is kept")
	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Has("web-1"))

	h, err := c.Get("web-1")
	require.NoError(t, err)
	assert.Equal(t, "web-1", h.Alias())
}

func TestCollection_DuplicateAlias(t *testing.T) {
	global := config.New(nil)
	c := NewCollection()
	require.NoError(t, c.Add(New("web-1", global)))

	err := c.Add(New("web-1", global))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestCollection_GetUnknownSuggests(t *testing.T) {
	global := config.New(nil)
	c := NewCollection()
	require.NoError(t, c.Add(New("web-1", global)))

	_, err := c.Get("web-l")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Did you mean: web-1")
}

func TestCollection_Select(t *testing.T) {
	c := NewCollection()
	for _, h := range inventory(t) {
		require.NoError(t, c.Add(h))
	}

	hosts, err := c.Select("role=web")
	require.NoError(t, err)
	assert.Equal(t, []string{"web-1", "web-2"}, aliases(hosts))

	_, err = c.Select("role=cache")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	_, err = NewCollection().Select("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No hosts set up yet")
}
