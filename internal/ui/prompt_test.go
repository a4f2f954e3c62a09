package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPrompter(t *testing.T) {
	p := DefaultPrompter{}

	s, err := p.Ask("Branch?", "main", []string{"main", "dev"})
	require.NoError(t, err)
	assert.Equal(t, "main", s)

	ok, err := p.AskConfirmation("Continue?", true)
	require.NoError(t, err)
	assert.True(t, ok)

	secret, err := p.AskHiddenResponse("Token?")
	require.NoError(t, err)
	assert.Empty(t, secret)

	choice, err := p.AskChoice("Region?", []string{"eu", "us"}, "us", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"us"}, choice)

	choice, err = p.AskChoice("Region?", []string{"eu", "us"}, "", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"eu"}, choice, "first choice without a default")

	choice, err = p.AskChoice("Region?", nil, "", true)
	require.NoError(t, err)
	assert.Empty(t, choice)
}
