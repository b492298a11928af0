//go:build !windows

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/internal/config"
)

func TestParseInputs(t *testing.T) {
	values, err := parseInputs([]string{"env=prod", "msg=hello world", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"env":   "prod",
		"msg":   "hello world",
		"empty": "",
	}, values)

	values, err = parseInputs(nil)
	require.NoError(t, err)
	assert.Nil(t, values)

	_, err = parseInputs([]string{"noequals"})
	assert.Error(t, err)
	_, err = parseInputs([]string{"=value"})
	assert.Error(t, err)
}

func TestKeyMapFromConfig(t *testing.T) {
	km, err := keyMapFromConfig(config.KeysConfig{})
	require.NoError(t, err)
	assert.Equal(t, byte(0x10), km.Prefix)
	assert.Equal(t, byte('b'), km.Detach)

	km, err = keyMapFromConfig(config.KeysConfig{
		Prefix: "ctrl+a",
		Kill:   "x",
	})
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), km.Prefix)
	assert.Equal(t, byte('x'), km.Kill)
	// Unset bindings keep their defaults.
	assert.Equal(t, byte('q'), km.GlobalDetach)

	_, err = keyMapFromConfig(config.KeysConfig{Prefix: "meta+p"})
	assert.Error(t, err)
}
