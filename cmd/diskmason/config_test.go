package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	config, err := parseConfig("/no/such/file.toml")
	require.NoError(t, err)
	assert.Equal(t, 4, config.Workers)
	assert.Empty(t, config.ScratchDir)
	assert.False(t, config.PreserveScratch)
	assert.Zero(t, config.MinSlack)
}

func TestParseConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diskmason.toml")
	content := `
workers = 8
scratch_dir = "/var/tmp/diskmason"
preserve_scratch = true
min_slack = 2097152
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	config, err := parseConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, config.Workers)
	assert.Equal(t, "/var/tmp/diskmason", config.ScratchDir)
	assert.True(t, config.PreserveScratch)
	assert.Equal(t, uint64(2097152), config.MinSlack)
}

func TestParseConfigInvalidWorkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diskmason.toml")
	require.NoError(t, os.WriteFile(path, []byte("workers = -1\n"), 0o644))

	_, err := parseConfig(path)
	assert.ErrorContains(t, err, "worker count")
}

func TestParseConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diskmason.toml")
	require.NoError(t, os.WriteFile(path, []byte("workers = {\n"), 0o644))

	_, err := parseConfig(path)
	assert.Error(t, err)
}
