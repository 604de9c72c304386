package main

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itchdl/shared/config"
)

func TestParseArgs_OnlySetFlagsOverride(t *testing.T) {
	opts, err := parseArgs([]string{"-parallel", "8", "-mirror-web", "-s3-bucket", "games", "https://itch.io/jam/gmtk-2023"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "https://itch.io/jam/gmtk-2023", opts.input)

	cfg := config.DefaultConfig()
	cfg.Itch.APIKey = "from-config"
	cfg.Download.Dir = "/srv/games"
	opts.apply(cfg)

	assert.Equal(t, 8, cfg.Download.Parallel)
	assert.True(t, cfg.Download.SavePage)
	assert.Equal(t, "games", cfg.Storage.S3.Bucket)
	assert.Equal(t, "from-config", cfg.Itch.APIKey, "unset flags keep the loaded value")
	assert.Equal(t, "/srv/games", cfg.Download.Dir)
}

func TestParseArgs_Verbose(t *testing.T) {
	opts, err := parseArgs([]string{"-verbose", "list.txt"}, io.Discard)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	opts.apply(cfg)
	assert.True(t, cfg.IsVerbose())
}

func TestParseArgs_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no input", []string{"-parallel", "2"}},
		{"two inputs", []string{"a.txt", "b.txt"}},
		{"unknown flag", []string{"-nope", "a.txt"}},
		{"bad int", []string{"-parallel", "many", "a.txt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(tt.args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfiguration_RequiresAPIKey(t *testing.T) {
	t.Setenv("ITCHDL_API_KEY", "")
	dir := t.TempDir()

	opts, err := parseArgs([]string{"-config-dir", dir, "https://a.itch.io/b"}, io.Discard)
	require.NoError(t, err)
	_, err = loadConfiguration(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")

	opts, err = parseArgs([]string{"-config-dir", dir, "-urls-only", "https://a.itch.io/b"}, io.Discard)
	require.NoError(t, err)
	cfg, err := loadConfiguration(opts)
	require.NoError(t, err)
	assert.True(t, cfg.Download.URLsOnly)
}
