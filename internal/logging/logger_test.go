package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevingruber/h5p-cache/internal/config"
)

func TestNewDefaultsToInfo(t *testing.T) {
	restoreGlobalLevel(t)

	New(config.LoggingConfig{Level: "loud", Format: "json"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	New(config.LoggingConfig{Level: "debug", Format: "console"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestNewWritesRotatingFile(t *testing.T) {
	restoreGlobalLevel(t)
	path := filepath.Join(t.TempDir(), "logs", "h5p-cache.log")

	logger := New(config.LoggingConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1})
	logger.Info().Str("content_id", "demo").Msg("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"content_id":"demo"`)
	assert.Contains(t, string(data), `"message":"hello"`)
}

func TestFileOutputFallsBackWhenDirectoryBlocked(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	w, err := fileOutput(config.LoggingConfig{File: filepath.Join(blocker, "sub", "x.log")})
	assert.Error(t, err)
	assert.Nil(t, w)
}

func TestFileOutputDisabled(t *testing.T) {
	w, err := fileOutput(config.LoggingConfig{})
	assert.NoError(t, err)
	assert.Nil(t, w)
}

func restoreGlobalLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })
}
