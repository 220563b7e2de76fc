package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 150, cfg.Streaming.FlushThreshold)
	assert.Equal(t, 50*time.Millisecond, cfg.Streaming.FlushInterval)
	assert.Equal(t, 180*time.Second, cfg.Streaming.ToolWait)
	assert.Equal(t, 300*time.Millisecond, cfg.Streaming.ArtifactAttachDelay)
	assert.Equal(t, 10, cfg.Streaming.HistoryWindow)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rfpez.yaml")
	content := []byte("server:\n  port: 9090\nstreaming:\n  flush_threshold: 64\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 64, cfg.Streaming.FlushThreshold)
	// Untouched keys keep defaults.
	assert.Equal(t, 50*time.Millisecond, cfg.Streaming.FlushInterval)
}

func TestValidateRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rfpez.yaml")
	require.NoError(t, os.WriteFile(path, []byte("streaming:\n  flush_threshold: 0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush_threshold")
}
