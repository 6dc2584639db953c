package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Console(t *testing.T) {
	log, err := New(LogConfig{Level: "debug", Format: "text"})
	require.NoError(t, err)
	require.NotNil(t, log)

	log.Info("console logger", "key", "value")
	log.Sync()
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	log, err := New(LogConfig{Level: "loud", Format: "json"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(-1), "debug should be disabled")
}

func TestNew_FileOutputRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sentinel.log")

	log, err := New(LogConfig{Level: "info", Format: "json", Output: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Warn("queue corrupt", "path", "/tmp/q.json", "error", errors.New("bad json"))
	log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "queue corrupt")
	assert.Contains(t, string(data), "bad json")
}

func TestConvertFields(t *testing.T) {
	fields := convertFields("a", 1, 2, "ignored-non-string-key", "dangling")
	assert.Len(t, fields, 1)
	assert.Equal(t, "a", fields[0].Key)
}

func TestWith(t *testing.T) {
	log := NewNopLogger().With("component", "queue")
	require.NotNil(t, log)
	log.Debug("noop")
}
