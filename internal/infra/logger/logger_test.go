package logger

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pintrainer/internal/infra/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), "parseLevel(%q)", tt.input)
	}
}

func TestOpenOutputStreams(t *testing.T) {
	for output, want := range map[string]*os.File{"stdout": os.Stdout, "stderr": os.Stderr, "": os.Stderr} {
		w, closer, err := openOutput(output)
		require.NoError(t, err)
		assert.Equal(t, want, w, "output %q", output)
		assert.NoError(t, closer())
	}
}

func TestOpenOutputFileCreatesDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "trainer.log")

	w, closer, err := openOutput(path)
	require.NoError(t, err)
	_, err = w.Write([]byte("line\n"))
	require.NoError(t, err)
	require.NoError(t, closer())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestNewJSONFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	log, closer, err := New(config.LoggerConfig{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)
	log.Info("filtered")
	log.Warn("pin conflict", "mcu_pin", "PA0")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "pin conflict", entry["msg"])
	assert.Equal(t, "PA0", entry["mcu_pin"])
}

func TestNewInvalidOutput(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, _, err := New(config.LoggerConfig{Output: filepath.Join(blocker, "app.log")})
	assert.Error(t, err)
}

func TestNewForTerminalUI(t *testing.T) {
	log, closer, err := NewForTerminalUI(config.LoggerConfig{Output: "stderr"})
	require.NoError(t, err)
	defer closer()
	assert.NotNil(t, log)

	path := filepath.Join(t.TempDir(), "tui.log")
	log, closer, err = NewForTerminalUI(config.LoggerConfig{Output: path})
	require.NoError(t, err)
	log.Info("wizard started")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "wizard started")
}
