package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LubyRuffy/gemb2o/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gemb2o.log")
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "json", File: path})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("account demoted", zap.Int("account", 2))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "account demoted", entry["msg"])
	require.Equal(t, "warn", entry["level"])
	require.EqualValues(t, 2, entry["account"])
	require.Contains(t, entry, "time")
}

func TestNew_AppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gemb2o.log")
	require.NoError(t, os.WriteFile(path, []byte("previous\n"), 0o600))

	logger, err := New(config.LoggingConfig{Level: "info", Format: "text", File: path})
	require.NoError(t, err)
	logger.Info("started")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "previous\n"))
	require.Contains(t, string(data), "INFO")
	require.Contains(t, string(data), "started")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"":      zapcore.InfoLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, want := range cases {
		got, err := parseLevel(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := New(config.LoggingConfig{Level: "trace"})
	require.Error(t, err)
}
