package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T, lvl Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(lvl)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := captureLogs(t, LevelWarn)

	Debug("hidden debug")
	Info("hidden info")
	Warn("shown warn", "calendar", "work")
	Error("shown error", errors.New("boom"), "status", 502)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown warn calendar=work")
	assert.Contains(t, out, "[ERROR] shown error err=boom status=502")
}

func TestKVFormatting(t *testing.T) {
	buf := captureLogs(t, LevelDebug)

	Debug("kv", "desc", "team sync", 42, "skipped", "odd")
	line := strings.TrimSpace(buf.String())
	assert.True(t, strings.HasSuffix(line, `[DEBUG] kv desc="team sync"`), line)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LevelDebug, l)

	l, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LevelInfo, l)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestSetupFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agenda.log")
	require.NoError(t, Setup(Options{Level: "info", File: path, MaxSizeMB: 1}))
	t.Cleanup(func() {
		_ = Setup(Options{})
	})

	Info("to file", "k", "v")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[INFO] to file k=v")
}
