package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ankit-chaubey/opus-tag-surgery/core/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "": slog.LevelInfo,
		"warning": slog.LevelWarn, "error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("chatty")
	assert.Error(t, err)
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l, closer, err := New(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	l.Info("dropped")
	l.Warn("tags saved", "path", "/a.opus")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "tags saved", rec["msg"])
	assert.Equal(t, "/a.opus", rec["path"])
}

func TestTextLogger(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := New(config.LogConfig{Level: "debug", Format: "text"}, &buf)
	require.NoError(t, err)
	l.Debug("splice", "delta", 20)
	assert.Contains(t, buf.String(), "msg=splice delta=20")
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "surgery.log")
	l, closer, err := New(config.LogConfig{Level: "info", Format: "text", File: path, MaxSizeMB: 1}, nil)
	require.NoError(t, err)
	l.Info("hello")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "msg=hello")
}

func TestBadFormat(t *testing.T) {
	_, _, err := New(config.LogConfig{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}
