package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-podcast/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewPicksHandler(t *testing.T) {
	var buf bytes.Buffer
	New(config.TelemetryConfig{LogFormat: "auto", LogLevel: "info"}, &buf).Info("hello", slog.String("k", "v"))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "non-terminal writers get json")
	assert.Equal(t, "hello", entry["msg"])

	buf.Reset()
	New(config.TelemetryConfig{LogFormat: "text"}, &buf).Info("hello")
	assert.True(t, strings.Contains(buf.String(), "msg=hello"))

	buf.Reset()
	New(config.TelemetryConfig{LogFormat: "json", LogLevel: "error"}, &buf).Warn("dropped")
	assert.Empty(t, buf.String())
}
