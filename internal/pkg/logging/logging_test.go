package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "json")

	logger.Debug("hidden")
	logger.Info("simulation started", "trip_id", "T1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "simulation started", entry["msg"])
	assert.Equal(t, "T1", entry["trip_id"])
	assert.NotContains(t, entry, "source")
}

func TestNew_TextDebugAddsSource(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "debug", "text").Debug("tick", "trip_id", "T1")

	out := buf.String()
	assert.Contains(t, out, "msg=tick")
	assert.Contains(t, out, "trip_id=T1")
	assert.Contains(t, out, "source=")
}
