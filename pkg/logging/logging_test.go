package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := FromStrings("info", "json", &buf)
	logger.Debug("hidden")
	logger.Info("script failed", "stage", "build_model", "exit_code", 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "script failed", entry["msg"])
	assert.Equal(t, "build_model", entry["stage"])
	assert.EqualValues(t, 1, entry["exit_code"])
}

func TestTextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Format: ParseFormat("text"), Output: &buf})
	logger.Debug("generating script", "stage", "process_data")
	assert.Contains(t, buf.String(), "stage=process_data")
}

func TestDiscard(t *testing.T) {
	assert.False(t, Discard().Enabled(context.Background(), slog.LevelError))
}
