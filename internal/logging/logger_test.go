package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf, true)

	logger.Info().Str("scan_id", "abc").Msg("scan started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "abc", entry["scan_id"])
	assert.Equal(t, "scan started", entry["message"])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(WarnLevel, &buf, true)

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestNew_UnknownLevelDefaultsToWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LogLevel("verbose"), &buf, true)

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
}
