package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timedsend/internal/config"
)

func TestNewLogger_JSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.LogConfig{Level: "warn", Format: "json"}, "dispatch", &buf)

	log.Info().Msg("dropped")
	log.Warn().Str("contact", "+1555").Msg("kept")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "dispatch", entry["service"])
	assert.Equal(t, "+1555", entry["contact"])
	assert.Contains(t, entry, "time")
}

func TestNewLogger_ConsoleDefault(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.LogConfig{}, "supervise", &buf)
	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "INF")
}
