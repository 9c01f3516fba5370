package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerTagsService(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "debug"}, "signal-intel", &buf)

	logger.Debug().Str("component", "test").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "signal-intel", entry["service"])
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, "hello", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "not-a-level"}, "", &buf)

	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	logger.Debug().Msg("dropped")
	assert.Zero(t, buf.Len())
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Format: "console"}, "svc", &buf)

	logger.Info().Msg("readable")

	out := buf.String()
	assert.Contains(t, out, "readable")
	assert.Contains(t, out, "service=svc")
}

func TestOutputFor(t *testing.T) {
	assert.Equal(t, os.Stdout, outputFor("STDOUT"))
	assert.Equal(t, os.Stderr, outputFor(""))
	assert.Equal(t, os.Stderr, outputFor("stderr"))
}
