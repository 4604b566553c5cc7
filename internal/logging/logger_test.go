package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestDetachContextWithTimeoutSurvivesParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	detached, detachedCancel := DetachContextWithTimeout(parent, 50*time.Millisecond)
	defer detachedCancel()

	cancel()
	require.Error(t, parent.Err())
	assert.NoError(t, detached.Err())

	<-detached.Done()
	assert.ErrorIs(t, detached.Err(), context.DeadlineExceeded)
}

func TestNewToWritesServiceField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTo(&buf, "companion", "warn", "json")
	logger.Info().Msg("dropped")
	logger.Warn().Str("component", "memory").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "companion", line["service"])
	assert.Equal(t, "memory", line["component"])
	assert.Equal(t, "kept", line["message"])
}
