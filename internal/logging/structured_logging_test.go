package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStructuredLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	logger.Info("feed refreshed", "stops", 42)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "feed refreshed", entry["msg"])
	assert.Equal(t, float64(42), entry["stops"])
}

func TestLogErrorIncludesErrorAttr(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	LogError(logger, "ingest failed", errors.New("boom"), slog.String("stop_id", "S1"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "S1", entry["stop_id"])
}

func TestLogErrorNilLoggerDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		LogError(nil, "msg", errors.New("boom"))
	})
}

func TestLoggerContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&buf, slog.LevelInfo)

	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))

	// Missing logger falls back to the default.
	assert.NotNil(t, FromContext(context.Background()))
}
