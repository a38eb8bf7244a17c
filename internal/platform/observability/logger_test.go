package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"orderflow/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestBridgedLoggerWritesServiceFields(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{ServiceName: config.NotificationServiceName, LogLevel: "info"}

	logger := NewBridgedLogger(cfg, zapcore.AddSync(&buf))
	logger.Debug("hidden")
	logger.Info("Notification sent", zap.String("event_type", "order_placed"))
	require.NoError(t, logger.Sync())

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "Notification sent", entries[0]["msg"])
	assert.Equal(t, config.NotificationServiceName, entries[0]["service.name"])
	assert.Equal(t, config.ServiceVersion, entries[0]["service.version"])
	assert.Equal(t, "order_placed", entries[0]["event_type"])
	assert.Contains(t, entries[0], "timestamp")
}

func TestBridgedLoggerLevel(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
	}{
		{level: "debug", wantDebug: true},
		{level: "info", wantDebug: false},
		{level: "nonsense", wantDebug: false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewBridgedLogger(&config.Config{ServiceName: config.OrderServiceName, LogLevel: tt.level}, zapcore.AddSync(&buf))
			logger.Debug("verbose")
			require.NoError(t, logger.Sync())
			assert.Equal(t, tt.wantDebug, strings.Contains(buf.String(), "verbose"))
		})
	}
}
