package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var buf bytes.Buffer
	SetupWriter(&buf, level, "json")
	return &buf
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestFromContextCarriesRequestAttrs(t *testing.T) {
	buf := capture(t, "info")
	ctx := WithRequestID(context.Background(), "req-7")
	ctx = WithAttrs(ctx, "key_name", "hoo-desk")
	ctx = WithAttrs(ctx, "roles", "hoo")

	FromContext(ctx).Info("verified", "record_id", "f1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-7", line["request_id"])
	assert.Equal(t, "hoo-desk", line["key_name"])
	assert.Equal(t, "hoo", line["roles"])
	assert.Equal(t, "f1", line["record_id"])
}

func TestSensitiveAttrsAreRedacted(t *testing.T) {
	buf := capture(t, "info")
	slog.Info("lookup", "api_key", "cas_secret", "mobileNumber", "9876543210", "name", "Asha")

	out := buf.String()
	assert.NotContains(t, out, "cas_secret")
	assert.NotContains(t, out, "9876543210")
	assert.Contains(t, out, "Asha")
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	buf := capture(t, "info")
	slog.Debug("noise")
	assert.Empty(t, buf.String())
}
