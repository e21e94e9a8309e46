package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestGetTraceID(t *testing.T) {
	t.Run("上下文中的请求 ID", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "req-123")
		assert.Equal(t, "req-123", GetTraceID(ctx))
	})

	t.Run("活动 span 优先", func(t *testing.T) {
		traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
		ctx := trace.ContextWithSpanContext(WithTraceID(context.Background(), "req-123"), sc)
		assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", GetTraceID(ctx))
	})

	t.Run("空上下文", func(t *testing.T) {
		assert.Empty(t, GetTraceID(context.Background()))
	})
}

func TestWithContext_Uninitialized(t *testing.T) {
	globalLogger = nil
	assert.NotNil(t, WithContext(context.Background()))
}

func TestInit(t *testing.T) {
	t.Cleanup(func() { globalLogger = nil })

	path := filepath.Join(t.TempDir(), "claire.log")
	require.NoError(t, Init("warn", "json", path))

	Info("不会写入")
	WithContext(WithTraceID(context.Background(), "req-9")).Warn("写入")
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "不会写入")
	assert.Contains(t, string(data), `"trace_id":"req-9"`)
	assert.Contains(t, string(data), `"service":"claire-portal"`)
}

func TestInit_BadPath(t *testing.T) {
	assert.Error(t, Init("info", "json", filepath.Join(t.TempDir(), "missing", "x.log")))
}
