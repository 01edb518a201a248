package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    LogLevel
		expectError bool
	}{
		{name: "debug level", input: "debug", expected: DebugLevel},
		{name: "debug level uppercase", input: "DEBUG", expected: DebugLevel},
		{name: "info level", input: "info", expected: InfoLevel},
		{name: "empty defaults to info", input: "", expected: InfoLevel},
		{name: "warn level", input: "warn", expected: WarnLevel},
		{name: "warning level", input: "warning", expected: WarnLevel},
		{name: "error level", input: "error", expected: ErrorLevel},
		{name: "invalid level returns info with error", input: "invalid", expected: InfoLevel, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLogLevel(tt.input)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, JSONFormat, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, ConsoleFormat, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestLogLevelZapLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, DebugLevel.zapLevel())
	assert.Equal(t, zapcore.InfoLevel, InfoLevel.zapLevel())
	assert.Equal(t, zapcore.WarnLevel, WarnLevel.zapLevel())
	assert.Equal(t, zapcore.ErrorLevel, ErrorLevel.zapLevel())
	assert.Equal(t, zapcore.InfoLevel, LogLevel("bogus").zapLevel())
}

func TestNewLogger(t *testing.T) {
	for _, format := range []Format{ConsoleFormat, JSONFormat} {
		lgr, err := NewLogger(WarnLevel, format)
		require.NoError(t, err)
		assert.False(t, lgr.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, lgr.Core().Enabled(zapcore.WarnLevel))
	}
}

func TestContextRoundTrip(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	lgr := zap.New(core)

	ctx := WithLogger(context.Background(), lgr)
	assert.Same(t, lgr, FromContext(ctx))

	ctx = With(ctx, zap.String("execution_id", "exec-1"))
	FromContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "hello", entry.Message)
	assert.Equal(t, "exec-1", entry.ContextMap()["execution_id"])
}

func TestFromContextFallback(t *testing.T) {
	lgr := FromContext(context.Background())
	require.NotNil(t, lgr)
	assert.True(t, lgr.Core().Enabled(zapcore.InfoLevel))
}

func TestSetupContext(t *testing.T) {
	ctx, err := SetupContext(context.Background(), DebugLevel, JSONFormat)
	require.NoError(t, err)
	assert.True(t, FromContext(ctx).Core().Enabled(zapcore.DebugLevel))
}
